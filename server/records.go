package server

import (
	"net"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"github.com/scott/kvdns/resolver"
	"github.com/scott/kvdns/storage"
)

const (
	// DefaultTTL is used for rows stored without a TTL.
	DefaultTTL = 600
	// DefaultPriority is used for MX rows stored without a priority.
	DefaultPriority = 10
	// LocalhostTTL is the TTL of synthetic loopback answers.
	LocalhostTTL = 43200
)

func ttlOrDefault(ttl uint32) uint32 {
	if ttl == 0 {
		return DefaultTTL
	}
	return ttl
}

func header(name string, rrtype uint16, ttl uint32) dns.RR_Header {
	return dns.RR_Header{Name: dns.Fqdn(name), Rrtype: rrtype, Class: dns.ClassINET, Ttl: ttlOrDefault(ttl)}
}

// toRR encodes a matched answer. It returns nil for payloads that do not fit
// the wire type.
func toRR(a resolver.ZoneAnswer) dns.RR {
	t := a.WireType()
	switch t {
	case storage.TypeA, storage.TypeAAAA:
		addr, ok := a.Data.(storage.Address)
		if !ok {
			break
		}
		if t == storage.TypeA {
			if ip := addr.IP.To4(); ip != nil {
				return &dns.A{Hdr: header(a.Name, dns.TypeA, a.TTL), A: ip}
			}
			break
		}
		if addr.IP.To4() == nil {
			return &dns.AAAA{Hdr: header(a.Name, dns.TypeAAAA, a.TTL), AAAA: addr.IP}
		}
	case storage.TypeCNAME:
		return &dns.CNAME{Hdr: header(a.Name, dns.TypeCNAME, a.TTL), Target: dns.Fqdn(a.Data.Value())}
	case storage.TypeNS:
		return &dns.NS{Hdr: header(a.Name, dns.TypeNS, a.TTL), Ns: dns.Fqdn(a.Data.Value())}
	case storage.TypePTR:
		return &dns.PTR{Hdr: header(a.Name, dns.TypePTR, a.TTL), Ptr: dns.Fqdn(a.Data.Value())}
	case storage.TypeMX:
		pref := a.Priority
		if pref == 0 {
			pref = DefaultPriority
		}
		return &dns.MX{Hdr: header(a.Name, dns.TypeMX, a.TTL), Preference: pref, Mx: dns.Fqdn(a.Data.Value())}
	case storage.TypeTXT:
		if txt, ok := a.Data.(storage.Text); ok {
			return &dns.TXT{Hdr: header(a.Name, dns.TypeTXT, a.TTL), Txt: append([]string(nil), txt.Chunks...)}
		}
	case storage.TypeSRV:
		if srv, ok := a.Data.(storage.Service); ok {
			return &dns.SRV{
				Hdr:      header(a.Name, dns.TypeSRV, a.TTL),
				Priority: a.Priority,
				Weight:   srv.Weight,
				Port:     srv.Port,
				Target:   dns.Fqdn(srv.Target),
			}
		}
	case storage.TypeCAA:
		if caa, ok := a.Data.(storage.Authorization); ok {
			return &dns.CAA{Hdr: header(a.Name, dns.TypeCAA, a.TTL), Flag: caa.Flag, Tag: caa.Tag, Value: caa.Content}
		}
	}
	log.WithFields(log.Fields{"name": a.Name, "type": t}).Debug("answer does not fit its wire type")
	return nil
}

func soaRR(soa storage.SOARecord) *dns.SOA {
	return &dns.SOA{
		Hdr:     header(soa.Name, dns.TypeSOA, soa.TTL),
		Ns:      dns.Fqdn(soa.Primary),
		Mbox:    dns.Fqdn(soa.Admin),
		Serial:  soa.Serial,
		Refresh: soa.Refresh,
		Retry:   soa.Retry,
		Expire:  soa.Expiration,
		Minttl:  soa.Minimum,
	}
}

// nsRRs returns NS records for name, one per nameserver, and their glue.
func nsRRs(name string, nameservers []storage.NameserverRecord) (ns []dns.RR, glue []dns.RR) {
	for _, n := range nameservers {
		ns = append(ns, &dns.NS{Hdr: header(name, dns.TypeNS, n.TTL), Ns: dns.Fqdn(n.Name)})
		if ip := n.Address.To4(); ip != nil {
			glue = append(glue, &dns.A{Hdr: header(n.Name, dns.TypeA, n.TTL), A: ip})
		} else {
			glue = append(glue, &dns.AAAA{Hdr: header(n.Name, dns.TypeAAAA, n.TTL), AAAA: n.Address})
		}
	}
	return ns, glue
}

func loopbackRR(name string, qtype uint16) dns.RR {
	hdr := dns.RR_Header{Name: name, Rrtype: qtype, Class: dns.ClassINET, Ttl: LocalhostTTL}
	if qtype == dns.TypeAAAA {
		return &dns.AAAA{Hdr: hdr, AAAA: net.IPv6loopback}
	}
	return &dns.A{Hdr: hdr, A: net.IPv4(127, 0, 0, 1).To4()}
}
