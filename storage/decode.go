package storage

import (
	"fmt"
	"net"
	"strings"
)

// NameForKey returns the record name implied by a lookup key: the key itself
// for exact keys, ".suffix" for "*.suffix" and "." for the global wildcard.
func NameForKey(key string) string {
	switch {
	case key == "*":
		return "."
	case strings.HasPrefix(key, "*."):
		return key[1:]
	default:
		return key
	}
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "." {
		return name
	}
	return strings.TrimSuffix(name, ".")
}

// DecodeRecord turns a row read from key into a typed Record.
func DecodeRecord(key string, t RecordType, r Row) (Record, error) {
	rec := Record{
		Name:     normalizeName(r.Name),
		Type:     t,
		TTL:      r.TTL,
		Priority: r.Priority,
	}
	if rec.Name == "" {
		rec.Name = NameForKey(key)
	}
	if len(r.Data) == 0 {
		return rec, fmt.Errorf("%w: %s %s has no data", ErrDecode, rec.Name, t)
	}
	first := strings.TrimSpace(r.Data[0])

	switch t {
	case TypeA, TypeAAAA:
		ip := net.ParseIP(first)
		if ip == nil {
			return rec, fmt.Errorf("%w: %s %s: bad address %q", ErrDecode, rec.Name, t, first)
		}
		if (ip.To4() != nil) != (t == TypeA) {
			return rec, fmt.Errorf("%w: %s %s: wrong address family %q", ErrDecode, rec.Name, t, first)
		}
		rec.Data = Address{IP: ip}
	case TypeANAME:
		if ip := net.ParseIP(first); ip != nil {
			rec.Data = Address{IP: ip}
		} else {
			rec.Data = Host{Name: normalizeName(first)}
		}
	case TypeCNAME, TypeNS, TypePTR, TypeMX:
		rec.Data = Host{Name: normalizeName(first)}
	case TypeTXT:
		rec.Data = Text{Chunks: append([]string(nil), r.Data...)}
	case TypeSRV:
		rec.Data = Service{Weight: r.Weight, Port: r.Port, Target: normalizeName(first)}
	case TypeCAA:
		if r.Tag == "" {
			return rec, fmt.Errorf("%w: %s CAA without tag", ErrDecode, rec.Name)
		}
		rec.Data = Authorization{Flag: r.Flag, Tag: r.Tag, Content: first}
	default:
		return rec, fmt.Errorf("%w: unsupported type %q", ErrDecode, t)
	}
	if rec.Data.Value() == "" {
		return rec, fmt.Errorf("%w: %s %s has empty data", ErrDecode, rec.Name, t)
	}
	return rec, nil
}

// EncodeRecord is the inverse of DecodeRecord.
func EncodeRecord(rec Record) (Row, error) {
	r := Row{Name: rec.Name, TTL: rec.TTL, Priority: rec.Priority}
	switch p := rec.Data.(type) {
	case Address:
		r.Data = Chunks{p.IP.String()}
	case Host:
		r.Data = Chunks{p.Name}
	case Text:
		r.Data = append(Chunks(nil), p.Chunks...)
	case Service:
		r.Weight, r.Port = p.Weight, p.Port
		r.Data = Chunks{p.Target}
	case Authorization:
		r.Flag, r.Tag = p.Flag, p.Tag
		r.Data = Chunks{p.Content}
	default:
		return r, fmt.Errorf("%w: %s %s has no payload", ErrDecode, rec.Name, rec.Type)
	}
	return r, nil
}

// DecodeNameserver turns a row of the nameserver list into glue information.
// The address comes from the address field, or the first data chunk.
func DecodeNameserver(r Row) (NameserverRecord, error) {
	ns := NameserverRecord{Name: normalizeName(r.Name), TTL: r.TTL}
	if ns.Name == "" {
		return ns, fmt.Errorf("%w: nameserver without name", ErrDecode)
	}
	addr := strings.TrimSpace(r.Address)
	if addr == "" && len(r.Data) > 0 {
		addr = strings.TrimSpace(r.Data[0])
	}
	ns.Address = net.ParseIP(addr)
	if ns.Address == nil {
		return ns, fmt.Errorf("%w: nameserver %s: bad address %q", ErrDecode, ns.Name, addr)
	}
	return ns, nil
}

// DecodeSOA builds an SOA for domain out of r, taking unset fields from
// defaults. Primary is left for the caller.
func DecodeSOA(domain string, r Row, defaults SOADefaults) SOARecord {
	soa := SOARecord{
		Name:       domain,
		TTL:        r.TTL,
		Admin:      r.Admin,
		Serial:     r.Serial,
		Refresh:    r.Refresh,
		Retry:      r.Retry,
		Expiration: r.Expiration,
		Minimum:    r.Minimum,
	}
	if soa.Admin == "" {
		soa.Admin = defaults.Admin
	}
	soa.Admin = normalizeName(soa.Admin)
	if !strings.Contains(soa.Admin, ".") && domain != "" && domain != "." {
		soa.Admin += "." + domain
	}
	if soa.Serial == 0 {
		soa.Serial = defaults.Serial
	}
	if soa.Refresh == 0 {
		soa.Refresh = defaults.Refresh
	}
	if soa.Retry == 0 {
		soa.Retry = defaults.Retry
	}
	if soa.Expiration == 0 {
		soa.Expiration = defaults.Expiration
	}
	if soa.Minimum == 0 {
		soa.Minimum = defaults.Minimum
	}
	if soa.TTL == 0 {
		soa.TTL = soa.Minimum
	}
	return soa
}
