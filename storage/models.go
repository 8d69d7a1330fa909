package storage

import (
	"fmt"
	"net"
	"strings"
)

// RecordType is the DNS type name a row-set is stored under.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeNS    RecordType = "NS"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeSRV   RecordType = "SRV"
	TypePTR   RecordType = "PTR"
	TypeCAA   RecordType = "CAA"
	TypeSOA   RecordType = "SOA"
	TypeNAPTR RecordType = "NAPTR"
	TypeANY   RecordType = "ANY"

	// TypeANAME is an apex alias flattened into A/AAAA answers. It has no
	// wire representation of its own.
	TypeANAME RecordType = "ANAME"
)

// AnyTypes are the row-sets consulted for an ANY question.
var AnyTypes = []RecordType{
	TypeA, TypeAAAA, TypeANAME, TypeCNAME, TypeMX,
	TypeTXT, TypeSRV, TypeNS, TypePTR, TypeCAA,
}

// NameserverKey is the reserved store key holding the nameserver list.
const NameserverKey = "nameserver"

// ParseType normalizes a type name.
func ParseType(s string) RecordType {
	return RecordType(strings.ToUpper(strings.TrimSpace(s)))
}

// Record is a decoded row.
type Record struct {
	Name     string
	Type     RecordType
	TTL      uint32
	Priority uint16
	Data     Payload
}

// IsWildcard reports whether r is a wildcard-suffix record (name starting
// with ".").
func (r Record) IsWildcard() bool {
	return strings.HasPrefix(r.Name, ".")
}

// Payload is the type specific part of a record. Payloads are immutable once
// decoded.
type Payload interface {
	// Value is the primary scalar value: address, target or first chunk.
	Value() string
	// Key identifies the payload for deduplication.
	Key() string
}

// Address is the payload of A and AAAA records and of ANAME records whose
// data is an address literal.
type Address struct {
	IP net.IP
}

func (a Address) Value() string { return a.IP.String() }
func (a Address) Key() string   { return a.IP.String() }

// IsIPv4 reports whether the address is an IPv4 address.
func (a Address) IsIPv4() bool { return a.IP.To4() != nil }

// Host is a single target name: CNAME, NS, PTR, MX exchange, ANAME target.
type Host struct {
	Name string
}

func (h Host) Value() string { return h.Name }
func (h Host) Key() string   { return h.Name }

// Text is a TXT payload.
type Text struct {
	Chunks []string
}

func (t Text) Value() string {
	if len(t.Chunks) == 0 {
		return ""
	}
	return t.Chunks[0]
}

func (t Text) Key() string { return strings.Join(t.Chunks, "\x00") }

// Service is an SRV payload. Priority lives on the record envelope.
type Service struct {
	Weight uint16
	Port   uint16
	Target string
}

func (s Service) Value() string { return s.Target }
func (s Service) Key() string   { return fmt.Sprintf("%d %d %s", s.Weight, s.Port, s.Target) }

// Authorization is a CAA payload.
type Authorization struct {
	Flag    uint8
	Tag     string
	Content string
}

func (a Authorization) Value() string { return a.Content }
func (a Authorization) Key() string   { return fmt.Sprintf("%d %s %s", a.Flag, a.Tag, a.Content) }

// NameserverRecord is an entry of the global nameserver list, with the glue
// address for that nameserver.
type NameserverRecord struct {
	Name    string
	TTL     uint32
	Address net.IP
}

// SOARecord is the start of authority for a domain. Primary always comes
// from the first nameserver list entry.
type SOARecord struct {
	Name       string
	TTL        uint32
	Primary    string
	Admin      string
	Serial     uint32
	Refresh    uint32
	Retry      uint32
	Expiration uint32
	Minimum    uint32
}

// SOADefaults fill SOA fields that neither a stored SOA row nor the
// nameserver row used as synthetic source provide.
type SOADefaults struct {
	Admin      string
	Serial     uint32
	Refresh    uint32
	Retry      uint32
	Expiration uint32
	Minimum    uint32
}

// DefaultSOA returns the built-in SOA defaults.
func DefaultSOA() SOADefaults {
	return SOADefaults{
		Admin:      "hostmaster",
		Serial:     1,
		Refresh:    3600,
		Retry:      600,
		Expiration: 604800,
		Minimum:    60,
	}
}
