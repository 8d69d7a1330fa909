package resolver

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the public suffix plus one label of name, e.g.
// example.co.uk for www.example.co.uk. A leading wildcard label is ignored.
// Names that have no registrable part, such as a bare suffix, are returned
// as is.
func RegistrableDomain(name string) string {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	name = strings.TrimPrefix(name, "*.")
	if name == "" || name == "*" {
		return "."
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return domain
}
