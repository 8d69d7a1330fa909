package cache

import "strings"

// MaxLabels bounds how many trailing labels of a hostname take part in
// wildcard key generation.
const MaxLabels = 6

// GlobalWildcard is the least specific lookup key.
const GlobalWildcard = "*"

// LookupKeys returns the store keys consulted for hostname, most specific
// first: the hostname itself, then "*."+suffix for every shorter suffix of
// its last MaxLabels labels, then GlobalWildcard. Only the wildcard keys are
// capped: the exact key stays the full hostname however many labels it has,
// so a long name still finds its own row-set.
func LookupKeys(hostname string) []string {
	parts := strings.Split(hostname, ".")
	keys := make([]string, 0, MaxLabels+1)
	keys = append(keys, hostname)

	// Abusive names only get wildcard keys for their last labels
	for len(parts) > MaxLabels {
		parts = parts[1:]
	}
	for len(parts) > 1 {
		parts = parts[1:]
		keys = append(keys, "*."+strings.Join(parts, "."))
	}

	return append(keys, GlobalWildcard)
}
