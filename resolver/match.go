package resolver

import (
	"net"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/scott/kvdns/storage"
)

// Match picks the candidates answering questions. Exact-name candidates are
// tried first; a question with no exact match falls back to wildcard-suffix
// candidates, which are renamed to the question name. Questions reached
// through alias chains are matched after the original ones. The returned
// answers have RealType set to their wire type and are deduplicated, first
// seen wins.
func Match(questions []Question, candidates []ZoneAnswer) []ZoneAnswer {
	var exact, wildcard []ZoneAnswer
	for _, c := range candidates {
		if strings.HasPrefix(c.Name, ".") {
			wildcard = append(wildcard, c)
		} else {
			exact = append(exact, c)
		}
	}
	byLength := func(s []ZoneAnswer) {
		sort.SliceStable(s, func(i, j int) bool { return len(s[i].Name) > len(s[j].Name) })
	}
	byLength(exact)
	byLength(wildcard)

	seen := make(map[string]struct{})
	var out []ZoneAnswer
	emit := func(q Question, c ZoneAnswer) bool {
		t, ok := testType(q, c)
		if !ok {
			return false
		}
		c.RealType = t
		c, ok = shape(c)
		if !ok {
			return false
		}
		key := c.Name + "|" + string(t) + "|" + c.Data.Key()
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			out = append(out, c)
		}
		return true
	}

	for _, q := range allQuestions(questions, candidates) {
		matched := false
		for _, c := range exact {
			if c.Name == q.Name && emit(q, c) {
				matched = true
			}
		}
		if matched {
			continue
		}
		for _, c := range wildcard {
			if c.Name == "." || strings.HasSuffix(q.Name, c.Name) {
				c.Name = q.Name
				emit(q, c)
			}
		}
	}
	return out
}

// allQuestions appends the chained questions recorded on candidates to the
// original ones, without duplicates.
func allQuestions(questions []Question, candidates []ZoneAnswer) []Question {
	type qkey struct {
		name string
		t    storage.RecordType
	}
	seen := make(map[qkey]struct{}, len(questions))
	out := make([]Question, 0, len(questions))
	add := func(q Question) {
		k := qkey{q.Name, q.Type}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	for _, q := range questions {
		add(q)
	}
	for _, c := range candidates {
		if c.Question.Name != "" {
			add(c.Question)
		}
	}
	return out
}

// testType returns the wire type c is emitted as for q, if c answers q.
func testType(q Question, c ZoneAnswer) (storage.RecordType, bool) {
	switch {
	case q.Type == storage.TypeANY:
		if c.Type != storage.TypeANAME {
			return c.Type, true
		}
		if c.RealType != "" {
			return c.RealType, true
		}
		addr, ok := c.Data.(storage.Address)
		if !ok {
			return "", false
		}
		if addr.IsIPv4() {
			return storage.TypeA, true
		}
		return storage.TypeAAAA, true

	case c.Type == storage.TypeANAME && (q.Type == storage.TypeA || q.Type == storage.TypeAAAA):
		if c.RealType != "" {
			return q.Type, c.RealType == q.Type
		}
		addr, ok := c.Data.(storage.Address)
		if !ok || addr.IsIPv4() != (q.Type == storage.TypeA) {
			return "", false
		}
		return q.Type, true

	case c.Type == q.Type:
		return c.Type, true

	case c.Type == storage.TypeCNAME && q.Type != storage.TypeCNAME:
		return storage.TypeCNAME, true
	}
	return "", false
}

// shape fits the payload to the wire type.
func shape(c ZoneAnswer) (ZoneAnswer, bool) {
	switch c.RealType {
	case storage.TypeCNAME:
		target := ""
		switch p := c.Data.(type) {
		case storage.Host:
			return c, p.Name != ""
		case storage.Text:
			if len(p.Chunks) > 0 {
				target = p.Chunks[0]
			}
		case nil:
		default:
			target = p.Value()
		}
		if target == "" {
			log.WithField("name", c.Name).Warn("dropping CNAME without target")
			return c, false
		}
		c.Data = storage.Host{Name: target}
	case storage.TypeTXT:
		txt, ok := c.Data.(storage.Text)
		if !ok && c.Data != nil {
			txt = storage.Text{Chunks: []string{c.Data.Value()}}
		}
		if c.Data != nil {
			c.Data = storage.Text{Chunks: splitChunks(txt.Chunks)}
		}
	case storage.TypeA, storage.TypeAAAA:
		if _, ok := c.Data.(storage.Address); !ok && c.Data != nil {
			ip := net.ParseIP(c.Data.Value())
			if ip == nil {
				return c, false
			}
			c.Data = storage.Address{IP: ip}
		}
	}
	return c, c.Data != nil && c.Data.Value() != ""
}

// MaxTXTChunk is the longest character-string a TXT record can carry.
const MaxTXTChunk = 255

// splitChunks cuts every chunk longer than MaxTXTChunk into consecutive
// pieces of at most MaxTXTChunk bytes.
func splitChunks(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		for len(chunk) > MaxTXTChunk {
			out = append(out, chunk[:MaxTXTChunk])
			chunk = chunk[MaxTXTChunk:]
		}
		out = append(out, chunk)
	}
	return out
}
