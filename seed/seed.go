// Package seed loads record files into a storage backend.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/scott/kvdns/storage"
)

// File is the content of a seed file. Records maps a key to its row-sets by
// type name; SOA maps a domain to its SOA row.
//
//	nameservers:
//	  - {name: ns1.example.net, address: 192.0.2.53, ttl: 3600}
//	soa:
//	  example.com: {admin: hostmaster, serial: 2024010101}
//	records:
//	  www.example.com:
//	    A:
//	      - {ttl: 300, data: 192.0.2.10}
type File struct {
	Nameservers []storage.Row                       `yaml:"nameservers,omitempty"`
	SOA         map[string]storage.Row              `yaml:"soa,omitempty"`
	Records     map[string]map[string][]storage.Row `yaml:"records,omitempty"`
}

// RowSet is everything stored under one key and type.
type RowSet struct {
	Key  string
	Type storage.RecordType
	Rows []storage.Row
}

// Add appends row to the row-set of key and t.
func (f *File) Add(key string, t storage.RecordType, row storage.Row) {
	if f.Records == nil {
		f.Records = make(map[string]map[string][]storage.Row)
	}
	key = normalizeKey(key)
	if f.Records[key] == nil {
		f.Records[key] = make(map[string][]storage.Row)
	}
	f.Records[key][string(t)] = append(f.Records[key][string(t)], row)
}

// RowSets flattens f, sorted by key and type. Nameservers and SOA rows come
// out as the row-sets the store reads them from.
func (f *File) RowSets() ([]RowSet, error) {
	var sets []RowSet
	if len(f.Nameservers) > 0 {
		sets = append(sets, RowSet{Key: storage.NameserverKey, Type: storage.TypeNS, Rows: f.Nameservers})
	}
	for domain, row := range f.SOA {
		sets = append(sets, RowSet{Key: normalizeKey(domain), Type: storage.TypeSOA, Rows: []storage.Row{row}})
	}
	for key, byType := range f.Records {
		for name, rows := range byType {
			t := storage.ParseType(name)
			if t == storage.TypeANY || t == "" {
				return nil, fmt.Errorf("record %s: invalid type %q", key, name)
			}
			sets = append(sets, RowSet{Key: normalizeKey(key), Type: t, Rows: rows})
		}
	}
	sort.Slice(sets, func(i, j int) bool {
		if sets[i].Key != sets[j].Key {
			return sets[i].Key < sets[j].Key
		}
		return sets[i].Type < sets[j].Type
	})
	for i := 1; i < len(sets); i++ {
		if sets[i].Key == sets[i-1].Key && sets[i].Type == sets[i-1].Type {
			return nil, fmt.Errorf("record %s: duplicate %s row-set", sets[i].Key, sets[i].Type)
		}
	}
	return sets, nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "*" || key == "." {
		return "*"
	}
	return strings.TrimSuffix(key, ".")
}

// Parse decodes a YAML seed file.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &f, nil
}

// Load reads and parses the YAML seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Stats summarise one import.
type Stats struct {
	RowSets int
	Rows    int
}

// Importer writes seed files through a storage.Writer.
type Importer struct {
	writer storage.Writer
	codec  storage.Codec
}

// NewImporter returns an importer encoding rows with codec.
func NewImporter(w storage.Writer, codec storage.Codec) *Importer {
	return &Importer{writer: w, codec: codec}
}

// Import replaces every row-set named in f. Row-sets absent from f are left
// alone.
func (im *Importer) Import(ctx context.Context, f *File) (Stats, error) {
	var stats Stats
	sets, err := f.RowSets()
	if err != nil {
		return stats, err
	}
	for _, set := range sets {
		raw := make([][]byte, 0, len(set.Rows))
		for _, row := range set.Rows {
			b, err := im.codec.Marshal(row)
			if err != nil {
				return stats, fmt.Errorf("encoding %s %s: %w", set.Key, set.Type, err)
			}
			raw = append(raw, b)
		}
		if err := im.writer.Replace(ctx, set.Key, set.Type, raw); err != nil {
			return stats, err
		}
		log.WithFields(log.Fields{"key": set.Key, "type": set.Type, "rows": len(raw)}).Debug("imported row-set")
		stats.RowSets++
		stats.Rows += len(raw)
	}
	return stats, nil
}
