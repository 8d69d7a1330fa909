// Package querylog implements DNS query logging with outcome filtering.
package querylog

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

// Config holds query logging configuration.
type Config struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	LogSuccess  bool `mapstructure:"log_success" yaml:"log_success"`   // answered queries
	LogNegative bool `mapstructure:"log_negative" yaml:"log_negative"` // SOA-only or NXDOMAIN answers
	LogErrors   bool `mapstructure:"log_errors" yaml:"log_errors"`     // FORMERR, BADVERS, SERVFAIL, ...
	// MaxEntries bounds the in-memory history.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// DefaultConfig returns the defaults for query logging.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		LogSuccess:  true,
		LogNegative: true,
		LogErrors:   true,
		MaxEntries:  10000,
	}
}

// Outcome classifies a response.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNegative Outcome = "negative"
	OutcomeError    Outcome = "error"
)

// Classify returns the outcome of response.
func Classify(response *dns.Msg) Outcome {
	switch {
	case response.Rcode == dns.RcodeNameError:
		return OutcomeNegative
	case response.Rcode != dns.RcodeSuccess:
		return OutcomeError
	case IsNegative(response):
		return OutcomeNegative
	}
	return OutcomeSuccess
}

// IsNegative reports whether the answer section holds nothing but an SOA.
func IsNegative(response *dns.Msg) bool {
	if len(response.Answer) == 0 {
		return true
	}
	if len(response.Question) > 0 && response.Question[0].Qtype == dns.TypeSOA {
		return false
	}
	for _, rr := range response.Answer {
		if _, ok := rr.(*dns.SOA); !ok {
			return false
		}
	}
	return true
}

// Entry represents a single query log entry.
type Entry struct {
	Time       time.Time `json:"time"`
	ClientIP   string    `json:"client_ip"`
	QName      string    `json:"qname"`
	QType      string    `json:"qtype"`
	Rcode      string    `json:"rcode"`
	Outcome    Outcome   `json:"outcome"`
	ResponseMS float64   `json:"response_ms"`
	Answers    int       `json:"answers"`
}

// Logger logs queries and keeps the most recent ones in memory.
type Logger struct {
	config Config
	ring   []Entry
	next   int
	full   bool
	mu     sync.RWMutex
}

// New creates a query logger.
func New(cfg Config) *Logger {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &Logger{
		config: cfg,
		ring:   make([]Entry, cfg.MaxEntries),
	}
}

// Log records a query if it passes the configured filters.
func (l *Logger) Log(clientIP string, r *dns.Msg, response *dns.Msg, duration time.Duration) {
	if l == nil || !l.config.Enabled || r == nil || response == nil || len(r.Question) == 0 {
		return
	}

	outcome := Classify(response)
	switch outcome {
	case OutcomeSuccess:
		if !l.config.LogSuccess {
			return
		}
	case OutcomeNegative:
		if !l.config.LogNegative {
			return
		}
	default:
		if !l.config.LogErrors {
			return
		}
	}

	q := r.Question[0]
	entry := Entry{
		Time:       time.Now(),
		ClientIP:   clientIP,
		QName:      q.Name,
		QType:      dns.TypeToString[q.Qtype],
		Rcode:      dns.RcodeToString[response.Rcode],
		Outcome:    outcome,
		ResponseMS: float64(duration.Microseconds()) / 1000.0,
		Answers:    len(response.Answer),
	}

	log.WithFields(log.Fields{
		"client":  entry.ClientIP,
		"qname":   entry.QName,
		"qtype":   entry.QType,
		"rcode":   entry.Rcode,
		"outcome": entry.Outcome,
		"answers": entry.Answers,
		"ms":      entry.ResponseMS,
	}).Info("query")

	l.mu.Lock()
	l.ring[l.next] = entry
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Config returns the logger configuration.
func (l *Logger) Config() Config {
	return l.config
}

// GetEntries returns up to limit recent entries, newest first, optionally
// filtered by query type and outcome.
func (l *Logger) GetEntries(limit int, qtype string, outcome Outcome) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	n := l.next
	if l.full {
		n = len(l.ring)
	}
	for i := 0; i < n && len(result) < limit; i++ {
		idx := (l.next - 1 - i + len(l.ring)) % len(l.ring)
		entry := l.ring[idx]
		if qtype != "" && entry.QType != qtype {
			continue
		}
		if outcome != "" && entry.Outcome != outcome {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// Stats returns query statistics.
type Stats struct {
	TotalQueries  int             `json:"total_queries"`
	ByQType       map[string]int  `json:"by_qtype"`
	ByOutcome     map[Outcome]int `json:"by_outcome"`
	AvgResponseMS float64         `json:"avg_response_ms"`
}

// GetStats returns aggregated statistics from logged queries.
func (l *Logger) GetStats() Stats {
	entries := l.GetEntries(len(l.ring), "", "")
	stats := Stats{
		TotalQueries: len(entries),
		ByQType:      make(map[string]int),
		ByOutcome:    make(map[Outcome]int),
	}
	var totalMS float64
	for _, entry := range entries {
		stats.ByQType[entry.QType]++
		stats.ByOutcome[entry.Outcome]++
		totalMS += entry.ResponseMS
	}
	if stats.TotalQueries > 0 {
		stats.AvgResponseMS = totalMS / float64(stats.TotalQueries)
	}
	return stats
}

// Clear removes all log entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = make([]Entry, len(l.ring))
	l.next = 0
	l.full = false
}

// Handler serves recent entries as JSON. Query parameters: limit, qtype,
// outcome.
func (l *Logger) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		entries := l.GetEntries(limit, r.URL.Query().Get("qtype"), Outcome(r.URL.Query().Get("outcome")))
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"entries": entries,
			"stats":   l.GetStats(),
		}); err != nil {
			log.Debugf("writing query log response: %v", err)
		}
	})
}
