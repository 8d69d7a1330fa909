// Package resolver turns DNS questions into candidate answers from the record
// store and picks the ones that answer each question.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/scott/kvdns/storage"
)

// DefaultMaxChainHops bounds CNAME and ANAME following.
const DefaultMaxChainHops = 8

// Question is a single lookup, with the name already lowercased.
type Question struct {
	Name   string
	Type   storage.RecordType
	Class  uint16
	Source string
}

// NewQuestion normalizes name for lookups.
func NewQuestion(name string, t storage.RecordType, class uint16, source string) Question {
	name = strings.ToLower(name)
	if name != "." {
		name = strings.TrimSuffix(name, ".")
	}
	return Question{Name: name, Type: t, Class: class, Source: source}
}

// ZoneAnswer is a candidate answer before wire encoding.
type ZoneAnswer struct {
	// Question is the (possibly chained) question the record was found for.
	Question Question
	Name     string
	Type     storage.RecordType
	Zone     string
	TTL      uint32
	Priority uint16
	Data     storage.Payload
	// RealType overrides Type on the wire when set.
	RealType storage.RecordType
}

// WireType returns the type the answer is encoded as.
func (a ZoneAnswer) WireType() storage.RecordType {
	if a.RealType != "" {
		return a.RealType
	}
	return a.Type
}

// RecordSource is implemented by storage.Store.
type RecordSource interface {
	GetRecords(ctx context.Context, host string, t storage.RecordType) ([]storage.Record, error)
}

// Options configures a Resolver.
type Options struct {
	MaxChainHops int
}

// Resolver resolves questions against a RecordSource.
type Resolver struct {
	source  RecordSource
	maxHops int
}

// New creates a Resolver.
func New(source RecordSource, opts Options) *Resolver {
	if opts.MaxChainHops <= 0 {
		opts.MaxChainHops = DefaultMaxChainHops
	}
	return &Resolver{source: source, maxHops: opts.MaxChainHops}
}

// Resolve returns the candidate answers for q, following CNAME chains when
// the name has no records of the asked type, and ANAME aliases for address
// questions after that.
func (r *Resolver) Resolve(ctx context.Context, q Question) ([]ZoneAnswer, error) {
	return r.resolve(ctx, q, 0)
}

// ResolveAll resolves every question concurrently. Results are concatenated
// in question order; questions that fail contribute nothing.
func (r *Resolver) ResolveAll(ctx context.Context, questions []Question) []ZoneAnswer {
	results := make([][]ZoneAnswer, len(questions))
	var g errgroup.Group
	for i, q := range questions {
		g.Go(func() error {
			ans, err := r.resolve(ctx, q, 0)
			if err != nil {
				log.WithFields(log.Fields{"name": q.Name, "type": q.Type}).Debugf("unresolved: %v", err)
				return nil
			}
			results[i] = ans
			return nil
		})
	}
	_ = g.Wait()

	var out []ZoneAnswer
	for _, ans := range results {
		out = append(out, ans...)
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, q Question, hops int) ([]ZoneAnswer, error) {
	if hops > r.maxHops {
		return nil, fmt.Errorf("%w: %s after %d hops", ErrChainTooLong, q.Name, r.maxHops)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Type == storage.TypeANY {
		return r.resolveAny(ctx, q, hops)
	}

	records, err := r.source.GetRecords(ctx, q.Name, q.Type)
	if err == nil {
		return answersFor(q, records), nil
	}
	err = asNotFound(err)
	if !errors.Is(err, storage.ErrNotFound) || q.Type == storage.TypeCNAME {
		return nil, err
	}

	answers, err := r.followCNAME(ctx, q, hops)
	if err == nil || errors.Is(err, ErrChainTooLong) {
		return answers, err
	}
	if q.Type == storage.TypeA || q.Type == storage.TypeAAAA {
		if flattened, aerr := r.followANAME(ctx, q, hops); aerr == nil {
			return flattened, nil
		} else if errors.Is(aerr, ErrChainTooLong) {
			return nil, aerr
		}
	}
	return nil, err
}

// resolveAny collects every served type at the name. CNAMEs are not
// followed; ANAMEs are flattened to A.
func (r *Resolver) resolveAny(ctx context.Context, q Question, hops int) ([]ZoneAnswer, error) {
	results := make([][]ZoneAnswer, len(storage.AnyTypes))
	var g errgroup.Group
	for i, t := range storage.AnyTypes {
		g.Go(func() error {
			sub := q
			sub.Type = t
			if t == storage.TypeANAME {
				results[i] = r.flattenAny(ctx, q, hops)
				return nil
			}
			records, err := r.source.GetRecords(ctx, q.Name, t)
			if err != nil {
				return nil
			}
			results[i] = answersFor(sub, records)
			return nil
		})
	}
	_ = g.Wait()

	var out []ZoneAnswer
	for _, ans := range results {
		out = append(out, ans...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s ANY", storage.ErrNotFound, q.Name)
	}
	return out, nil
}

// flattenAny flattens the ANAME row-set at q.Name for an ANY question. The
// addresses keep q as their question.
func (r *Resolver) flattenAny(ctx context.Context, q Question, hops int) []ZoneAnswer {
	sub := q
	sub.Type = storage.TypeA
	answers, err := r.followANAME(ctx, sub, hops)
	if err != nil {
		return nil
	}
	for i := range answers {
		answers[i].Question = q
	}
	return answers
}

// followCNAME emits each CNAME at q.Name followed by the resolution of its
// target. A CNAME whose target does not resolve is still emitted.
func (r *Resolver) followCNAME(ctx context.Context, q Question, hops int) ([]ZoneAnswer, error) {
	records, err := r.source.GetRecords(ctx, q.Name, storage.TypeCNAME)
	if err != nil {
		return nil, asNotFound(err)
	}

	results := make([][]ZoneAnswer, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		target := rec.Data.Value()
		if target == "" {
			continue
		}
		cname := answerFor(q, rec)
		g.Go(func() error {
			next := Question{Name: target, Type: q.Type, Class: q.Class, Source: q.Source}
			chained, err := r.resolve(gctx, next, hops+1)
			if err != nil && (errors.Is(err, ErrChainTooLong) || !errors.Is(err, storage.ErrNotFound)) {
				return err
			}
			results[i] = append([]ZoneAnswer{cname}, chained...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ZoneAnswer
	for _, ans := range results {
		out = append(out, ans...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s CNAME without target", storage.ErrNotFound, q.Name)
	}
	return out, nil
}

// followANAME flattens the ANAME row-set at q.Name into address candidates
// owned by the alias.
func (r *Resolver) followANAME(ctx context.Context, q Question, hops int) ([]ZoneAnswer, error) {
	records, err := r.source.GetRecords(ctx, q.Name, storage.TypeANAME)
	if err != nil {
		return nil, asNotFound(err)
	}

	results := make([][]ZoneAnswer, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		alias := answerFor(q, rec)
		if _, ok := rec.Data.(storage.Address); ok {
			results[i] = []ZoneAnswer{alias}
			continue
		}
		g.Go(func() error {
			next := Question{Name: rec.Data.Value(), Type: q.Type, Class: q.Class, Source: q.Source}
			targets, err := r.resolve(gctx, next, hops+1)
			if err != nil {
				if errors.Is(err, ErrChainTooLong) {
					return err
				}
				return nil
			}
			for _, t := range targets {
				addr, ok := t.Data.(storage.Address)
				if !ok || addr.IsIPv4() != (q.Type == storage.TypeA) {
					continue
				}
				flat := alias
				flat.Data = addr
				flat.RealType = q.Type
				flat.TTL = minTTL(alias.TTL, t.TTL)
				results[i] = append(results[i], flat)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ZoneAnswer
	for _, ans := range results {
		out = append(out, ans...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s ANAME has no addresses", storage.ErrNotFound, q.Name)
	}
	return out, nil
}

func answersFor(q Question, records []storage.Record) []ZoneAnswer {
	out := make([]ZoneAnswer, 0, len(records))
	for _, rec := range records {
		if rec.Data == nil || rec.Data.Value() == "" {
			continue
		}
		out = append(out, answerFor(q, rec))
	}
	return out
}

func answerFor(q Question, rec storage.Record) ZoneAnswer {
	return ZoneAnswer{
		Question: q,
		Name:     rec.Name,
		Type:     rec.Type,
		Zone:     RegistrableDomain(q.Name),
		TTL:      rec.TTL,
		Priority: rec.Priority,
		Data:     rec.Data,
	}
}

// minTTL treats zero as unset.
func minTTL(a, b uint32) uint32 {
	switch {
	case a == 0:
		return b
	case b == 0 || a < b:
		return a
	default:
		return b
	}
}
