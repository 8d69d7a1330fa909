// Package server answers DNS queries from the record store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"github.com/scott/kvdns/config"
	"github.com/scott/kvdns/logging"
	"github.com/scott/kvdns/querylog"
	"github.com/scott/kvdns/resolver"
	"github.com/scott/kvdns/rrl"
	"github.com/scott/kvdns/storage"
)

// Store is the read side of storage.Store.
type Store interface {
	resolver.RecordSource
	GetNameservers(ctx context.Context) ([]storage.NameserverRecord, error)
	GetSOA(ctx context.Context, domain string) (storage.SOARecord, error)
}

// Metrics receives per response observations.
type Metrics interface {
	IncQuery(qtype, rcode string)
	RecordResponseTime(d time.Duration)
	IncNegative()
	IncRateLimit(action string)
}

// Options configures a Server. Store is required.
type Options struct {
	Config      config.ServerConfig
	Store       Store
	Resolver    *resolver.Resolver
	RateLimiter *rrl.Limiter
	QueryLog    *querylog.Logger
	Metrics     Metrics
}

// Server represents the DNS server
type Server struct {
	config   config.ServerConfig
	store    Store
	resolver *resolver.Resolver
	rrl      *rrl.Limiter     // Response Rate Limiter
	querylog *querylog.Logger // Query Logger
	metrics  Metrics
	handlers map[uint16]handlerFunc
}

// request is the per query state shared by handlers.
type request struct {
	question  dns.Question
	lname     string // lowercased question name, fully qualified
	questions []resolver.Question
}

type handlerFunc func(ctx context.Context, m *dns.Msg, req *request)

// New creates a new DNS server
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(opts.Store, resolver.Options{})
	}
	if opts.Config.RequestTimeout <= 0 {
		opts.Config.RequestTimeout = config.DefaultConfig().Server.RequestTimeout
	}
	s := &Server{
		config:   opts.Config,
		store:    opts.Store,
		resolver: opts.Resolver,
		rrl:      opts.RateLimiter,
		querylog: opts.QueryLog,
		metrics:  opts.Metrics,
	}
	s.handlers = map[uint16]handlerFunc{
		dns.TypeSOA:   s.handleSOA,
		dns.TypeNAPTR: s.handleNAPTR,
		dns.TypeNS:    s.handleNS,
		dns.TypeA:     s.handleAddress,
		dns.TypeAAAA:  s.handleAddress,
		dns.TypeANY:   s.handleANY,
	}
	return s, nil
}

// GetRRL returns the rate limiter for external access
func (s *Server) GetRRL() *rrl.Limiter {
	return s.rrl
}

// GetQueryLog returns the query logger for external access
func (s *Server) GetQueryLog() *querylog.Logger {
	return s.querylog
}

// ServeDNS implements the dns.Handler interface
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()

	// Extract client IP for RRL and logging
	var clientIP net.IP
	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		clientIP = addr.IP
	case *net.TCPAddr:
		clientIP = addr.IP
	}
	clientIPStr := ""
	if clientIP != nil {
		clientIPStr = clientIP.String()
	}

	if s.rrl != nil {
		action := s.rrl.Check(clientIP)
		if s.metrics != nil && s.rrl.Config().Enabled {
			s.metrics.IncRateLimit(action.String())
		}
		switch action {
		case rrl.Refuse:
			return
		case rrl.Slip:
			// truncated reply makes the client retry over TCP
			m := new(dns.Msg)
			m.SetReply(r)
			m.Authoritative = true
			m.Truncated = true
			if err := w.WriteMsg(m); err != nil {
				log.Debugf("writing truncated response: %v", err)
			}
			return
		}
	}

	ctx := logging.WithRequest(context.Background(), logging.Request{ID: r.Id, Client: clientIPStr})
	m := s.Respond(ctx, r, clientIPStr)
	if err := w.WriteMsg(m); err != nil {
		log.WithContext(ctx).Warnf("writing response, answering SERVFAIL: %v", err)
		m = failure(r)
		if err := w.WriteMsg(m); err != nil {
			log.WithContext(ctx).Debugf("writing SERVFAIL: %v", err)
		}
	}

	elapsed := time.Since(startTime)
	if s.metrics != nil {
		qtype := ""
		if len(r.Question) > 0 {
			qtype = dns.TypeToString[r.Question[0].Qtype]
		}
		s.metrics.IncQuery(qtype, dns.RcodeToString[m.Rcode])
		s.metrics.RecordResponseTime(elapsed)
	}
	s.querylog.Log(clientIPStr, r, m, elapsed)
}

// failure is the empty SERVFAIL sent when the real response cannot be written.
func failure(r *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(r, dns.RcodeServerFailure)
	m.Authoritative = true
	return m
}

// Respond builds the response to r. It never fails; problems show up as the
// response code or as an SOA-only answer.
func (s *Server) Respond(ctx context.Context, r *dns.Msg, source string) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	// This is THE authority
	m.Authoritative = true

	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		return m
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	q := r.Question[0]
	req := &request{
		question: q,
		lname:    strings.ToLower(dns.Fqdn(q.Name)),
	}
	for _, rq := range r.Question {
		req.questions = append(req.questions, resolver.NewQuestion(rq.Name, qtypeName(rq.Qtype), rq.Qclass, source))
	}
	log.WithContext(ctx).WithFields(log.Fields{"name": req.lname, "type": dns.TypeToString[q.Qtype]}).Debug("query")

	handler, ok := s.handlers[q.Qtype]
	if !ok {
		handler = s.handleGeneric
	}
	handler(ctx, m, req)

	validateEDNS(r, m)

	if len(m.Answer) == 0 {
		if soa, err := s.store.GetSOA(ctx, resolver.RegistrableDomain(req.lname)); err == nil {
			m.Answer = append(m.Answer, soaRR(soa))
			if s.metrics != nil {
				s.metrics.IncNegative()
			}
		} else {
			log.WithContext(ctx).Debugf("no SOA for negative answer: %v", err)
		}
	}

	restoreCase(m, req.lname, dns.Fqdn(q.Name))
	return m
}

func (s *Server) handleSOA(ctx context.Context, m *dns.Msg, req *request) {
	soa, err := s.store.GetSOA(ctx, resolver.RegistrableDomain(req.lname))
	if err != nil {
		log.WithContext(ctx).Debugf("SOA lookup: %v", err)
		return
	}
	m.Answer = append(m.Answer, soaRR(soa))
	s.addNameservers(ctx, m, req)
}

func (s *Server) handleNAPTR(ctx context.Context, m *dns.Msg, req *request) {
	soa, err := s.store.GetSOA(ctx, resolver.RegistrableDomain(req.lname))
	if err != nil {
		log.WithContext(ctx).Debugf("SOA lookup: %v", err)
		return
	}
	m.Ns = append(m.Ns, &dns.NAPTR{
		Hdr:         header(req.lname, dns.TypeNAPTR, soa.TTL),
		Flags:       "aa qr rd",
		Replacement: ".",
	})
	m.Answer = append(m.Answer, soaRR(soa))
}

func (s *Server) handleNS(ctx context.Context, m *dns.Msg, req *request) {
	s.addNameservers(ctx, m, req)
}

func (s *Server) handleAddress(ctx context.Context, m *dns.Msg, req *request) {
	if isLocal(req.lname) {
		m.Answer = append(m.Answer, loopbackRR(req.lname, req.question.Qtype))
		return
	}
	s.handleGeneric(ctx, m, req)
}

func (s *Server) handleANY(ctx context.Context, m *dns.Msg, req *request) {
	s.addNameservers(ctx, m, req)
	s.handleGeneric(ctx, m, req)
}

// handleGeneric resolves every question and emits the matching records.
func (s *Server) handleGeneric(ctx context.Context, m *dns.Msg, req *request) {
	candidates := s.resolver.ResolveAll(ctx, req.questions)
	for _, a := range resolver.Match(req.questions, candidates) {
		if rr := toRR(a); rr != nil {
			m.Answer = append(m.Answer, rr)
		}
	}
}

func (s *Server) addNameservers(ctx context.Context, m *dns.Msg, req *request) {
	nameservers, err := s.store.GetNameservers(ctx)
	if err != nil {
		log.WithContext(ctx).Debugf("nameserver lookup: %v", err)
		return
	}
	ns, glue := nsRRs(req.lname, nameservers)
	m.Answer = append(m.Answer, ns...)
	m.Extra = append(m.Extra, glue...)
}

// validateEDNS sets the response code from the OPT records of r and
// advertises EDNS version 0 when the client used EDNS.
func validateEDNS(r, m *dns.Msg) {
	var opts []*dns.OPT
	for _, rr := range r.Extra {
		if opt, ok := rr.(*dns.OPT); ok {
			opts = append(opts, opt)
		}
	}
	if len(opts) == 0 {
		return
	}

	switch {
	case len(opts) > 1:
		m.Rcode = dns.RcodeFormatError
	case opts[0].Version() != 0:
		m.Rcode = dns.RcodeBadVers
	default:
		m.Rcode = dns.RcodeSuccess
	}

	size := opts[0].UDPSize()
	if size < dns.MinMsgSize {
		size = dns.MinMsgSize
	}
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetVersion(0)
	opt.SetUDPSize(size)
	m.Extra = append(m.Extra, opt)
}

// restoreCase writes the question's original spelling back into every owner
// name that contains the lowercased form.
func restoreCase(m *dns.Msg, lname, wname string) {
	if lname == wname {
		return
	}
	for _, section := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range section {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			hdr := rr.Header()
			hdr.Name = strings.Replace(hdr.Name, lname, wname, 1)
		}
	}
}

// isLocal reports whether name is localhost or under the local or localhost
// pseudo domains.
func isLocal(name string) bool {
	name = strings.TrimSuffix(name, ".")
	label := name[strings.LastIndex(name, ".")+1:]
	return label == "localhost" || label == "local"
}

func qtypeName(qtype uint16) storage.RecordType {
	return storage.RecordType(dns.Type(qtype).String())
}

// Run starts the configured listeners and serves until ctx is canceled or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	servers := s.listeners()
	if len(servers) == 0 {
		return errors.New("server: no listener enabled, set server.tcp or server.udp")
	}

	errCh := make(chan error, len(servers))
	started := make([]chan struct{}, len(servers))
	done := make([]chan struct{}, len(servers))
	for i, srv := range servers {
		started[i] = make(chan struct{})
		done[i] = make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started[i]) }
		go func() {
			defer close(done[i])
			log.Infof("Starting %s DNS server on %s", srv.Net, srv.Addr)
			if err := srv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("%s %s: %w", srv.Net, srv.Addr, err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Errorf("DNS listener failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, srv := range servers {
		// a listener that has not started yet cannot be shut down
		select {
		case <-started[i]:
			if serr := srv.ShutdownContext(shutdownCtx); serr != nil {
				log.Debugf("shutting down %s listener: %v", srv.Net, serr)
			}
		case <-done[i]:
		}
		<-done[i]
	}
	return err
}

func (s *Server) listeners() []*dns.Server {
	workers := s.config.Workers
	if workers < 1 {
		workers = 1
	}
	var endpoints [][2]string
	if s.config.TCP {
		endpoints = append(endpoints, [2]string{"tcp", s.config.TCPAddr()})
	}
	if s.config.UDP {
		endpoints = append(endpoints, [2]string{"udp", s.config.UDPAddr()})
		if s.config.IPv6 {
			endpoints = append(endpoints, [2]string{"udp6", s.config.UDP6Addr()})
		}
	}

	var servers []*dns.Server
	for _, ep := range endpoints {
		for i := 0; i < workers; i++ {
			servers = append(servers, &dns.Server{
				Addr:      ep[1],
				Net:       ep[0],
				Handler:   s,
				ReusePort: workers > 1,
			})
		}
	}
	return servers
}
