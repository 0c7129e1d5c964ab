package dnsauth

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Server binds the DNS authority to both UDP and TCP on the same
// address, each under its own dns.Server (the library does not share a
// listener across protocols), mirroring the original Python resolver's
// "serve both to be a well-behaved authority" stance (spec.md section 4.3).
type Server struct {
	addr     string
	resolver *Resolver
	log      *zap.Logger

	udp *dns.Server
	tcp *dns.Server
}

// NewServer builds a Server bound to addr (":53" in production, a high
// port in tests).
func NewServer(addr string, resolver *Resolver, log *zap.Logger) *Server {
	return &Server{addr: addr, resolver: resolver, log: log}
}

// ServeDNS implements dns.Handler. It replies first, then logs the query
// as a capture in the background so the reply is never held up by a
// store write (spec.md section 4.3, "Writes never block the reply").
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx := context.Background()
	reply, owner := s.resolver.Handle(ctx, req)
	if err := w.WriteMsg(reply); err != nil {
		s.log.Warn("dns write failed", zap.Error(err))
	}

	if owner == "" || len(req.Question) == 0 {
		return
	}
	remoteIP := remoteAddrIP(w.RemoteAddr())
	q := req.Question[0]
	go s.resolver.LogQuery(context.Background(), owner, remoteIP, q.Qtype, strings.ToLower(q.Name), reply)
}

func remoteAddrIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ListenAndServe starts the UDP and TCP listeners concurrently and
// blocks until ctx is cancelled, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.udp = &dns.Server{Addr: s.addr, Net: "udp", Handler: s}
	s.tcp = &dns.Server{Addr: s.addr, Net: "tcp", Handler: s}

	errCh := make(chan error, 2)
	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = s.udp.Shutdown()
		_ = s.tcp.Shutdown()
		return nil
	case err := <-errCh:
		_ = s.udp.Shutdown()
		_ = s.tcp.Shutdown()
		return err
	}
}
