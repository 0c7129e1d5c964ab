// Package fanout implements the Live Fan-out (C5, spec.md section 4.5):
// one WebSocket session per dashboard tab, multiplexing client commands
// and store pub/sub deliveries onto a single connection. Built on
// github.com/gorilla/websocket — grounded on the DNS/network-tooling
// repos in the retrieval pack (owasp-amass) that reach for the same
// library for long-lived bidirectional connections, since the teacher
// monorepo carries no WebSocket dependency of its own.
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/auth"
	"github.com/arc-self/requestrepo/internal/capture"
	"github.com/arc-self/requestrepo/internal/store"
)

// sendQueueSize bounds the outbound queue; a session whose consumer
// can't keep up is torn down rather than allowed to buffer unbounded
// memory (spec.md section 4.5, "slow consumers do not get preferential
// memory").
const sendQueueSize = 256

// Session drives one WebSocket connection through the NEW → AWAIT_INIT →
// ACTIVE → CLEANUP state machine of spec.md section 4.5.
type Session struct {
	conn     *websocket.Conn
	verifier *auth.Verifier
	session  *store.Session
	log      *zap.Logger

	mu      sync.Mutex
	subs    map[string]func() // subdomain -> unsubscribe
	merged  chan store.Message
	seenIDs map[string]struct{} // capture ids already delivered via a snapshot

	sendCh chan []byte
}

// New builds a Session bound to an already-upgraded connection.
func New(conn *websocket.Conn, verifier *auth.Verifier, session *store.Session, log *zap.Logger) *Session {
	return &Session{
		conn:     conn,
		verifier: verifier,
		session:  session,
		log:      log,
		subs:     map[string]func(){},
		seenIDs:  map[string]struct{}{},
		sendCh:   make(chan []byte, sendQueueSize),
	}
}

// Run drives the session to completion. legacy selects the AWAIT_INIT
// parsing rule for /api/ws (a single "connect" command) versus /api/ws2
// (either "register_sessions" or a single implicit session).
func (s *Session) Run(legacy bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.cleanup(ctx)
	defer s.conn.Close()

	var initFrame clientFrame
	if err := s.conn.ReadJSON(&initFrame); err != nil {
		return // NEW: connection dropped before any frame arrived.
	}

	// Still single-goroutine here — writeLoop has not started, so it is
	// safe to write AWAIT_INIT replies (invalid_token, error) directly
	// rather than through sendCh, which nothing would be left to drain
	// before the deferred conn.Close() below runs.
	entries := initialSessions(initFrame, legacy)
	validCount := 0
	for _, e := range entries {
		if e.Token == "" {
			continue
		}
		if s.addSession(ctx, e.Token) {
			validCount++
		} else {
			s.writeDirect(invalidTokenFrame{Cmd: "invalid_token", Token: e.Token})
		}
	}
	if validCount == 0 {
		s.writeDirect(errorFrame{Cmd: "error", Message: "no valid sessions provided"})
		return // AWAIT_INIT: policy violation, no valid token.
	}

	// ACTIVE. writeLoop becomes the sole writer from here on; every
	// subsequent outbound frame (ping/pong, invalid_token on
	// update_tokens, forwarded captures) goes through sendFrame/sendCh.
	go s.writeLoop(ctx, cancel)
	framesCh := make(chan clientFrame, 1)
	go s.readLoop(ctx, cancel, framesCh)

	merged := s.mergedCh()
	for {
		select {
		case <-ctx.Done():
			return // CLEANUP
		case frame, ok := <-framesCh:
			if !ok {
				return
			}
			s.handleClientFrame(ctx, frame)
		case msg, ok := <-merged:
			if !ok {
				continue
			}
			sub := store.SubdomainFromChannel(msg.Channel)
			s.sendFrame(requestFrame{Cmd: "request", Subdomain: sub, Data: msg.Payload})
		}
	}
}

// extractCaptureID pulls the "id" field out of a stored/published capture
// payload without fully decoding it, for replay dedup purposes only.
func extractCaptureID(payload string) string {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return ""
	}
	return v.ID
}

func initialSessions(frame clientFrame, legacy bool) []sessionEntry {
	if !legacy && frame.Cmd == "register_sessions" {
		return frame.Sessions
	}
	return []sessionEntry{{Token: frame.Token, Subdomain: frame.Subdomain}}
}

// readLoop pumps incoming text frames into framesCh, cancelling the
// session on disconnect or malformed framing.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc, out chan<- clientFrame) {
	defer close(out)
	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			cancel()
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the single writer for the connection — gorilla/websocket
// requires at most one concurrent writer.
func (s *Session) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				cancel()
				return
			}
		}
	}
}

// mergedCh fans every subscribed channel's deliveries into one stream,
// tagged by store.Message.Channel so the caller can recover the owning
// subdomain (store.SubdomainFromChannel).
func (s *Session) mergedCh() <-chan store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.merged == nil {
		s.merged = make(chan store.Message, sendQueueSize)
	}
	return s.merged
}

func (s *Session) handleClientFrame(ctx context.Context, frame clientFrame) {
	switch frame.Cmd {
	case "update_tokens":
		s.removeAllSessions()
		for _, tok := range frame.Tokens {
			if !s.addSession(ctx, tok) {
				s.sendFrame(invalidTokenFrame{Cmd: "invalid_token", Token: tok})
			}
		}
	case "ping":
		s.sendFrame(pongFrame{Cmd: "pong"})
	}
}

// addSession verifies token, subscribes (deduplicated by subdomain), and
// replays historical captures before returning. Historical replay
// happens via SubscribeAndSnapshot — subscribe first, then snapshot — so
// no capture published in between is lost (spec.md section 9,
// "Historical-replay race").
func (s *Session) addSession(ctx context.Context, token string) bool {
	sub, err := s.verifier.Verify(token)
	if err != nil {
		return false
	}

	s.mu.Lock()
	if _, already := s.subs[sub]; already {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	channel := store.RequestsChannel(sub)
	snapshot, msgs, unsub, err := s.session.Store.SubscribeAndSnapshot(ctx, channel, "requests:"+sub)
	if err != nil {
		s.log.Warn("fanout subscribe failed", zap.String("subdomain", sub), zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.subs[sub] = unsub
	s.mu.Unlock()

	live := make([]string, 0, len(snapshot))
	s.mu.Lock()
	for _, raw := range snapshot {
		if capture.IsTombstone(raw) {
			continue
		}
		live = append(live, raw)
		if id := extractCaptureID(raw); id != "" {
			s.seenIDs[id] = struct{}{}
		}
	}
	s.mu.Unlock()
	if len(live) > 0 {
		s.sendFrame(requestsFrame{Cmd: "requests", Subdomain: sub, Data: live})
	}

	merged := s.mergedCh()
	go func() {
		for msg := range msgs {
			// A capture published between SubscribeAndSnapshot's
			// subscribe and its list read arrives both in the snapshot
			// above and here live; drop the live copy the first (and
			// only the first) time its id repeats (spec.md section 9,
			// "Historical-replay race").
			if id := extractCaptureID(msg.Payload); id != "" {
				s.mu.Lock()
				if _, dup := s.seenIDs[id]; dup {
					delete(s.seenIDs, id)
					s.mu.Unlock()
					continue
				}
				s.mu.Unlock()
			}
			select {
			case merged <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return true
}

// removeAllSessions drops every subscription — used on update_tokens
// (spec.md section 4.5: "all previous subscriptions are dropped before
// adding new ones") and on teardown.
func (s *Session) removeAllSessions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]func(){}
	s.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

func (s *Session) cleanup(ctx context.Context) {
	_ = ctx
	s.removeAllSessions()
}

// sendFrame marshals and enqueues a frame, tearing the session down if
// the send queue is saturated (spec.md section 4.5).
func (s *Session) sendFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.sendCh <- data:
	default:
		s.log.Warn("fanout send queue full, dropping connection")
		_ = s.conn.Close()
	}
}

// writeDirect marshals and writes v straight to the connection. Only
// valid before writeLoop has started (AWAIT_INIT) — once ACTIVE, every
// write must go through sendFrame to preserve the single-writer
// invariant gorilla/websocket requires.
func (s *Session) writeDirect(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.conn.WriteMessage(websocket.TextMessage, data)
}
