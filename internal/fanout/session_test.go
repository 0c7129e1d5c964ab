package fanout_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/requestrepo/internal/auth"
	"github.com/arc-self/requestrepo/internal/capture"
	"github.com/arc-self/requestrepo/internal/fanout"
	"github.com/arc-self/requestrepo/internal/store"
	"github.com/arc-self/requestrepo/internal/subdomain"
)

func testGrammar() subdomain.Grammar {
	return subdomain.Grammar{Length: 8, Alphabet: subdomain.DefaultAlphabet}
}

func newTestServer(t *testing.T) (*httptest.Server, *auth.Verifier, *store.Session) {
	verifier := auth.New("test-secret", testGrammar())
	session := &store.Session{Store: store.NewFakeStore(), TTLSecs: 3600}

	e := echo.New()
	fanout.Register(e, verifier, session, zaptest.NewLogger(t))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, verifier, session
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestLegacyConnectReplaysHistoricalCaptures(t *testing.T) {
	srv, verifier, session := newTestServer(t)

	tok, err := verifier.Mint("abcd1234", time.Hour)
	require.NoError(t, err)

	rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: "abcd1234"}
	require.NoError(t, session.AppendCapture(context.Background(), "abcd1234", rec))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "connect", "token": tok}))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "requests", frame["cmd"])
	assert.Equal(t, "abcd1234", frame["subdomain"])
	data, ok := frame["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 1)
}

func TestLegacyConnectThenLiveCaptureIsForwarded(t *testing.T) {
	srv, verifier, session := newTestServer(t)

	tok, err := verifier.Mint("abcd1234", time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "connect", "token": tok}))

	rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: "abcd1234"}
	require.NoError(t, session.AppendCapture(context.Background(), "abcd1234", rec))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "request", frame["cmd"])
	assert.Equal(t, "abcd1234", frame["subdomain"])
	assert.NotEmpty(t, frame["data"])
}

func TestConnectWithInvalidTokenClosesConnection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "connect", "token": "garbage"}))

	// AWAIT_INIT answers a rejected token with invalid_token, then error,
	// then closes the connection.
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "invalid_token", frame["cmd"])
	assert.Equal(t, "garbage", frame["token"])

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["cmd"])

	assert.Error(t, conn.ReadJSON(&frame))
}

func TestMultiTokenRegisterSessionsReplaysEach(t *testing.T) {
	srv, verifier, session := newTestServer(t)

	tokA, err := verifier.Mint("aaaaaaaa", time.Hour)
	require.NoError(t, err)
	tokB, err := verifier.Mint("bbbbbbbb", time.Hour)
	require.NoError(t, err)

	recA := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: "aaaaaaaa"}
	require.NoError(t, session.AppendCapture(context.Background(), "aaaaaaaa", recA))
	recB := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: "bbbbbbbb"}
	require.NoError(t, session.AppendCapture(context.Background(), "bbbbbbbb", recB))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws2"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"cmd": "register_sessions",
		"sessions": []map[string]string{
			{"token": tokA, "subdomain": "aaaaaaaa"},
			{"token": tokB, "subdomain": "bbbbbbbb"},
		},
	}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, "requests", frame["cmd"])
		seen[frame["subdomain"].(string)] = true
	}
	assert.True(t, seen["aaaaaaaa"])
	assert.True(t, seen["bbbbbbbb"])
}

func TestDuplicateCaptureIDBetweenSnapshotAndLiveIsDroppedOnce(t *testing.T) {
	srv, verifier, session := newTestServer(t)

	tok, err := verifier.Mint("abcd1234", time.Hour)
	require.NoError(t, err)

	rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: "abcd1234"}
	// Appended before the client connects: lands in the snapshot, not
	// delivered live (no subscriber exists yet).
	require.NoError(t, session.AppendCapture(context.Background(), "abcd1234", rec))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "connect", "token": tok}))

	var snapshotFrame map[string]any
	require.NoError(t, conn.ReadJSON(&snapshotFrame))
	assert.Equal(t, "requests", snapshotFrame["cmd"])

	// Re-publish the *same* capture id now that a subscriber exists,
	// simulating the race spec.md section 9 calls out: a capture landing
	// between SubscribeAndSnapshot's subscribe and its list read arrives
	// both in the snapshot and live. The live copy must be dropped once.
	require.NoError(t, session.AppendCapture(context.Background(), "abcd1234", rec))
	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "ping"}))

	var nextFrame map[string]any
	require.NoError(t, conn.ReadJSON(&nextFrame))
	assert.Equal(t, "pong", nextFrame["cmd"], "duplicate live capture should have been deduped, not forwarded before the pong")
}

func TestPingReceivesPong(t *testing.T) {
	srv, verifier, _ := newTestServer(t)

	tok, err := verifier.Mint("abcd1234", time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "connect", "token": tok}))
	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "ping"}))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame["cmd"])
}
