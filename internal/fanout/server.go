package fanout

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/auth"
	"github.com/arc-self/requestrepo/internal/store"
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from an arbitrary origin relative to the
	// capture plane's root domain, so origin checking is intentionally
	// permissive, matching the REST surface's blanket CORS stance.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Register mounts the two WebSocket upgrade routes of spec.md section 6:
// /api/ws (legacy single-token) and /api/ws2 (multi-token).
func Register(e *echo.Echo, verifier *auth.Verifier, session *store.Session, log *zap.Logger) {
	e.GET("/api/ws", func(c echo.Context) error { return handle(c, verifier, session, log, true) })
	e.GET("/api/ws2", func(c echo.Context) error { return handle(c, verifier, session, log, false) })
}

func handle(c echo.Context, verifier *auth.Verifier, session *store.Session, log *zap.Logger, legacy bool) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	sess := New(conn, verifier, session, log)
	sess.Run(legacy)
	return nil
}
