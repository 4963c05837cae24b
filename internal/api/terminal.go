package api

import (
	"errors"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/hub"
	"github.com/vibecode-sh/vibecode-server/internal/session"
)

// TerminalHandler serves the WebSocket upgrade endpoint browser terminals attach through.
type TerminalHandler struct {
	hostGuard
	sessions session.Repository
	gateways gateway.Repository
	registry *hub.Registry
}

// NewTerminalHandler creates a new terminal handler.
func NewTerminalHandler(hosts host.Repository, sessions session.Repository, gateways gateway.Repository, registry *hub.Registry, logger zerolog.Logger) *TerminalHandler {
	return &TerminalHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		sessions:  sessions,
		gateways:  gateways,
		registry:  registry,
	}
}

// Attach handles GET /hosts/{host_id}/terminal?session_id=. Authorization happens here, before the upgrade: session
// cookie, host ownership, and session-belongs-to-host. The hub itself trusts whatever the router hands it.
func (h *TerminalHandler) Attach(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "session_id is required")
	}

	ses, err := h.sessions.GetByID(c, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "not found")
		}
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if ses.HostID != hst.ID {
		return httputil.Fail(c, fiber.StatusNotFound, "not found")
	}

	g, err := h.gateways.GetByHost(c, hst.ID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, "not found")
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	userID := auth.UserID(c)
	gwHub := h.registry.Get(g.ID)
	return websocket.New(func(conn *websocket.Conn) {
		gwHub.AttachBrowser(conn.Conn, sessionID, userID)
	})(c)
}
