package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
	"github.com/vibecode-sh/vibecode-server/internal/session"
)

// SessionHandler serves terminal session lifecycle under /hosts/{host_id}/sessions.
type SessionHandler struct {
	hostGuard
	sessions session.Repository
	gateways gateway.Repository
	relay    Relay
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(hosts host.Repository, sessions session.Repository, gateways gateway.Repository, relay Relay, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		sessions:  sessions,
		gateways:  gateways,
		relay:     relay,
	}
}

// requireHostSession loads a session addressed under a host and checks it actually belongs to that host.
func (h *SessionHandler) requireHostSession(c fiber.Ctx, hostID string) (*session.Session, error) {
	ses, err := h.sessions.GetByID(c, c.Params("session_id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, httputil.Fail(c, fiber.StatusNotFound, "not found")
		}
		h.log.Error().Err(err).Str("session_id", c.Params("session_id")).Msg("Failed to load session")
		return nil, httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if ses.HostID != hostID {
		return nil, httputil.Fail(c, fiber.StatusNotFound, "not found")
	}
	return ses, nil
}

type sessionResponse struct {
	ID             string `json:"session_id"`
	HostID         string `json:"host_id"`
	Title          string `json:"title,omitempty"`
	AgentType      string `json:"agent_type,omitempty"`
	Workdir        string `json:"workdir"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		HostID:         s.HostID,
		Title:          s.Title,
		AgentType:      s.AgentType,
		Workdir:        s.Workdir,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

type createSessionRequest struct {
	Title       string                `json:"title"`
	Agent       string                `json:"agent"`
	Workdir     string                `json:"workdir"`
	Env         map[string]string     `json:"env"`
	AgentConfig *protocol.AgentConfig `json:"agent_config"`
}

// Create handles POST /hosts/{host_id}/sessions. The row is written in starting state, then session.create rides the
// relay like every other acked command: the 201 comes back only after the gateway confirms the session. A dispatch
// failure flips the row to error before the failure is reported.
func (h *SessionHandler) Create(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body createSessionRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := session.ValidateTitle(&body.Title); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	workdir := body.Workdir
	if workdir == "" {
		workdir = session.DefaultWorkdir
	}

	ses, err := h.sessions.Create(c, session.CreateParams{
		ID:        ids.NewSessionID(),
		HostID:    hst.ID,
		UserID:    hst.UserID,
		Title:     body.Title,
		AgentType: body.Agent,
		Workdir:   workdir,
	})
	if err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to create session row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	cmd, err := json.Marshal(protocol.SessionCreateCommand{
		Type:          protocol.TypeSessionCreate,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ses.ID,
		SessionID:     ses.ID,
		Name:          body.Title,
		Workdir:       workdir,
		Agent:         body.Agent,
		AgentConfig:   body.AgentConfig,
		Env:           body.Env,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	if _, err := h.relay.Send(gatewayID, cmd); err != nil {
		h.log.Warn().Err(err).Str("session_id", ses.ID).Msg("Session start failed")
		if uerr := h.sessions.UpdateStatus(c, ses.ID, session.StatusError); uerr != nil {
			h.log.Error().Err(uerr).Str("session_id", ses.ID).Msg("Failed to mark session errored")
		}
		return mapCommandError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toSessionResponse(ses))
}

// List handles GET /hosts/{host_id}/sessions.
func (h *SessionHandler) List(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	sessions, err := h.sessions.ListByHost(c, hst.ID)
	if err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to list sessions")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	return httputil.Success(c, out)
}

// Get handles GET /hosts/{host_id}/sessions/{session_id}.
func (h *SessionHandler) Get(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	ses, err := h.requireHostSession(c, hst.ID)
	if err != nil {
		return err
	}
	return httputil.Success(c, toSessionResponse(ses))
}

// End handles DELETE /hosts/{host_id}/sessions/{session_id}. Synchronous: the gateway must ack the termination. The
// status flip also lands through the session.ended event; updating here just closes the gap for pollers.
func (h *SessionHandler) End(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	ses, err := h.requireHostSession(c, hst.ID)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	cmd, err := json.Marshal(protocol.SessionEndCommand{
		Type:          protocol.TypeSessionEnd,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("end"),
		SessionID:     ses.ID,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, cmd); err != nil {
		return mapCommandError(c, err)
	}

	if err := h.sessions.UpdateStatus(c, ses.ID, session.StatusEnded); err != nil {
		h.log.Error().Err(err).Str("session_id", ses.ID).Msg("Failed to mark session ended")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Snapshot handles GET /hosts/{host_id}/sessions/{session_id}/snapshot: a synchronous text rendering of the terminal,
// fetched over the gateway link. The gateway's session.snapshot event is returned verbatim.
func (h *SessionHandler) Snapshot(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	ses, err := h.requireHostSession(c, hst.ID)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	cmd, err := protocol.NewSnapshotCommand(ids.NewRequestID("snap"), ses.ID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	event, err := h.relay.Send(gatewayID, cmd)
	if err != nil {
		return mapCommandError(c, err)
	}
	return sendJSONEvent(c, event)
}
