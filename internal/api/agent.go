package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

// AgentHandler serves host maintenance commands: coding agent installs and gateway self-update.
type AgentHandler struct {
	hostGuard
	gateways gateway.Repository
	relay    Relay
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(hosts host.Repository, gateways gateway.Repository, relay Relay, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		gateways:  gateways,
		relay:     relay,
	}
}

type installAgentRequest struct {
	Agent string `json:"agent"`
}

// Install handles POST /hosts/{host_id}/agents. Synchronous: the handler waits for the gateway's agent.installed
// reply and returns it verbatim, so install failures surface in the response rather than a log on the host.
func (h *AgentHandler) Install(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body installAgentRequest
	if err := c.Bind().Body(&body); err != nil || body.Agent == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "agent is required")
	}

	cmd, err := json.Marshal(protocol.AgentsInstallCommand{
		Type:          protocol.TypeAgentsInstall,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("agent"),
		Agent:         body.Agent,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	event, err := h.relay.Send(gatewayID, cmd)
	if err != nil {
		return mapCommandError(c, err)
	}
	return sendJSONEvent(c, event)
}

// Command handles POST /hosts/{host_id}/gateway/command: owner-gated raw envelope passthrough for debugging and
// tooling. The body goes to the gateway untouched and the resolving event comes back verbatim. The body is copied
// because fasthttp reuses request buffers after the handler returns.
func (h *AgentHandler) Command(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	envelope := append([]byte(nil), c.Body()...)
	if _, err := protocol.ParseEnvelope(envelope); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid command envelope")
	}
	event, err := h.relay.Send(gatewayID, envelope)
	if err != nil {
		return mapCommandError(c, err)
	}
	return sendJSONEvent(c, event)
}

type updateGatewayRequest struct {
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
	Version string `json:"version"`
}

// UpdateGateway handles POST /hosts/{host_id}/gateway/update: instruct the gateway daemon to replace its own binary.
// The resolving gateway.updated event is emitted by the new process after it reconnects, so the wait spans the swap.
func (h *AgentHandler) UpdateGateway(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body updateGatewayRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if body.URL == "" || body.SHA256 == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "url and sha256 are required")
	}

	cmd, err := json.Marshal(protocol.GatewayUpdateCommand{
		Type:          protocol.TypeGatewayUpdate,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("upd"),
		URL:           body.URL,
		SHA256:        body.SHA256,
		Version:       body.Version,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	event, err := h.relay.Send(gatewayID, cmd)
	if err != nil {
		return mapCommandError(c, err)
	}
	return sendJSONEvent(c, event)
}
