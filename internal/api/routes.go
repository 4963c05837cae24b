package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
)

// Handlers bundles every route handler the router mounts.
type Handlers struct {
	Auth     *AuthHandler
	Hosts    *HostHandler
	Sessions *SessionHandler
	SSHKeys  *SSHKeyHandler
	Files    *FileHandler
	Agents   *AgentHandler
	Terminal *TerminalHandler
	Gateway  *GatewayConnectHandler
	Health   *HealthHandler
}

// RegisterRoutes mounts the full HTTP surface. The gateway endpoints authenticate with bearer tokens inside the
// handler; everything under /hosts and /auth/me rides the session cookie.
func RegisterRoutes(app *fiber.App, h Handlers, sessionSecret string, allowDevHeader bool) {
	app.Get("/api/v1/health", h.Health.Check)

	app.Get("/gw/connect/:gateway_id", h.Gateway.Connect)
	app.Post("/gw/bootstrap", h.Gateway.Bootstrap)

	app.Get("/auth/signin/:provider", h.Auth.Signin)
	// The connect callback is registered before the parameterized one so "connect" is never taken for a provider name.
	app.Get("/auth/callback/connect/digitalocean", h.Auth.ConnectDigitalOceanCallback)
	app.Get("/auth/callback/:provider", h.Auth.Callback)
	app.Delete("/auth/session", h.Auth.Logout)

	requireSession := auth.RequireSession(sessionSecret, allowDevHeader)
	app.Get("/auth/me", h.Auth.Me, requireSession)
	app.Get("/auth/connect/digitalocean", h.Auth.ConnectDigitalOcean, requireSession)

	hosts := app.Group("/hosts", requireSession)
	hosts.Post("", h.Hosts.Create)
	hosts.Get("", h.Hosts.List)
	hosts.Post("/attach", h.Hosts.Attach)
	hosts.Get("/:host_id", h.Hosts.Get)
	hosts.Delete("/:host_id", h.Hosts.Delete)
	hosts.Get("/:host_id/terminal", h.Terminal.Attach)

	hosts.Post("/:host_id/sessions", h.Sessions.Create)
	hosts.Get("/:host_id/sessions", h.Sessions.List)
	hosts.Get("/:host_id/sessions/:session_id", h.Sessions.Get)
	hosts.Delete("/:host_id/sessions/:session_id", h.Sessions.End)
	hosts.Get("/:host_id/sessions/:session_id/snapshot", h.Sessions.Snapshot)

	hosts.Post("/:host_id/ssh-keys", h.SSHKeys.Authorize)
	hosts.Get("/:host_id/ssh-keys", h.SSHKeys.List)
	hosts.Get("/:host_id/ssh-keys/live", h.SSHKeys.ListLive)
	hosts.Delete("/:host_id/ssh-keys", h.SSHKeys.Revoke)

	hosts.Post("/:host_id/files", h.Files.Upload)
	hosts.Get("/:host_id/files", h.Files.Download)

	hosts.Post("/:host_id/agents/install", h.Agents.Install)
	hosts.Post("/:host_id/gateway/update", h.Agents.UpdateGateway)
	hosts.Post("/:host_id/gateway/command", h.Agents.Command)
}
