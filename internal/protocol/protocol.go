// Package protocol defines the wire protocol spoken between the control plane and gateway daemons, and between the
// control plane and browser terminal clients. Text frames carry JSON objects with a "type" discriminator; binary
// frames carry terminal output exclusively (see frame.go).
package protocol

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the current protocol schema version carried on command envelopes.
const SchemaVersion = "1"

// Command types sent from the control plane to a gateway.
const (
	TypeSessionCreate   = "session.create"
	TypeSessionInput    = "session.input"
	TypeSessionResize   = "session.resize"
	TypeSessionAck      = "session.ack"
	TypeSessionEnd      = "session.end"
	TypeSessionSnapshot = "session.snapshot"
	TypeSSHAuthorize    = "ssh.authorize"
	TypeSSHRevoke       = "ssh.revoke"
	TypeSSHList         = "ssh.list"
	TypeFileUploadBegin = "file.upload.begin"
	TypeFileUploadChunk = "file.upload.chunk"
	TypeFileUploadEnd   = "file.upload.end"
	TypeFileDownload    = "file.download"
	TypeFileCancel      = "file.cancel"
	TypeAgentsInstall   = "agents.install"
	TypeGatewayUpdate   = "gateway.update"
)

// Event types sent from a gateway to the control plane.
const (
	TypeAck              = "ack"
	TypeGatewayHello     = "gateway.hello"
	TypeGatewayHealth    = "gateway.health"
	TypeSessionStarted   = "session.started"
	TypeSessionEnded     = "session.ended"
	TypeSessionError     = "session.error"
	TypeSSHKeys          = "ssh.keys"
	TypeFileContentBegin = "file.content.begin"
	TypeFileContentChunk = "file.content.chunk"
	TypeFileContentEnd   = "file.content.end"
	TypeAgentInstalled   = "agent.installed"
	TypeGatewayUpdated   = "gateway.updated"
)

// Message types exchanged with browser terminal clients.
const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Structured error codes sent to browsers in TypeError messages.
const (
	ErrCodeInvalidPayload  = "invalid_payload"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUnknownType     = "unknown_type"
)

// Envelope is the minimal probe decoded from every inbound text frame to select a dispatch path. RequestID correlates
// ack-tracked commands, SessionID scopes terminal traffic, TransferID scopes file content streams.
type Envelope struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
}

// ParseEnvelope decodes the type/correlation header of a JSON message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing type")
	}
	return env, nil
}

// AgentConfig carries optional per-agent bootstrap documents installed into a new session's workspace.
type AgentConfig struct {
	ClaudeMD string `json:"claude_md,omitempty"`
	AgentsMD string `json:"agents_md,omitempty"`
}

// SessionCreateCommand asks the gateway to start a terminal session. Resolved by a session.started event or a
// negative ack.
type SessionCreateCommand struct {
	Type          string            `json:"type"`
	SchemaVersion string            `json:"schema_version"`
	RequestID     string            `json:"request_id"`
	SessionID     string            `json:"session_id"`
	Name          string            `json:"name,omitempty"`
	Workdir       string            `json:"workdir,omitempty"`
	Agent         string            `json:"agent,omitempty"`
	AgentConfig   *AgentConfig      `json:"agent_config,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// SessionInputCommand forwards keystrokes to a session's PTY. Realtime; never acked.
type SessionInputCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"` // base64-encoded raw input bytes
}

// SessionResizeCommand resizes a session's PTY. Realtime; never acked.
type SessionResizeCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// SessionAckCommand acknowledges receipt of terminal output up to a sequence number, letting the gateway trim its
// replay window. Realtime; never acked.
type SessionAckCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}

// SessionEndCommand terminates a session. Resolved by an ack.
type SessionEndCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	SessionID     string `json:"session_id"`
}

// SessionSnapshotCommand requests a text rendering of the session's current terminal content. Resolved by a
// session.snapshot event rather than an ack.
type SessionSnapshotCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	SessionID     string `json:"session_id"`
}

// SSHAuthorizeCommand installs a public key on the host. Resolved by an ack.
type SSHAuthorizeCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	PublicKey     string `json:"public_key"`
	Label         string `json:"label,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

// SSHRevokeCommand removes a public key from the host by fingerprint. Resolved by an ack.
type SSHRevokeCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	Fingerprint   string `json:"fingerprint"`
}

// SSHListCommand asks the gateway for the authorized keys currently installed. Resolved by an ssh.keys event.
type SSHListCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
}

// FileUploadBeginCommand opens an upload transfer toward the host. Resolved by an ack.
type FileUploadBeginCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	TransferID    string `json:"transfer_id"`
	DestPath      string `json:"dest_path"`
	Size          int64  `json:"size"`
	TotalChunks   int    `json:"total_chunks"`
}

// FileUploadChunkCommand carries one base64 chunk of an open upload. Resolved by an ack.
type FileUploadChunkCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	TransferID    string `json:"transfer_id"`
	Seq           int    `json:"seq"`
	Data          string `json:"data"`
}

// FileUploadEndCommand finalizes an upload transfer. Resolved by an ack.
type FileUploadEndCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	TransferID    string `json:"transfer_id"`
}

// FileDownloadCommand asks the gateway to stream a file back as file.content.* events scoped by transfer id.
// Resolved by an ack; content follows out of band.
type FileDownloadCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	TransferID    string `json:"transfer_id"`
	Path          string `json:"path"`
}

// FileCancelCommand aborts an in-flight transfer in either direction. Fire-and-forget.
type FileCancelCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	TransferID    string `json:"transfer_id"`
}

// AgentsInstallCommand installs or upgrades a coding agent on the host. Resolved by an agent.installed event.
type AgentsInstallCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	Agent         string `json:"agent"`
}

// GatewayUpdateCommand instructs the gateway daemon to replace its own binary. Resolved by a gateway.updated event
// sent by the new process.
type GatewayUpdateCommand struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schema_version"`
	RequestID     string `json:"request_id"`
	URL           string `json:"url"`
	SHA256        string `json:"sha256"`
	Version       string `json:"version"`
}

// AckEvent is the generic command acknowledgement. OK=false carries the gateway-supplied error string.
type AckEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// SystemInfo describes the host machine, reported once in gateway.hello.
type SystemInfo struct {
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	CPUs           int    `json:"cpus"`
	RAMTotalBytes  uint64 `json:"ram_total_bytes"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
}

// HelloEvent is the gateway's first message after the transport is established. GatewayID must match the identity the
// router authenticated; BootstrapToken is only meaningful during a first-time manual attach.
type HelloEvent struct {
	Type           string     `json:"type"`
	GatewayID      string     `json:"gateway_id"`
	Version        string     `json:"version"`
	SystemInfo     SystemInfo `json:"system_info"`
	BootstrapToken string     `json:"bootstrap_token,omitempty"`
}

// HealthEvent is the gateway's periodic liveness report.
type HealthEvent struct {
	Type           string            `json:"type"`
	GatewayID      string            `json:"gateway_id"`
	Timestamp      int64             `json:"timestamp"`
	CPUPercent     float64           `json:"cpu_percent"`
	RAMUsedBytes   uint64            `json:"ram_used_bytes"`
	RAMTotalBytes  uint64            `json:"ram_total_bytes"`
	DiskUsedBytes  uint64            `json:"disk_used_bytes"`
	DiskTotalBytes uint64            `json:"disk_total_bytes"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	ActiveSessions []SessionActivity `json:"active_sessions,omitempty"`
}

// SessionActivity is a per-session liveness entry inside a health report.
type SessionActivity struct {
	SessionID      string `json:"session_id"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// SessionStartedEvent reports that a session's process is running. Resolves a pending session.create.
type SessionStartedEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id"`
}

// SessionEndedEvent reports that a session terminated normally.
type SessionEndedEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id"`
}

// SessionErrorEvent reports that a session terminated abnormally.
type SessionErrorEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// SessionSnapshotEvent carries a text rendering of a session's terminal content.
type SessionSnapshotEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// SSHKey describes one installed authorized key in an ssh.keys event.
type SSHKey struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// SSHKeysEvent is the reply to an ssh.list command.
type SSHKeysEvent struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id"`
	Keys      []SSHKey `json:"keys"`
}

// FileContentEvent carries one step of a download stream. begin announces size and chunk count, chunk carries base64
// data with a sequence number, end closes the transfer (with an error string on failure).
type FileContentEvent struct {
	Type        string `json:"type"`
	TransferID  string `json:"transfer_id"`
	RequestID   string `json:"request_id,omitempty"`
	Size        int64  `json:"size,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	Seq         int    `json:"seq,omitempty"`
	Data        string `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AgentInstalledEvent is the reply to an agents.install command.
type AgentInstalledEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Agent     string `json:"agent"`
	Version   string `json:"version,omitempty"`
}

// GatewayUpdatedEvent is the reply to a gateway.update command, emitted by the replacement binary after it takes over.
type GatewayUpdatedEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Version   string `json:"version"`
}

// ErrorMessage is the structured error sent to browser clients for recoverable issues.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewErrorFrame returns a serialised ErrorMessage for a browser socket.
func NewErrorFrame(code, message string) ([]byte, error) {
	return json.Marshal(ErrorMessage{Type: TypeError, Code: code, Message: message})
}

// NewPongFrame returns the serialised reply to a browser ping.
func NewPongFrame() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: TypePong})
}

// NewSnapshotCommand returns a serialised session.snapshot command. The hub issues these on browser attach with a
// fresh request id whose reply is not awaited.
func NewSnapshotCommand(requestID, sessionID string) ([]byte, error) {
	return json.Marshal(SessionSnapshotCommand{
		Type:          TypeSessionSnapshot,
		SchemaVersion: SchemaVersion,
		RequestID:     requestID,
		SessionID:     sessionID,
	})
}
