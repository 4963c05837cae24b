package hub

import "errors"

// Sentinel errors surfaced by hub command dispatch. The API layer maps all of them to 502 except ErrMissingRequestID,
// which is a caller bug and maps to 400.
var (
	ErrGatewayNotConnected = errors.New("gateway not connected")
	ErrGatewayDisconnected = errors.New("gateway disconnected")
	ErrCommandTimeout      = errors.New("command timed out")
	ErrCommandFailed       = errors.New("command failed")
	ErrDuplicateRequestID  = errors.New("request id already in flight")
	ErrMissingRequestID    = errors.New("command envelope missing request_id")
	ErrHubClosed           = errors.New("hub shutting down")
	ErrTransferActive      = errors.New("transfer id already registered")
)
