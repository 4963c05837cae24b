package protocol

// WebSocket close codes used by the relay. The 1000 range is defined by RFC 6455; the 4000 range is reserved for
// application use.
const (
	// CloseNormal ends a browser socket that the idle sweep evicted or that finished cleanly.
	CloseNormal = 1000

	// CloseGoingAway ends every socket during hub shutdown.
	CloseGoingAway = 1001

	// ClosePolicyViolation ends a socket that broke protocol policy: a gateway hello claiming the wrong identity, or
	// a browser frame over the text ceiling.
	ClosePolicyViolation = 1008

	// CloseReplaced ends a gateway socket displaced by a newer connection for the same gateway identity.
	CloseReplaced = 4000
)
