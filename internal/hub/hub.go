// Package hub implements the per-gateway relay at the heart of the control plane. One hub exists per gateway
// identity. It terminates the single duplex connection from that gateway, accepts any number of browser terminal
// subscribers, fans terminal output out by session id, and correlates ack-tracked commands over the otherwise
// streaming transport.
//
// Every hub is a serialized actor: a single run goroutine consumes a mailbox of closures posted by socket readers,
// timers, and HTTP handlers. All hub state is owned by that goroutine, so the invariants around the pending map,
// subscriber set, and gateway slot hold without locks. Outbound writes go through per-link buffered queues and never
// block the actor.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
	"github.com/vibecode-sh/vibecode-server/internal/session"
)

// mailboxSize is the depth of the hub's task queue. Posting blocks when full, which back-pressures socket readers
// without ever blocking the actor itself.
const mailboxSize = 512

// Options carries the tunable timeouts and ceilings of a hub. Zero values fall back to the defaults below.
type Options struct {
	CommandTimeout time.Duration // pending command deadline
	IdleTimeout    time.Duration // browser inactivity threshold
	IdleSweep      time.Duration // eviction sweep period
	ReconnectGrace time.Duration // delay before re-marking a silent gateway disconnected
	MaxTextBytes   int           // inbound JSON ceiling
	MaxBinaryBytes int           // terminal frame payload ceiling
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 600 * time.Second
	}
	if o.IdleSweep <= 0 {
		o.IdleSweep = 60 * time.Second
	}
	if o.ReconnectGrace <= 0 {
		o.ReconnectGrace = 30 * time.Second
	}
	if o.MaxTextBytes <= 0 {
		o.MaxTextBytes = 256 * 1024
	}
	if o.MaxBinaryBytes <= 0 {
		o.MaxBinaryBytes = 64 * 1024
	}
	return o
}

type cmdResult struct {
	event []byte
	err   error
}

// waiter is one entry in the pending correlation map. The reply channel has capacity one and every resolution path
// deletes the map entry before sending, so each request id resolves or rejects exactly once.
type waiter struct {
	resp    chan<- cmdResult
	timer   *time.Timer
	started time.Time
}

type transferRoute struct {
	ch chan protocol.FileContentEvent
}

// transferBuffer is the per-transfer event queue depth. A consumer that falls this far behind has the transfer
// cancelled rather than stalling the hub.
const transferBuffer = 32

// Hub is the relay for one gateway identity.
type Hub struct {
	gatewayID string
	opts      Options
	bridge    Bridge
	metrics   *Metrics
	log       zerolog.Logger

	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	postMu sync.RWMutex
	closed bool

	// State below is owned by the run goroutine.
	gw          *link
	gwReady     bool // a valid hello has been seen on the current gateway link
	subscribers map[string]map[*link]struct{}
	sessionOf   map[*link]string
	activity    map[*link]time.Time
	pending     map[string]*waiter
	transfers   map[string]*transferRoute
	graceTimer  *time.Timer
	stopped     bool
}

// New creates a hub for the given gateway identity and starts its event loop. The gateway id doubles as the expected
// identity for hello validation: it comes from the router's token check, never from the gateway's own payload.
func New(gatewayID string, opts Options, bridge Bridge, metrics *Metrics, logger zerolog.Logger) *Hub {
	h := &Hub{
		gatewayID:   gatewayID,
		opts:        opts.withDefaults(),
		bridge:      bridge,
		metrics:     metrics,
		log:         logger.With().Str("component", "hub").Str("gateway_id", gatewayID).Logger(),
		tasks:       make(chan func(), mailboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[string]map[*link]struct{}),
		sessionOf:   make(map[*link]string),
		activity:    make(map[*link]time.Time),
		pending:     make(map[string]*waiter),
		transfers:   make(map[string]*transferRoute),
	}
	go h.run()
	go h.sweepLoop()
	return h
}

// GatewayID returns the gateway identity this hub serves.
func (h *Hub) GatewayID() string {
	return h.gatewayID
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case task := <-h.tasks:
			task()
		case <-h.quit:
			// No new posts can arrive once quit is closed; drain what is already queued.
			for {
				select {
				case task := <-h.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.opts.IdleSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.post(h.sweepIdle)
		case <-h.quit:
			return
		}
	}
}

// post queues a task for the event loop. It reports false once the hub has shut down.
func (h *Hub) post(task func()) bool {
	h.postMu.RLock()
	defer h.postMu.RUnlock()
	if h.closed {
		return false
	}
	h.tasks <- task
	return true
}

// call posts a task and waits for it to run. It reports false once the hub has shut down.
func (h *Hub) call(task func()) bool {
	ran := make(chan struct{})
	if !h.post(func() {
		task()
		close(ran)
	}) {
		return false
	}
	<-ran
	return true
}

// AttachGateway installs conn as the hub's gateway link and pumps its messages until the connection closes. It blocks
// for the lifetime of the connection, mirroring the upgrade handler's goroutine. The caller must already have
// authenticated the bearer token for this hub's gateway id.
func (h *Hub) AttachGateway(conn Conn) {
	l := newLink(conn, h.log.With().Str("peer", "gateway").Logger())
	if !h.post(func() { h.installGateway(l) }) {
		l.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		l.writePump()
		return
	}
	go l.writePump()
	h.readGateway(l)
}

// AttachBrowser subscribes conn to a session's terminal stream and pumps its messages until the connection closes.
// Authorization (cookie, host ownership, session membership) happens upstream in the router.
func (h *Hub) AttachBrowser(conn Conn, sessionID, userID string) {
	l := newLink(conn, h.log.With().Str("peer", "browser").Str("session_id", sessionID).Str("user_id", userID).Logger())
	if !h.post(func() { h.installBrowser(l, sessionID) }) {
		l.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		l.writePump()
		return
	}
	go l.writePump()
	h.readBrowser(l)
}

// Command forwards an ack-tracked envelope to the gateway and returns the first matching inbound event: an ack for
// most commands, or the typed reply for commands like session.snapshot and ssh.list. It blocks until resolution,
// rejection, or the command timeout.
func (h *Hub) Command(envelope []byte) ([]byte, error) {
	env, err := protocol.ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	if env.RequestID == "" {
		return nil, ErrMissingRequestID
	}

	resp := make(chan cmdResult, 1)
	if !h.post(func() { h.dispatchCommand(envelope, env.RequestID, resp) }) {
		return nil, ErrHubClosed
	}
	r := <-resp
	return r.event, r.err
}

// Notify forwards a fire-and-forget command to the gateway. With no gateway link the message is silently dropped;
// these commands carry no request id and are never acked.
func (h *Hub) Notify(data []byte) {
	h.post(func() { h.relayRealtime(data) })
}

// OpenTransfer registers a routing entry for file content events scoped by transfer id. It returns the event stream
// and a cancel function that must be called once the consumer is done; the stream is closed by cancel, by the
// terminal file.content.end event, or by hub shutdown. A transfer id already in flight is rejected.
func (h *Hub) OpenTransfer(transferID string) (<-chan protocol.FileContentEvent, func(), error) {
	route := &transferRoute{ch: make(chan protocol.FileContentEvent, transferBuffer)}

	var regErr error
	ok := h.call(func() {
		if h.stopped {
			regErr = ErrHubClosed
			return
		}
		if _, exists := h.transfers[transferID]; exists {
			regErr = ErrTransferActive
			return
		}
		h.transfers[transferID] = route
	})
	if !ok {
		return nil, nil, ErrHubClosed
	}
	if regErr != nil {
		return nil, nil, regErr
	}

	cancel := func() {
		h.post(func() { h.closeTransfer(transferID, route) })
	}
	return route.ch, cancel, nil
}

// Shutdown closes the gateway link, evicts every subscriber, rejects all pending commands, and stops the event loop.
// It is idempotent and returns once the hub has fully stopped.
func (h *Hub) Shutdown() {
	h.postMu.Lock()
	if h.closed {
		h.postMu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	h.postMu.Unlock()

	finished := make(chan struct{})
	h.tasks <- func() {
		h.teardown()
		close(finished)
	}
	<-finished

	close(h.quit)
	<-h.done
	h.log.Info().Msg("Hub shut down")
}

// --- Gateway link -----------------------------------------------------------------------------------------------

func (h *Hub) installGateway(l *link) {
	if h.stopped {
		l.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		return
	}

	if old := h.gw; old != nil {
		// At most one live gateway link per hub. Displacing the old one is a close like any other: its pending
		// commands are rejected before the replacement is installed.
		h.gw = nil
		h.gwReady = false
		h.rejectAllPending(ErrGatewayDisconnected)
		old.closeWithCode(protocol.CloseReplaced, "replaced by a newer connection")
		h.log.Info().Msg("Displaced existing gateway connection")
		h.metrics.gatewayAttached(-1)
	}

	h.clearGraceTimer()
	h.gw = l
	h.metrics.gatewayAttached(1)
	h.log.Info().Msg("Gateway link established")
}

func (h *Hub) readGateway(l *link) {
	defer func() {
		l.close()
		h.post(func() { h.gatewayClosed(l) })
	}()

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.log.Debug().Err(err).Msg("Gateway read error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if len(data) > h.opts.MaxTextBytes {
				// The gateway is the trusted peer: log and ignore rather than signal back.
				l.log.Warn().Int("bytes", len(data)).Msg("Dropping oversize gateway text frame")
				continue
			}
			h.post(func() { h.handleGatewayText(l, data) })
		case websocket.BinaryMessage:
			h.post(func() { h.handleGatewayBinary(l, data) })
		}
	}
}

func (h *Hub) gatewayClosed(l *link) {
	if h.gw != l {
		return
	}

	wasReady := h.gwReady
	h.gw = nil
	h.gwReady = false
	h.metrics.gatewayAttached(-1)

	// Reject before anything else: no reconnect can be admitted with stale pending entries alive.
	h.rejectAllPending(ErrGatewayDisconnected)

	if wasReady {
		h.bridge.GatewayDisconnected(h.gatewayID)
		h.armGraceTimer()
	}
	h.log.Info().Msg("Gateway link closed")
}

func (h *Hub) armGraceTimer() {
	h.clearGraceTimer()
	h.graceTimer = time.AfterFunc(h.opts.ReconnectGrace, func() {
		h.post(func() {
			if h.gw == nil && !h.stopped {
				// Idempotent re-mark; pending commands were already rejected at close time.
				h.bridge.GatewayDisconnected(h.gatewayID)
			}
		})
	})
}

func (h *Hub) clearGraceTimer() {
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
}

func (h *Hub) handleGatewayText(l *link, data []byte) {
	if h.gw != l {
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		h.log.Warn().Err(err).Msg("Dropping malformed gateway message")
		return
	}

	switch env.Type {
	case protocol.TypeGatewayHello:
		h.handleHello(l, data)

	case protocol.TypeGatewayHealth:
		h.bridge.GatewayAlive(h.gatewayID)

	case protocol.TypeAck:
		h.handleAck(data)

	case protocol.TypeSessionStarted:
		h.handleSessionLifecycle(env, data, session.StatusRunning)
	case protocol.TypeSessionEnded:
		h.handleSessionLifecycle(env, data, session.StatusEnded)
	case protocol.TypeSessionError:
		h.handleSessionLifecycle(env, data, session.StatusError)

	case protocol.TypeSessionSnapshot:
		if env.RequestID != "" {
			h.resolvePending(env.RequestID, data)
		}
		h.fanOutText(env.SessionID, data)

	case protocol.TypeSSHKeys, protocol.TypeAgentInstalled, protocol.TypeGatewayUpdated:
		h.resolvePending(env.RequestID, data)

	case protocol.TypeFileContentBegin, protocol.TypeFileContentChunk, protocol.TypeFileContentEnd:
		h.routeTransfer(env, data)

	default:
		h.log.Debug().Str("type", env.Type).Msg("Dropping unrecognized gateway event")
	}
}

func (h *Hub) handleHello(l *link, data []byte) {
	var hello protocol.HelloEvent
	if err := json.Unmarshal(data, &hello); err != nil {
		h.log.Warn().Err(err).Msg("Dropping malformed hello")
		return
	}

	if hello.GatewayID != h.gatewayID {
		// The router authenticated one identity; the payload claims another. Sever without touching any state.
		h.log.Warn().Str("claimed_id", hello.GatewayID).Msg("Gateway hello identity mismatch")
		l.closeWithCode(protocol.ClosePolicyViolation, "gateway identity mismatch")
		return
	}

	h.gwReady = true
	h.bridge.GatewayConnected(h.gatewayID, hello.Version)
	h.log.Info().Str("version", hello.Version).Str("os", hello.SystemInfo.OS).Msg("Gateway hello accepted")
}

func (h *Hub) handleAck(data []byte) {
	var ack protocol.AckEvent
	if err := json.Unmarshal(data, &ack); err != nil {
		h.log.Warn().Err(err).Msg("Dropping malformed ack")
		return
	}

	w, ok := h.pending[ack.RequestID]
	if !ok {
		h.log.Debug().Str("request_id", ack.RequestID).Msg("Ack for unknown request")
		return
	}
	delete(h.pending, ack.RequestID)
	w.timer.Stop()

	if ack.OK {
		w.resp <- cmdResult{event: data}
		h.metrics.commandDone(outcomeResolved, time.Since(w.started))
		return
	}
	w.resp <- cmdResult{err: fmt.Errorf("%w: %s", ErrCommandFailed, ack.Error)}
	h.metrics.commandDone(outcomeFailed, time.Since(w.started))
}

func (h *Hub) handleSessionLifecycle(env protocol.Envelope, data []byte, status session.Status) {
	h.bridge.SessionStatus(env.SessionID, status)
	if env.RequestID != "" {
		h.resolvePending(env.RequestID, data)
	}
	h.fanOutText(env.SessionID, data)
}

// resolvePending resolves the waiter for a request id with the raw inbound event. A missing waiter is not an error:
// snapshot events issued on browser attach are deliberately never awaited.
func (h *Hub) resolvePending(requestID string, data []byte) {
	w, ok := h.pending[requestID]
	if !ok {
		return
	}
	delete(h.pending, requestID)
	w.timer.Stop()
	w.resp <- cmdResult{event: data}
	h.metrics.commandDone(outcomeResolved, time.Since(w.started))
}

func (h *Hub) rejectAllPending(cause error) {
	for id, w := range h.pending {
		delete(h.pending, id)
		w.timer.Stop()
		w.resp <- cmdResult{err: cause}
		h.metrics.commandDone(outcomeDisconnected, time.Since(w.started))
	}
}

func (h *Hub) handleGatewayBinary(l *link, data []byte) {
	if h.gw != l {
		return
	}

	frame, err := protocol.DecodeTerminalFrame(data)
	if err != nil {
		h.log.Warn().Err(err).Msg("Dropping undecodable terminal frame")
		return
	}
	if len(frame.Payload) > h.opts.MaxBinaryBytes {
		h.log.Warn().Int("bytes", len(frame.Payload)).Str("session_id", frame.SessionID).
			Msg("Dropping oversize terminal frame")
		return
	}

	subs := h.subscribers[frame.SessionID]
	if len(subs) == 0 {
		return
	}
	// Forward the raw frame bytes: subscribers re-decode, and the sequence bytes stay verbatim.
	for sub := range subs {
		sub.enqueue(websocket.BinaryMessage, data)
	}
	h.metrics.frameRelayed(len(data), len(subs))
}

func (h *Hub) fanOutText(sessionID string, data []byte) {
	for sub := range h.subscribers[sessionID] {
		sub.enqueueText(data)
	}
}

func (h *Hub) routeTransfer(env protocol.Envelope, data []byte) {
	route, ok := h.transfers[env.TransferID]
	if !ok {
		h.log.Debug().Str("transfer_id", env.TransferID).Msg("Dropping unrouted file content event")
		return
	}

	var ev protocol.FileContentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.log.Warn().Err(err).Str("transfer_id", env.TransferID).Msg("Dropping malformed file content event")
		return
	}

	select {
	case route.ch <- ev:
	default:
		h.log.Warn().Str("transfer_id", env.TransferID).Msg("Transfer consumer stalled, cancelling route")
		h.closeTransfer(env.TransferID, route)
		return
	}

	if env.Type == protocol.TypeFileContentEnd {
		h.closeTransfer(env.TransferID, route)
	}
}

func (h *Hub) closeTransfer(transferID string, route *transferRoute) {
	if current, ok := h.transfers[transferID]; !ok || current != route {
		return
	}
	delete(h.transfers, transferID)
	close(route.ch)
}

// --- Command dispatch --------------------------------------------------------------------------------------------

func (h *Hub) dispatchCommand(envelope []byte, requestID string, resp chan<- cmdResult) {
	if h.stopped {
		resp <- cmdResult{err: ErrHubClosed}
		return
	}
	if h.gw == nil {
		resp <- cmdResult{err: ErrGatewayNotConnected}
		h.metrics.commandDone(outcomeRejected, 0)
		return
	}
	if _, inFlight := h.pending[requestID]; inFlight {
		resp <- cmdResult{err: fmt.Errorf("%w: %s", ErrDuplicateRequestID, requestID)}
		h.metrics.commandDone(outcomeRejected, 0)
		return
	}

	w := &waiter{resp: resp, started: time.Now()}
	// The timeout is armed in the same turn as the insertion, so a pending entry can never outlive its deadline.
	w.timer = time.AfterFunc(h.opts.CommandTimeout, func() {
		h.post(func() { h.timeoutPending(requestID, w) })
	})
	h.pending[requestID] = w

	h.gw.enqueueText(envelope)
}

func (h *Hub) timeoutPending(requestID string, w *waiter) {
	current, ok := h.pending[requestID]
	if !ok || current != w {
		return
	}
	delete(h.pending, requestID)
	w.resp <- cmdResult{err: ErrCommandTimeout}
	h.metrics.commandDone(outcomeTimeout, time.Since(w.started))
}

// relayRealtime forwards a fire-and-forget command to the gateway. With no gateway link the message is silently
// dropped; the outcome of these commands is visible through subsequent terminal output, never through an ack.
func (h *Hub) relayRealtime(data []byte) {
	if h.gw == nil {
		return
	}
	h.gw.enqueueText(data)
}

// --- Browser links -----------------------------------------------------------------------------------------------

func (h *Hub) installBrowser(l *link, sessionID string) {
	if h.stopped {
		l.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		return
	}

	set, ok := h.subscribers[sessionID]
	if !ok {
		set = make(map[*link]struct{})
		h.subscribers[sessionID] = set
	}
	set[l] = struct{}{}
	h.sessionOf[l] = sessionID
	h.activity[l] = time.Now()
	h.metrics.browserAttached(1)

	// Bootstrap the late joiner with a fresh snapshot. The reply is not awaited: the resulting session.snapshot event
	// fans out through the normal path and reaches this subscriber like any other.
	if h.gw != nil {
		if cmd, err := protocol.NewSnapshotCommand(ids.NewRequestID("snap"), sessionID); err == nil {
			h.gw.enqueueText(cmd)
		}
	}
	l.log.Debug().Int("subscribers", len(set)).Msg("Browser subscribed")
}

func (h *Hub) readBrowser(l *link) {
	defer func() {
		l.close()
		h.post(func() { h.detachBrowser(l) })
	}()

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if len(data) > h.opts.MaxTextBytes {
			h.post(func() { h.browserOversize(l) })
			continue
		}
		h.post(func() { h.handleBrowserText(l, data) })
	}
}

func (h *Hub) browserOversize(l *link) {
	if _, attached := h.sessionOf[l]; !attached {
		return
	}
	if frame, err := protocol.NewErrorFrame(protocol.ErrCodePayloadTooLarge, "message exceeds size limit"); err == nil {
		l.enqueueText(frame)
	}
	l.closeWithCode(protocol.ClosePolicyViolation, "payload too large")
}

func (h *Hub) handleBrowserText(l *link, data []byte) {
	if _, attached := h.sessionOf[l]; !attached {
		return
	}
	h.activity[l] = time.Now()

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		// Recoverable: tell the browser and keep the socket open.
		if frame, fErr := protocol.NewErrorFrame(protocol.ErrCodeInvalidPayload, "invalid JSON payload"); fErr == nil {
			l.enqueueText(frame)
		}
		return
	}

	switch env.Type {
	case protocol.TypeSessionInput, protocol.TypeSessionResize, protocol.TypeSessionAck:
		h.relayRealtime(data)
	case protocol.TypePing:
		if frame, fErr := protocol.NewPongFrame(); fErr == nil {
			l.enqueueText(frame)
		}
	default:
		if frame, fErr := protocol.NewErrorFrame(protocol.ErrCodeUnknownType, "unknown message type: "+env.Type); fErr == nil {
			l.enqueueText(frame)
		}
	}
}

func (h *Hub) detachBrowser(l *link) {
	h.removeBrowser(l)
}

func (h *Hub) removeBrowser(l *link) {
	sessionID, attached := h.sessionOf[l]
	if !attached {
		return
	}

	if set, ok := h.subscribers[sessionID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
	delete(h.sessionOf, l)
	delete(h.activity, l)
	h.metrics.browserAttached(-1)
	l.log.Debug().Msg("Browser detached")
}

func (h *Hub) sweepIdle() {
	if h.stopped {
		return
	}
	cutoff := time.Now().Add(-h.opts.IdleTimeout)
	for l, last := range h.activity {
		if last.Before(cutoff) {
			l.log.Info().Msg("Evicting idle browser")
			l.closeWithCode(protocol.CloseNormal, "idle timeout")
			h.removeBrowser(l)
		}
	}
}

// --- Shutdown ----------------------------------------------------------------------------------------------------

func (h *Hub) teardown() {
	if h.stopped {
		return
	}
	h.stopped = true

	if h.gw != nil {
		h.gw.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		h.gw = nil
		h.gwReady = false
		h.metrics.gatewayAttached(-1)
	}

	h.rejectAllPending(ErrHubClosed)

	for l := range h.sessionOf {
		l.closeWithCode(protocol.CloseGoingAway, "hub shutting down")
		h.removeBrowser(l)
	}

	for id, route := range h.transfers {
		delete(h.transfers, id)
		close(route.ch)
	}

	h.clearGraceTimer()
}
