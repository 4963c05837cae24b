package hub

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

// writeWait is the time allowed to write a single message to a peer.
const writeWait = 10 * time.Second

// sendBufferSize is the capacity of a link's outbound queue. Terminal output bursts hard, so the queue is generous;
// a peer that falls further behind than this is severed rather than allowed to stall fan-out.
const sendBufferSize = 512

// Conn is the subset of *websocket.Conn the hub touches. Upgrade handlers pass the real connection; tests substitute
// an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outFrame struct {
	messageType int
	data        []byte
}

// link wraps one WebSocket connection with a buffered writer goroutine. All outbound traffic goes through enqueue,
// which never blocks: a full buffer means the peer is too slow and the link is severed. The hub goroutine therefore
// cannot be stalled by any single peer.
type link struct {
	conn Conn
	send chan outFrame
	log  zerolog.Logger

	mu          sync.Mutex
	sendClosed  bool
	closeCode   int
	closeReason string
}

func newLink(conn Conn, logger zerolog.Logger) *link {
	return &link{
		conn: conn,
		send: make(chan outFrame, sendBufferSize),
		log:  logger,
	}
}

// enqueue queues a message for delivery. It reports false when the link is already closed. A full send buffer marks
// the peer stale: the message is dropped and the connection severed so fan-out to other subscribers continues.
func (l *link) enqueue(messageType int, data []byte) bool {
	l.mu.Lock()
	if l.sendClosed {
		l.mu.Unlock()
		return false
	}
	select {
	case l.send <- outFrame{messageType: messageType, data: data}:
		l.mu.Unlock()
		return true
	default:
		l.log.Warn().Msg("Peer send buffer full, severing connection")
		l.closeLocked(0, "")
		l.mu.Unlock()
		return false
	}
}

// enqueueText queues a JSON text frame.
func (l *link) enqueueText(data []byte) bool {
	return l.enqueue(websocket.TextMessage, data)
}

// closeWithCode stops the outbound queue and records the close frame to send once queued messages have drained. The
// first close wins; later calls are no-ops.
func (l *link) closeWithCode(code int, reason string) {
	l.mu.Lock()
	l.closeLocked(code, reason)
	l.mu.Unlock()
}

// close tears the link down without sending a close frame, used when the peer already went away.
func (l *link) close() {
	l.closeWithCode(0, "")
}

func (l *link) closeLocked(code int, reason string) {
	if l.sendClosed {
		return
	}
	l.sendClosed = true
	l.closeCode = code
	l.closeReason = reason
	close(l.send)
}

// writePump drains the send queue onto the wire. It runs in its own goroutine and exits when the queue is closed,
// sending the recorded close frame (if any) before releasing the connection. Write errors are swallowed: a dead peer
// is detected by its read pump and detached there.
func (l *link) writePump() {
	for f := range l.send {
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := l.conn.WriteMessage(f.messageType, f.data); err != nil {
			l.log.Debug().Err(err).Msg("WebSocket write error")
			break
		}
	}

	l.mu.Lock()
	code, reason := l.closeCode, l.closeReason
	l.mu.Unlock()

	if code != 0 {
		_ = l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait),
		)
	}
	_ = l.conn.Close()
}
