package hub

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(testOptions(), newFakeBridge(), nil, zerolog.Nop())
	t.Cleanup(r.CloseAll)
	return r
}

func TestRegistryCanonicalizesGatewayID(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	a := r.Get("gw-abc")
	b := r.Get("  GW-ABC  ")
	if a != b {
		t.Fatal("cosmetically different ids must route to the same hub")
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	if _, ok := r.Lookup("gw-missing"); ok {
		t.Fatal("lookup must not create a hub")
	}
	r.Get("gw-present")
	if _, ok := r.Lookup("gw-present"); !ok {
		t.Fatal("lookup must find a hub created by Get")
	}
}

func TestRegistrySendWithoutGateway(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	if _, err := r.Send("gw-offline", endCommand("req-1")); !errors.Is(err, ErrGatewayNotConnected) {
		t.Fatalf("send error = %v, want ErrGatewayNotConnected", err)
	}
}

func TestRegistrySendRoundTrip(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	h := r.Get(testGatewayID)
	conn := attachGateway(t, h)

	res := make(chan cmdResult, 1)
	go func() {
		event, err := r.Send(testGatewayID, endCommand("req-rt"))
		res <- cmdResult{event: event, err: err}
	}()
	waitFor(t, "command forwarded", func() bool {
		return conn.hasTextWrite(func(env protocol.Envelope, _ []byte) bool { return env.RequestID == "req-rt" })
	})

	conn.pushText(ackPayload("req-rt", true, ""))
	if out := awaitResult(t, res); out.err != nil {
		t.Fatalf("send error = %v, want nil", out.err)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testOptions(), newFakeBridge(), nil, zerolog.Nop())

	h := r.Get("gw-one")
	r.Get("gw-two")
	r.CloseAll()

	if _, err := h.Command(endCommand("req-x")); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("command on closed hub error = %v, want ErrHubClosed", err)
	}
	if _, ok := r.Lookup("gw-one"); ok {
		t.Fatal("registry must be empty after CloseAll")
	}
}
