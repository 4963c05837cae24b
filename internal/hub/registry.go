package hub

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

// Registry owns every live hub in the process, one per gateway identity. Hubs are created lazily on first use and
// live until process shutdown; an idle hub is just a few idle goroutines and maps.
type Registry struct {
	opts    Options
	bridge  Bridge
	metrics *Metrics
	log     zerolog.Logger

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry creates an empty registry. All hubs it mints share the same options, bridge, and metrics.
func NewRegistry(opts Options, bridge Bridge, metrics *Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		opts:    opts,
		bridge:  bridge,
		metrics: metrics,
		log:     logger,
		hubs:    make(map[string]*Hub),
	}
}

// routingKey canonicalizes a gateway id for hub lookup so that cosmetic differences in the id never split one gateway
// across two hubs.
func routingKey(gatewayID string) string {
	return strings.ToLower(strings.TrimSpace(gatewayID))
}

// Get returns the hub for a gateway identity, creating and starting it if needed.
func (r *Registry) Get(gatewayID string) *Hub {
	key := routingKey(gatewayID)

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[key]
	if !ok {
		h = New(gatewayID, r.opts, r.bridge, r.metrics, r.log)
		r.hubs[key] = h
	}
	return h
}

// Lookup returns the hub for a gateway identity without creating one.
func (r *Registry) Lookup(gatewayID string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[routingKey(gatewayID)]
	return h, ok
}

// Send forwards an ack-tracked command envelope to a gateway and returns the resolving event. A gateway that has
// never connected has no hub; that is the same failure as a connected-then-lost gateway, so Send creates the hub and
// lets dispatch report ErrGatewayNotConnected.
func (r *Registry) Send(gatewayID string, envelope []byte) ([]byte, error) {
	return r.Get(gatewayID).Command(envelope)
}

// Notify forwards a fire-and-forget command to a gateway. See Hub.Notify.
func (r *Registry) Notify(gatewayID string, data []byte) {
	r.Get(gatewayID).Notify(data)
}

// OpenTransfer registers a file content route on a gateway's hub. See Hub.OpenTransfer.
func (r *Registry) OpenTransfer(gatewayID, transferID string) (<-chan protocol.FileContentEvent, func(), error) {
	return r.Get(gatewayID).OpenTransfer(transferID)
}

// ShutdownHub stops and removes the hub for a gateway identity, severing every connection it held. It is a no-op
// when no hub exists. A later Get mints a fresh hub for the same identity.
func (r *Registry) ShutdownHub(gatewayID string) {
	key := routingKey(gatewayID)
	r.mu.Lock()
	h, ok := r.hubs[key]
	if ok {
		delete(r.hubs, key)
	}
	r.mu.Unlock()
	if ok {
		h.Shutdown()
	}
}

// CloseAll shuts every hub down and empties the registry. Called once during process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.hubs = make(map[string]*Hub)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range hubs {
		wg.Add(1)
		go func(h *Hub) {
			defer wg.Done()
			h.Shutdown()
		}(h)
	}
	wg.Wait()
}
