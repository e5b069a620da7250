package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/id"
)

// Network is a shared in-memory fabric that InMemory transports register
// with. It plays the role the original's FakeNetwork singleton plays for
// its fakerudp double: a process-local registry letting simulated nodes
// find each other by id without a real socket.
type Network struct {
	mu    sync.Mutex
	nodes map[id.Id]*InMemory
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{nodes: make(map[id.Id]*InMemory)}
}

func (n *Network) register(t *InMemory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[t.self] = t
}

func (n *Network) unregister(self id.Id) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, self)
}

func (n *Network) lookup(peer id.Id) (*InMemory, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.nodes[peer]
	return t, ok
}

// InMemory is a deterministic, synchronous Transport implementation
// backed by a Network. It is the routing package's test double for the
// end-to-end scenarios in §8 of the spec.
type InMemory struct {
	network *Network
	self    id.Id

	mu               sync.Mutex
	onMessage        MessageReceivedFunc
	onConnectionLost ConnectionLostFunc
	connected        map[id.Id]struct{}
	injectedFailures map[id.Id][]SendResult
	stopped          bool
}

// NewInMemory creates a transport for self on the given fabric and
// registers it so peers can find it.
func NewInMemory(network *Network, self id.Id) *InMemory {
	t := &InMemory{
		network:          network,
		self:             self,
		connected:        make(map[id.Id]struct{}),
		injectedFailures: make(map[id.Id][]SendResult),
	}
	network.register(t)
	return t
}

// Bootstrap connects to the first endpoint that names a node currently
// registered on the fabric. Endpoints are interpreted as hex-encoded ids
// for this in-memory double, since it has no real network addresses.
func (t *InMemory) Bootstrap(_ context.Context, endpoints []string, _ bool,
	onMessage MessageReceivedFunc, onConnectionLost ConnectionLostFunc) (id.Id, error) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onConnectionLost = onConnectionLost
	t.mu.Unlock()

	for _, ep := range endpoints {
		peer, err := id.FromHex(ep)
		if err != nil {
			continue
		}
		if _, ok := t.network.lookup(peer); ok {
			t.connect(peer)
			return peer, nil
		}
	}
	logrus.Warn("transport: no online bootstrap contacts")
	return id.Id{}, ErrNoContacts{}
}

// GetAvailableEndpoint returns a trivial pair naming both ids in hex; the
// in-memory fabric has no real addressing.
func (t *InMemory) GetAvailableEndpoint(peer id.Id) (EndpointPair, error) {
	if _, ok := t.network.lookup(peer); !ok {
		return EndpointPair{}, fmt.Errorf("transport: peer %s not reachable", peer.Short())
	}
	return EndpointPair{Local: t.self.String(), Peer: peer.String()}, nil
}

// Add marks peer as connected on both ends, mirroring a successful
// handshake. Validation data is accepted unconditionally by this double;
// real identity checks are the identity collaborator's job.
func (t *InMemory) Add(_, peer id.Id, _ []byte) error {
	if _, ok := t.network.lookup(peer); !ok {
		return fmt.Errorf("transport: peer %s not reachable", peer.Short())
	}
	t.connect(peer)
	return nil
}

func (t *InMemory) connect(peer id.Id) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[peer] = struct{}{}
}

// Send delivers data to peer's onMessage callback synchronously unless a
// failure has been injected for this peer via FailNextSend, or the
// transport has been stopped, or the peer is unknown (terminal).
func (t *InMemory) Send(peer id.Id, data []byte, callback SendCallback) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		if callback != nil {
			callback(SendTerminal)
		}
		return
	}
	if queued := t.injectedFailures[peer]; len(queued) > 0 {
		next := queued[0]
		t.injectedFailures[peer] = queued[1:]
		t.mu.Unlock()
		if callback != nil {
			callback(next)
		}
		return
	}
	t.mu.Unlock()

	peerTransport, ok := t.network.lookup(peer)
	if !ok {
		if callback != nil {
			callback(SendTerminal)
		}
		return
	}

	peerTransport.mu.Lock()
	onMessage := peerTransport.onMessage
	stopped := peerTransport.stopped
	peerTransport.mu.Unlock()

	if stopped || onMessage == nil {
		if callback != nil {
			callback(SendTerminal)
		}
		return
	}

	onMessage(data)
	if callback != nil {
		callback(SendSuccess)
	}
}

// Remove tears down the local record of a connection. It only affects
// this node's view, does not touch the peer's table, and fires no
// connection-lost callback; matching the original, the caller is
// responsible for emitting its own on_connection_lost after Remove.
func (t *InMemory) Remove(peer id.Id) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connected, peer)
}

// FailNextSend queues result to be returned, instead of actually
// delivering, for the next n calls to Send(peer, ...). It is a test hook
// used to drive the retry/eviction scenario (§8 S4).
func (t *InMemory) FailNextSend(peer id.Id, result SendResult, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.injectedFailures[peer] = append(t.injectedFailures[peer], result)
	}
}

// Stop marks the transport as stopped; further Send calls fail terminally
// and no more messages are delivered to it.
func (t *InMemory) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.network.unregister(t.self)
}

// IsConnected reports whether peer is currently marked connected.
func (t *InMemory) IsConnected(peer id.Id) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.connected[peer]
	return ok
}
