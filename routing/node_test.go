package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/identity"
	"github.com/walmircouto/MaidSafe-Routing/transport"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

func newTestNode(t *testing.T, net *transport.Network, params *config.Parameters, clientMode bool) (*Node, *transport.InMemory) {
	t.Helper()
	self, err := id.NewRandom()
	require.NoError(t, err)
	selfInfo := NewNodeInfo(self, []byte("k"))
	tr := transport.NewInMemory(net, self)
	codec := newTestCodec(t)
	n := NewNode(selfInfo, params, identity.Ed25519Validator{}, tr, codec, clientMode)
	return n, tr
}

func TestNodeOnAddSyncsGroupMatrix(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, _ := newTestNode(t, net, params, false)

	peer := newTestNodeInfo(t)
	_, err := n.RT.AddNode(peer)
	require.NoError(t, err)

	n.RT.mu.RLock()
	rowCount := len(n.GM.rows)
	n.RT.mu.RUnlock()
	assert.Equal(t, 1, rowCount, "the newly admitted peer should get its own matrix row after sync")
}

func TestNodeOnDropUnsubscribesEvictedPeer(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, _ := newTestNode(t, net, params, false)

	peer := newTestNodeInfo(t)
	_, err := n.RT.AddNode(peer)
	require.NoError(t, err)
	n.Group.subscribe(peer)
	require.True(t, n.Group.Subscribers().Contains(peer.NodeId))

	require.True(t, n.RT.DropNode(peer.NodeId))
	assert.False(t, n.Group.Subscribers().Contains(peer.NodeId))
}

func TestNodeHandleInboundDecodesAndDispatches(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, tr := newTestNode(t, net, params, false)
	tr.Bootstrap(context.Background(), nil, false, n.HandleInbound, n.HandleConnectionLost)

	var pinged bool
	n.Handler.SetApplicationHandler(func([]byte, id.Id, bool, ReplyFunc) { pinged = true })

	msg := &wire.Message{Type: config.Ping, SourceId: n.Self, DestinationId: n.Self, Request: true, Direct: true, HopsToLive: 8}
	frame, err := n.codec.Encode(msg)
	require.NoError(t, err)

	n.HandleInbound(frame)
	assert.False(t, pinged, "a routing-type ping must not reach the application handler")
}

func TestNodeHandleInboundDropsUndecodableFrame(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, _ := newTestNode(t, net, params, false)
	assert.NotPanics(t, func() { n.HandleInbound([]byte("not a frame")) })
}

func TestNodeHandleConnectionLostDropsFromWhicheverTable(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, _ := newTestNode(t, net, params, false)

	peer := newTestNodeInfo(t)
	_, err := n.RT.AddNode(peer)
	require.NoError(t, err)

	n.HandleConnectionLost(peer.NodeId)
	assert.False(t, n.RT.Contains(peer.NodeId))
}

func TestNodeStopCancelsTimers(t *testing.T) {
	net := transport.NewNetwork()
	params := fastParams()
	n, _ := newTestNode(t, net, params, false)

	ch := n.Timer.Await(1)
	n.Stop()

	_, ok := <-ch
	assert.False(t, ok)
}
