package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/transport"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

func newTestCodec(t *testing.T) *wire.Codec {
	t.Helper()
	c, err := wire.NewCodec(config.CompressionNone)
	require.NoError(t, err)
	return c
}

func fastParams() *config.Parameters {
	p := newTestParams()
	p.RetryBackoff = time.Millisecond
	p.NodeRetryAttempts = 3
	return p
}

func TestSendToDirectSingleAttemptNoRetry(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	peerID, _ := id.NewRandom()
	selfTr := transport.NewInMemory(net, selfID)
	peerTr := transport.NewInMemory(net, peerID)

	var received [][]byte
	peerTr.Bootstrap(nil, nil, false, func(frame []byte) { received = append(received, frame) }, nil)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))

	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: peerID, Request: true, Direct: true}
	nu.SendToDirect(msg, peerID, peerID)

	require.Len(t, received, 1)
}

func TestSendToDirectUnknownPeerDoesNotPanic(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	unknown, _ := id.NewRandom()
	selfTr := transport.NewInMemory(net, selfID)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))

	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: unknown, Request: true, Direct: true}
	assert.NotPanics(t, func() { nu.SendToDirect(msg, unknown, unknown) })
}

func TestSendToClosestNodePrefersDirectClient(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	clientID, _ := id.NewRandom()
	selfTr := transport.NewInMemory(net, selfID)
	clientTr := transport.NewInMemory(net, clientID)

	var received int
	clientTr.Bootstrap(nil, nil, false, func([]byte) { received++ }, nil)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	client := NewNodeInfo(clientID, []byte("k"))
	require.NoError(t, nrt.AddNode(client, selfID))

	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))
	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: clientID, Request: true, Direct: true}
	nu.SendToClosestNode(msg)

	assert.Equal(t, 1, received)
}

func TestSendToClosestNodeNoRouteLogsAndDrops(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	dest, _ := id.NewRandom()
	selfTr := transport.NewInMemory(net, selfID)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))

	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: dest, Request: true, Direct: false}
	assert.NotPanics(t, func() { nu.SendToClosestNode(msg) })
}

// TestRecursiveSendOnRetriesThenEvicts drives §8 scenario S4: three
// send failures to the same next-hop cause exactly three attempts, then
// eviction from RT and an on_connection_lost callback, then re-routing to
// whichever peer is now closest.
func TestRecursiveSendOnRetriesThenEvicts(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	failingID, _ := id.NewRandom()
	backupID, _ := id.NewRandom()
	dest, _ := id.NewRandom()

	selfTr := transport.NewInMemory(net, selfID)
	failingTr := transport.NewInMemory(net, failingID)
	backupTr := transport.NewInMemory(net, backupID)

	received := make(map[id.Id]int)
	failingTr.Bootstrap(nil, nil, false, func([]byte) { received[failingID]++ }, nil)
	backupTr.Bootstrap(nil, nil, false, func([]byte) { received[backupID]++ }, nil)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)

	failing := NewNodeInfo(failingID, []byte("k"))
	backup := NewNodeInfo(backupID, []byte("k"))
	_, err := rt.AddNode(failing)
	require.NoError(t, err)
	_, err = rt.AddNode(backup)
	require.NoError(t, err)

	var lostConnections []id.Id
	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))
	nu.onConnectionLost = func(connID id.Id) { lostConnections = append(lostConnections, connID) }

	// Whichever of failing/backup is closer to dest becomes the first
	// hop; fail every attempt against it. The retry loop should then
	// drop it from RT and land on the other peer.
	first, ok := rt.GetClosestNode(dest, nil, false)
	require.True(t, ok)
	survivor := backupID
	if first.NodeId.Equal(backupID) {
		survivor = failingID
	}
	// Failures are injected on the sending side: self's sends to first.
	selfTr.FailNextSend(first.ConnectionId, transport.SendFailure, params.NodeRetryAttempts)

	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: dest, Request: true, Direct: false}
	nu.recursiveSendOn(msg, nil, 0)

	assert.False(t, rt.Contains(first.NodeId), "failing peer should be evicted after exhausting retries")
	require.Len(t, lostConnections, 1)
	assert.Equal(t, first.ConnectionId, lostConnections[0])
	assert.Equal(t, 1, received[survivor], "message should ultimately reach the surviving peer")
}

// TestRecursiveSendOnSkipsRouteHistoryButNotSelf drives §8 scenario S5:
// a route history containing this node must not block forwarding onward
// to a distinct peer.
func TestRecursiveSendOnSkipsRouteHistoryButNotSelf(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	peerID, _ := id.NewRandom()
	dest, _ := id.NewRandom()

	selfTr := transport.NewInMemory(net, selfID)
	peerTr := transport.NewInMemory(net, peerID)
	var received int
	peerTr.Bootstrap(nil, nil, false, func([]byte) { received++ }, nil)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	peer := NewNodeInfo(peerID, []byte("k"))
	_, err := rt.AddNode(peer)
	require.NoError(t, err)

	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))
	msg := &wire.Message{
		Type: config.Ping, SourceId: selfID, DestinationId: dest, Request: true, Direct: false,
		RouteHistory: []id.Id{selfID},
	}
	nu.recursiveSendOn(msg, nil, 0)

	assert.Equal(t, 1, received)
}

func TestStopPreventsFurtherRecursiveSends(t *testing.T) {
	net := transport.NewNetwork()
	selfID, _ := id.NewRandom()
	peerID, _ := id.NewRandom()
	dest, _ := id.NewRandom()

	selfTr := transport.NewInMemory(net, selfID)
	peerTr := transport.NewInMemory(net, peerID)
	var received int
	peerTr.Bootstrap(nil, nil, false, func([]byte) { received++ }, nil)

	params := fastParams()
	rt := NewRoutingTable(selfID, params, nil)
	nrt := NewNonRoutingTable(params)
	peer := NewNodeInfo(peerID, []byte("k"))
	_, err := rt.AddNode(peer)
	require.NoError(t, err)

	nu := NewNetworkUtils(selfID, params, rt, nrt, selfTr, newTestCodec(t))
	nu.Stop()

	msg := &wire.Message{Type: config.Ping, SourceId: selfID, DestinationId: dest, Request: true, Direct: false}
	nu.recursiveSendOn(msg, nil, 0)

	assert.Equal(t, 0, received)
}
