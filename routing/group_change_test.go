package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walmircouto/MaidSafe-Routing/id"
)

type recordingSender struct {
	updates     []struct{ to *NodeInfo; nodes []*NodeInfo }
	subscribes  []struct{ to *NodeInfo; subscribe bool }
}

func (r *recordingSender) SendClosestNodesUpdate(to *NodeInfo, closeNodes []*NodeInfo) {
	r.updates = append(r.updates, struct {
		to    *NodeInfo
		nodes []*NodeInfo
	}{to, closeNodes})
}

func (r *recordingSender) SendSubscribe(to *NodeInfo, subscribe bool) {
	r.subscribes = append(r.subscribes, struct {
		to        *NodeInfo
		subscribe bool
	}{to, subscribe})
}

func TestSubscribersAddIsIdempotent(t *testing.T) {
	s := NewSubscribers()
	n := &NodeInfo{NodeId: mustID(t)}
	assert.True(t, s.Add(n))
	assert.False(t, s.Add(n))
	assert.Len(t, s.List(), 1)
}

func mustID(t *testing.T) id.Id {
	t.Helper()
	v, err := id.NewRandom()
	require.NoError(t, err)
	return v
}

func TestSubscribeRequiresPeerInRT(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)
	sender := &recordingSender{}
	handler.SetSender(sender)

	stranger := &NodeInfo{NodeId: mustID(t)}
	handler.ClosestNodesUpdateSubscribe(self, stranger, true)

	assert.False(t, handler.Subscribers().Contains(stranger.NodeId))
	assert.Empty(t, sender.updates)
}

func TestSubscribeSendsInitialUpdate(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)
	sender := &recordingSender{}
	handler.SetSender(sender)

	peer := newTestNodeInfo(t)
	_, err := rt.AddNode(peer)
	require.NoError(t, err)

	handler.ClosestNodesUpdateSubscribe(self, peer, true)

	assert.True(t, handler.Subscribers().Contains(peer.NodeId))
	require.Len(t, sender.updates, 1)
	assert.Equal(t, peer.NodeId, sender.updates[0].to.NodeId)
}

func TestUnsubscribeRemoves(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)

	peer := newTestNodeInfo(t)
	_, err := rt.AddNode(peer)
	require.NoError(t, err)
	handler.subscribe(peer)
	require.True(t, handler.Subscribers().Contains(peer.NodeId))

	handler.Unsubscribe(peer.NodeId)
	assert.False(t, handler.Subscribers().Contains(peer.NodeId))
}

func TestClosestNodesUpdateIgnoredWhenEmpty(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)

	peer := newTestNodeInfo(t)
	_, err := rt.AddNode(peer)
	require.NoError(t, err)
	gm.Sync()

	handler.ClosestNodesUpdate(self, peer.NodeId, nil)
	// Only the row key (peer, resolved through RT) remains in the union.
	unique := gm.GetUniqueNodes()
	require.Len(t, unique, 1)
	assert.Equal(t, peer.NodeId, unique[0].NodeId)
}

func TestClosestNodesUpdateWrongDestinationDropped(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)

	other := mustID(t)
	peer := newTestNodeInfo(t)
	_, err := rt.AddNode(peer)
	require.NoError(t, err)
	gm.Sync()

	handler.ClosestNodesUpdate(other, peer.NodeId, []*NodeInfo{newTestNodeInfo(t)})
	// The reported node was not applied: only the row key (peer) remains.
	unique := gm.GetUniqueNodes()
	require.Len(t, unique, 1)
	assert.Equal(t, peer.NodeId, unique[0].NodeId)
}

func TestSendClosestNodesUpdateRpcsBroadcastsToAllSubscribers(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)
	sender := &recordingSender{}
	handler.SetSender(sender)

	a := newTestNodeInfo(t)
	b := newTestNodeInfo(t)
	_, err := rt.AddNode(a)
	require.NoError(t, err)
	_, err = rt.AddNode(b)
	require.NoError(t, err)
	handler.subscribe(a)
	handler.subscribe(b)
	sender.updates = nil

	handler.SendClosestNodesUpdateRpcs([]*NodeInfo{newTestNodeInfo(t)})
	assert.Len(t, sender.updates, 2)
}

func TestSendSubscribeRpcTellsNodesNeedingUpdates(t *testing.T) {
	self := mustID(t)
	params := newTestParams()
	rt := NewRoutingTable(self, params, nil)
	gm := NewGroupMatrix(rt, self, params)
	handler := NewGroupChangeHandler(self, rt, gm, params)
	sender := &recordingSender{}
	handler.SetSender(sender)

	peer := newTestNodeInfo(t)
	_, err := rt.AddNode(peer)
	require.NoError(t, err)
	gm.Sync()
	// simulate peer's own close-group reporting self as a member.
	gm.UpdateFromConnectedPeer(peer.NodeId, []*NodeInfo{{NodeId: self}})

	handler.SendSubscribeRpc(true, nil)
	require.Len(t, sender.subscribes, 1)
	assert.Equal(t, peer.NodeId, sender.subscribes[0].to.NodeId)
	assert.True(t, sender.subscribes[0].subscribe)
}
