// Package routing implements the message routing core: the Routing
// Table, Non-Routing Table, Group Matrix, Group-Change Handler, Network
// Utilities, and Message Handler components, wired together by Node.
package routing

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/identity"
	"github.com/walmircouto/MaidSafe-Routing/transport"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

// Node is the per-process assembly of the six routing components from
// §2 of the spec. It owns the wiring between them: RT/NRT mutation
// callbacks keep the Group Matrix and subscriber broadcasts in
// lock-step, and inbound transport frames are decoded and fed to the
// Message Handler.
type Node struct {
	Self     id.Id
	SelfInfo *NodeInfo
	Params   *config.Parameters

	RT      *RoutingTable
	NRT     *NonRoutingTable
	GM      *GroupMatrix
	Group   *GroupChangeHandler
	Net     *NetworkUtils
	Service *Service
	Handler *MessageHandler
	Timer   *ResponseTimer

	codec *wire.Codec
}

// NewNode assembles a full routing node for selfInfo, using validator to
// screen inbound public keys, tr as the transport, and codec as the wire
// framing. clientMode marks this node as a non-routing client per §4.6.1.
func NewNode(selfInfo *NodeInfo, params *config.Parameters, validator identity.PublicKeyValidator,
	tr transport.Transport, codec *wire.Codec, clientMode bool) *Node {

	rt := NewRoutingTable(selfInfo.NodeId, params, validator)
	nrt := NewNonRoutingTable(params)
	gm := NewGroupMatrix(rt, selfInfo.NodeId, params)
	group := NewGroupChangeHandler(selfInfo.NodeId, rt, gm, params)
	net := NewNetworkUtils(selfInfo.NodeId, params, rt, nrt, tr, codec)
	group.SetSender(net)
	service := NewService(selfInfo, rt, nrt, group)
	handler := NewMessageHandler(selfInfo, params, rt, nrt, gm, net, service, NoopCache{}, clientMode)
	timer := NewResponseTimer(params.RetryBackoff * 20)

	n := &Node{
		Self: selfInfo.NodeId, SelfInfo: selfInfo, Params: params,
		RT: rt, NRT: nrt, GM: gm, Group: group, Net: net, Service: service,
		Handler: handler, Timer: timer, codec: codec,
	}

	rt.OnAdd(func(nodeID id.Id) {
		gm.Sync()
		n.broadcastGroupChange()
		group.SendSubscribeRpc(true, nil)
	})
	rt.OnDrop(func(nodeID id.Id) {
		gm.Sync()
		group.Unsubscribe(nodeID)
		n.broadcastGroupChange()
	})

	return n
}

func (n *Node) broadcastGroupChange() {
	closest := n.RT.GetClosestNodes(n.Self, n.Params.ClosestNodesSize, nil, false)
	n.Group.SendClosestNodesUpdateRpcs(closest)
}

// HandleInbound decodes a wire frame delivered by the transport and feeds
// it through the classification cascade. It is the function passed as
// the transport's on_message callback.
func (n *Node) HandleInbound(frame []byte) {
	msg, err := n.codec.Decode(frame)
	if err != nil {
		logrus.WithError(err).Warn("node: failed to decode inbound frame")
		return
	}
	n.Handler.HandleMessage(msg)
}

// HandleConnectionLost drops nodeID from whichever table holds it and
// cascades the update, matching the §3 lifecycle rule that RT/NRT entries
// are destroyed on transport disconnect.
func (n *Node) HandleConnectionLost(nodeID id.Id) {
	if n.RT.DropNode(nodeID) {
		return
	}
	n.NRT.DropNode(nodeID)
}

// Bootstrap joins the network through one of endpoints, wiring this
// node's inbound message and connection-lost handling to the transport.
func (n *Node) Bootstrap(ctx context.Context, endpoints []string, isClient bool) (id.Id, error) {
	return n.Net.Bootstrap(ctx, endpoints, isClient, n.HandleInbound, n.HandleConnectionLost)
}

// Stop tears down outbound dispatch and cancels every pending response
// timer, per §5's shutdown contract.
func (n *Node) Stop() {
	n.Net.Stop()
	n.Timer.CancelAll()
}
