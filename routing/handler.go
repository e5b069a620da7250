package routing

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

// ReplyFunc builds and sends a response for a delivered application
// message. It is the Go analogue of the external application contract's
// ReplyFunctor (§6).
type ReplyFunc func(data []byte)

// MessageReceivedFunc is the application contract's MessageReceivedFunctor
// (§6): delivered for every application-level message addressed to this
// node, carrying the payload, an optional group claim, whether the
// message was deemed cacheable, and a reply capability.
type MessageReceivedFunc func(data []byte, groupClaim id.Id, cacheable bool, reply ReplyFunc)

// MessageHandler is the inbound classification state machine from §4.6.
// Guards are applied in the order the spec lists them; the first match
// dispatches and returns.
type MessageHandler struct {
	self     id.Id
	selfInfo *NodeInfo
	params   *config.Parameters

	rt      *RoutingTable
	nrt     *NonRoutingTable
	gm      *GroupMatrix
	net     *NetworkUtils
	service *Service
	cache   CacheManager

	clientMode bool

	onApplicationMessage MessageReceivedFunc
}

// NewMessageHandler wires the classification state machine to its
// collaborators. cache may be nil, in which case NoopCache is used.
func NewMessageHandler(selfInfo *NodeInfo, params *config.Parameters, rt *RoutingTable,
	nrt *NonRoutingTable, gm *GroupMatrix, net *NetworkUtils, service *Service,
	cache CacheManager, clientMode bool) *MessageHandler {
	if cache == nil {
		cache = NoopCache{}
	}
	return &MessageHandler{
		self: selfInfo.NodeId, selfInfo: selfInfo, params: params,
		rt: rt, nrt: nrt, gm: gm, net: net, service: service,
		cache: cache, clientMode: clientMode,
	}
}

// SetApplicationHandler registers the callback used to deliver
// application-level messages addressed to this node.
func (h *MessageHandler) SetApplicationHandler(fn MessageReceivedFunc) {
	h.onApplicationMessage = fn
}

// HandleMessage applies the §4.6 guard cascade to an inbound message.
func (h *MessageHandler) HandleMessage(msg *wire.Message) {
	// Guard 1: invalid or expired.
	if err := msg.Validate(); err != nil {
		logrus.WithError(err).Debug("message_handler: dropping invalid message")
		return
	}
	if msg.HopsToLive == 0 {
		logrus.WithField("id", msg.ID).Debug("message_handler: dropping expired message")
		return
	}

	// Guard 2.
	msg.HopsToLive--

	if !msg.ClientNode {
		// Guard 3.
		if h.cache.IsCacheableRequest(msg) {
			if cached, hit := h.cache.Lookup(msg); hit {
				h.respondWithCached(msg, cached)
				return
			}
		}
		// Guard 4.
		if h.cache.IsCacheableResponse(msg) {
			h.cache.Store(msg)
		}
	}

	// Guard 5: group-to-self.
	if msg.SourceId.Equal(h.self) && msg.DestinationId.Equal(h.self) && msg.Request && !msg.Direct {
		h.net.SendToClosestNode(msg)
		return
	}

	// Guard 6.
	if h.clientMode {
		h.handleClientMessage(msg)
		return
	}

	// Guard 7.
	if !msg.HasSourceId() {
		h.handleRelayRequest(msg)
		return
	}

	// Guard 9 (guard 8, "source_id is zero", is unreachable under this
	// wire representation: an absent and a zero source_id are the same
	// value, and guard 7 already claims it).
	if msg.DestinationId.Equal(h.self) {
		h.handleMessageForThisNode(msg)
		return
	}

	// Guard 10.
	if msg.IsResponse() && msg.Type.IsRoutingMessage() && msg.HasRelayId() && msg.RelayId.Equal(h.self) {
		h.handleRoutingMessage(msg)
		return
	}

	// Guard 11.
	if msg.Direct && h.nrt.IsConnected(msg.DestinationId) {
		h.net.SendToClosestNode(msg)
		return
	}

	// Guard 12.
	inGroupRange := h.rt.IsThisNodeInRange(msg.DestinationId, h.params.NodeGroupSize)
	strictlyClosestAndVisited := msg.Visited && h.rt.IsThisNodeClosestTo(msg.DestinationId, false)
	if inGroupRange || strictlyClosestAndVisited {
		h.handleMessageAsClosestNode(msg)
		return
	}

	// Guard 13: far node.
	h.net.SendToClosestNode(msg)
}

func (h *MessageHandler) respondWithCached(req, cached *wire.Message) {
	reply := cached.Clone()
	reply.ID = req.ID
	reply.DestinationId = req.SourceId
	reply.RelayId = req.RelayId
	reply.RelayConnectionId = req.RelayConnectionId
	reply.Request = false
	h.net.SendToClosestNode(reply)
}

// handleClientMessage implements §4.6.1.
func (h *MessageHandler) handleClientMessage(msg *wire.Message) {
	if !msg.HasSourceId() {
		logrus.Debug("message_handler: client dropping message with empty source_id")
		return
	}
	if msg.Type.IsRoutingMessage() {
		h.handleRoutingMessage(msg)
		return
	}
	if msg.DestinationId.Equal(h.self) {
		h.deliverApplication(msg)
	}
}

// handleRelayRequest implements §4.6.2.
func (h *MessageHandler) handleRelayRequest(msg *wire.Message) {
	if msg.DestinationId.Equal(h.self) && msg.Request {
		h.handleMessageForThisNode(msg)
		return
	}
	if h.rt.IsThisNodeClosestTo(msg.DestinationId, false) {
		stamped := msg.Clone()
		stamped.SourceId = h.self
		if stamped.Direct {
			h.handleDirectMessageAsClosestNode(stamped)
		} else {
			h.handleGroupMessageAsClosestNode(stamped)
		}
		return
	}
	stamped := msg.Clone()
	stamped.SourceId = h.self
	h.net.SendToClosestNode(stamped)
}

// handleMessageForThisNode implements §4.6.3.
func (h *MessageHandler) handleMessageForThisNode(msg *wire.Message) {
	if msg.HasRelayId() && !msg.RelayId.Equal(h.self) && msg.IsResponse() {
		rerouted := msg.Clone()
		rerouted.DestinationId = msg.RelayId
		h.net.SendToClosestNode(rerouted)
		return
	}
	if msg.Type.IsRoutingMessage() {
		h.handleRoutingMessage(msg)
		return
	}
	h.deliverApplication(msg)
}

func (h *MessageHandler) deliverApplication(msg *wire.Message) {
	if h.onApplicationMessage == nil {
		return
	}
	cacheable := !msg.ClientNode && h.cache.IsCacheableRequest(msg)
	reply := func(data []byte) {
		response := &wire.Message{
			ID:                msg.ID,
			Type:              config.Application,
			SourceId:          h.self,
			DestinationId:     msg.SourceId,
			RelayId:           msg.RelayId,
			RelayConnectionId: msg.RelayConnectionId,
			Request:           false,
			Direct:            msg.Direct,
			HopsToLive:        h.params.HopsToLive,
			Data:              wrapPayload(data),
		}
		h.net.SendToClosestNode(response)
	}
	h.onApplicationMessage(firstData(msg), msg.GroupClaim, cacheable, reply)
}

// handleRoutingMessage dispatches a routing-type message to the matching
// service handler and, for requests, builds and sends the inverted
// response.
func (h *MessageHandler) handleRoutingMessage(msg *wire.Message) {
	switch msg.Type {
	case config.Ping:
		if msg.Request {
			if payload, ok := h.service.HandlePing(msg.SourceId); ok {
				h.respond(msg, config.Ping, payload)
			}
		}
	case config.Connect:
		if msg.Request {
			if payload, ok := h.service.HandleConnect(firstData(msg)); ok {
				h.respond(msg, config.ConnectSuccess, payload)
			}
		}
	case config.ConnectSuccess:
		if msg.IsResponse() {
			if payload, ok := h.service.HandleConnectSuccess(firstData(msg)); ok {
				h.respond(msg, config.ConnectSuccessAcknowledgement, payload)
			}
		}
	case config.ConnectSuccessAcknowledgement:
		h.service.HandleConnectSuccessAcknowledgement(msg.SourceId)
	case config.FindNodes:
		if msg.Request {
			if payload, ok := h.service.HandleFindNodes(firstData(msg), h.params.ClosestNodesSize); ok {
				h.respond(msg, config.FindNodes, payload)
			}
		}
	case config.Remove:
		h.service.HandleRemove(firstData(msg))
	case config.ClosestNodesUpdate:
		h.service.HandleClosestNodesUpdate(msg.SourceId, msg.DestinationId, firstData(msg))
	case config.ClosestNodesUpdateSubscribe:
		peer, ok := h.rt.Get(msg.SourceId)
		if !ok {
			peer = &NodeInfo{NodeId: msg.SourceId, ConnectionId: msg.SourceId}
		}
		h.service.HandleClosestNodesUpdateSubscribe(msg.DestinationId, peer, firstData(msg))
	default:
		logrus.WithField("type", msg.Type.String()).Warn("message_handler: unroutable routing message type")
	}
}

// respond builds the inverted response message for a request handled by
// the routing service (§4.6.3's reply-functor construction) and either
// dispatches it locally or sends it onward.
func (h *MessageHandler) respond(orig *wire.Message, replyType config.MessageType, payload []byte) {
	reply := &wire.Message{
		ID:                orig.ID,
		Type:              replyType,
		SourceId:          orig.DestinationId,
		DestinationId:     orig.SourceId,
		LastId:            h.self,
		RelayId:           orig.RelayId,
		RelayConnectionId: orig.RelayConnectionId,
		Request:           false,
		Direct:            true,
		HopsToLive:        h.params.HopsToLive,
		Data:              wrapPayload(payload),
	}
	if reply.DestinationId.Equal(h.self) {
		h.HandleMessage(reply)
		return
	}
	h.net.SendToClosestNode(reply)
}

func (h *MessageHandler) handleMessageAsClosestNode(msg *wire.Message) {
	if msg.Direct {
		h.handleDirectMessageAsClosestNode(msg)
		return
	}
	h.handleGroupMessageAsClosestNode(msg)
}

// handleDirectMessageAsClosestNode implements the Direct half of §4.6.4.
func (h *MessageHandler) handleDirectMessageAsClosestNode(msg *wire.Message) {
	strictlyClosest := h.rt.IsThisNodeClosestTo(msg.DestinationId, false)
	connected := h.connectedTo(msg.DestinationId)

	if strictlyClosest && connected {
		if peer, ok := h.rt.Get(msg.DestinationId); ok {
			h.net.SendToDirect(msg, peer.NodeId, peer.ConnectionId)
			return
		}
		if client, ok := h.nrt.GetNodesInfo(msg.DestinationId); ok {
			h.net.SendToDirect(msg, client.NodeId, client.ConnectionId)
			return
		}
	}

	if strictlyClosest && !connected {
		if !msg.Visited {
			msg.Visited = true
			h.net.SendToClosestNode(msg)
			return
		}
		logrus.WithField("destination", msg.DestinationId.Short()).
			Debug("message_handler: direct message as closest node dropped, already visited")
		return
	}

	h.net.SendToClosestNode(msg)
}

func (h *MessageHandler) connectedTo(nodeID id.Id) bool {
	return h.rt.Contains(nodeID) || h.nrt.IsConnected(nodeID)
}

// handleGroupMessageAsClosestNode implements the Group half of §4.6.4,
// including the replication fan-out.
func (h *MessageHandler) handleGroupMessageAsClosestNode(msg *wire.Message) {
	exact, hasExact := h.rt.Get(msg.DestinationId)
	selfClosest := h.gm.IsThisNodeClosestTo(msg.DestinationId, true)
	if !selfClosest && !hasExact {
		h.net.SendToClosestNode(msg)
		return
	}

	isLeader, leader := h.gm.IsThisNodeGroupLeader(msg.DestinationId)
	if !isLeader && leader != nil {
		h.net.SendToDirect(msg, leader.NodeId, leader.ConnectionId)
		return
	}

	h.replicationFanOut(msg, exact, hasExact)
}

// replicationFanOut implements the seven numbered steps of §4.6.4's
// Group case, snapshotting RT once at the top per the design notes'
// resolution of the concurrent-drop open question.
func (h *MessageHandler) replicationFanOut(msg *wire.Message, exact *NodeInfo, hasExact bool) {
	if msg.Replication < 1 || int(msg.Replication) > h.params.NodeGroupSize {
		logrus.WithField("replication", msg.Replication).Warn("message_handler: replication out of range, dropping")
		return
	}
	replication := int(msg.Replication) - 1
	if hasExact {
		replication++
	}

	snapshot := h.rt.Snapshot()
	closest := closestInSnapshot(snapshot, msg.DestinationId, replication)
	if hasExact {
		closest = dropExactSlot(closest, exact.NodeId)
	}

	direct := msg.Clone()
	direct.Direct = true

	for _, peer := range closest {
		out := direct.Clone()
		out.DestinationId = peer.NodeId
		h.net.SendToDirect(out, peer.NodeId, peer.ConnectionId)
	}

	local := msg.Clone()
	local.DestinationId = h.self
	if local.Type.IsRoutingMessage() {
		h.handleRoutingMessage(local)
		return
	}
	h.deliverApplication(local)
}

func closestInSnapshot(snapshot []*NodeInfo, target id.Id, n int) []*NodeInfo {
	sorted := append([]*NodeInfo(nil), snapshot...)
	sort.Slice(sorted, func(i, j int) bool {
		return id.CloserTo(sorted[i].NodeId, sorted[j].NodeId, target)
	})
	if n < 0 {
		n = 0
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func dropExactSlot(list []*NodeInfo, exact id.Id) []*NodeInfo {
	for i, n := range list {
		if n.NodeId.Equal(exact) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func firstData(msg *wire.Message) []byte {
	if len(msg.Data) == 0 {
		return nil
	}
	return msg.Data[0]
}

func wrapPayload(payload []byte) [][]byte {
	if payload == nil {
		return nil
	}
	return [][]byte{payload}
}
