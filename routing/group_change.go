package routing

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
)

// Subscribers is the §3 Update-Subscribers list: peers that have asked to
// receive this node's group-change notifications. It owns its own mutex,
// independent of RT's, per §5.
type Subscribers struct {
	mu    sync.Mutex
	order []id.Id
	byID  map[id.Id]*NodeInfo
}

// NewSubscribers constructs an empty subscribers list.
func NewSubscribers() *Subscribers {
	return &Subscribers{byID: make(map[id.Id]*NodeInfo)}
}

// Add registers peer as a subscriber if not already present. It reports
// whether peer was newly added.
func (s *Subscribers) Add(peer *NodeInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[peer.NodeId]; ok {
		return false
	}
	s.byID[peer.NodeId] = peer
	s.order = append(s.order, peer.NodeId)
	return true
}

// Remove unregisters nodeID, if present.
func (s *Subscribers) Remove(nodeID id.Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[nodeID]; !ok {
		return
	}
	delete(s.byID, nodeID)
	for i, v := range s.order {
		if v.Equal(nodeID) {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns a defensive copy of the current subscribers, in the order
// they were added (preserving the per-peer outbound ordering guarantee
// §4.4 and §5 require).
func (s *Subscribers) List() []*NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*NodeInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Contains reports whether nodeID currently subscribes.
func (s *Subscribers) Contains(nodeID id.Id) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[nodeID]
	return ok
}

// RpcSender is the narrow capability the Group-Change Handler needs to
// dispatch its two outbound RPC kinds. NetworkUtils implements this over
// SendToDirect, keeping the handler itself free of transport details.
type RpcSender interface {
	SendClosestNodesUpdate(to *NodeInfo, closeNodes []*NodeInfo)
	SendSubscribe(to *NodeInfo, subscribe bool)
}

// GroupChangeHandler implements §4.4: bidirectional subscription
// bookkeeping so that close-group changes propagate to every peer whose
// own matrix row depends on them.
type GroupChangeHandler struct {
	self        id.Id
	rt          *RoutingTable
	gm          *GroupMatrix
	params      *config.Parameters
	sender      RpcSender
	subscribers *Subscribers
}

// NewGroupChangeHandler constructs a handler bound to rt/gm. sender may be
// set later via SetSender if NetworkUtils is constructed afterward.
func NewGroupChangeHandler(self id.Id, rt *RoutingTable, gm *GroupMatrix, params *config.Parameters) *GroupChangeHandler {
	return &GroupChangeHandler{
		self:        self,
		rt:          rt,
		gm:          gm,
		params:      params,
		subscribers: NewSubscribers(),
	}
}

// SetSender wires the RPC transport after construction, breaking the
// NetworkUtils/GroupChangeHandler initialization cycle.
func (h *GroupChangeHandler) SetSender(sender RpcSender) {
	h.sender = sender
}

// Subscribers exposes the list for test assertions and for the message
// handler's RT-drop cascade (§3 lifecycle: subscribers are also destroyed
// on disconnect).
func (h *GroupChangeHandler) Subscribers() *Subscribers {
	return h.subscribers
}

// ClosestNodesUpdate handles an inbound group-update RPC. Per the open
// question resolved in the design notes, an empty node list is ignored
// with a logged warning rather than applied.
func (h *GroupChangeHandler) ClosestNodesUpdate(destination, peer id.Id, closeNodes []*NodeInfo) {
	if !destination.Equal(h.self) {
		logrus.Warn("group_change: closest_nodes_update addressed to another node, dropping")
		return
	}
	if len(closeNodes) == 0 {
		logrus.WithField("peer", peer.Short()).Warn("group_change: ignoring closest_nodes_update with an empty node list")
		return
	}
	for _, n := range closeNodes {
		if err := n.Validate(); err != nil {
			logrus.WithError(err).Warn("group_change: dropping closest_nodes_update containing an invalid node")
			return
		}
	}
	if !h.rt.Contains(peer) {
		logrus.WithField("peer", peer.Short()).Debug("group_change: closest_nodes_update from a peer not in RT, dropping")
		return
	}
	h.gm.UpdateFromConnectedPeer(peer, closeNodes)
}

// ClosestNodesUpdateSubscribe handles an inbound subscribe/unsubscribe
// RPC from peer.
func (h *GroupChangeHandler) ClosestNodesUpdateSubscribe(destination id.Id, peer *NodeInfo, subscribe bool) {
	if !destination.Equal(h.self) {
		logrus.Warn("group_change: closest_nodes_update_subscribe addressed to another node, dropping")
		return
	}
	if subscribe {
		h.subscribe(peer)
		return
	}
	h.Unsubscribe(peer.NodeId)
}

func (h *GroupChangeHandler) subscribe(peer *NodeInfo) {
	if !h.rt.Contains(peer.NodeId) {
		logrus.WithField("peer", peer.NodeId.Short()).Debug("group_change: subscribe request from a peer not in RT, dropping")
		return
	}
	if !h.subscribers.Add(peer) {
		return
	}
	if h.sender == nil {
		return
	}
	closeNodes := h.rt.GetClosestNodes(h.self, h.params.ClosestNodesSize, nil, false)
	h.sender.SendClosestNodesUpdate(peer, closeNodes)
}

// Unsubscribe removes nodeID from the subscribers list. Called both for
// an explicit unsubscribe RPC and for the RT-drop cascade (§3).
func (h *GroupChangeHandler) Unsubscribe(nodeID id.Id) {
	h.subscribers.Remove(nodeID)
}

// SendClosestNodesUpdateRpcs broadcasts closeNodes to every current
// subscriber. Callers invoke this whenever RT composition changes in a
// way that alters closest(RT, C).
func (h *GroupChangeHandler) SendClosestNodesUpdateRpcs(closeNodes []*NodeInfo) {
	if h.sender == nil {
		return
	}
	for _, sub := range h.subscribers.List() {
		h.sender.SendClosestNodesUpdate(sub, closeNodes)
	}
}

// SendSubscribeRpc implements both directions of §4.4's subscription
// RPC: subscribing to every peer that needs our updates, or telling a
// single peer to stop sending us theirs.
func (h *GroupChangeHandler) SendSubscribeRpc(subscribe bool, nodeInfo *NodeInfo) {
	if subscribe {
		for _, peer := range h.rt.GetNodesNeedingGroupUpdates(h.gm) {
			if h.sender != nil {
				h.sender.SendSubscribe(peer, true)
			}
		}
		return
	}
	h.subscribers.Remove(nodeInfo.NodeId)
	if h.sender != nil {
		h.sender.SendSubscribe(nodeInfo, false)
	}
}
