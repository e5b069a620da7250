package routing

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/walmircouto/MaidSafe-Routing/id"
)

// wireNodeInfo is the plain-data projection of NodeInfo used for msgpack
// RPC payloads; NodeInfo itself carries a mutex and is never marshaled
// directly.
type wireNodeInfo struct {
	NodeId        id.Id
	ConnectionId  id.Id
	PublicKey     []byte
	Rank          uint32
	NatSymmetric  bool
	DimensionList []id.Id
}

func toWireNodeInfo(n *NodeInfo) wireNodeInfo {
	return wireNodeInfo{
		NodeId:        n.NodeId,
		ConnectionId:  n.ConnectionId,
		PublicKey:     n.PublicKey,
		Rank:          n.Rank,
		NatSymmetric:  n.NatSymmetric,
		DimensionList: n.DimensionList,
	}
}

func fromWireNodeInfo(w wireNodeInfo) *NodeInfo {
	return &NodeInfo{
		NodeId:        w.NodeId,
		ConnectionId:  w.ConnectionId,
		PublicKey:     w.PublicKey,
		Rank:          w.Rank,
		NatSymmetric:  w.NatSymmetric,
		DimensionList: w.DimensionList,
	}
}

func encodeNodeInfo(n *NodeInfo) ([]byte, error) {
	return msgpack.Marshal(toWireNodeInfo(n))
}

func decodeNodeInfo(data []byte) (*NodeInfo, error) {
	var w wireNodeInfo
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("service: decode node_info: %w", err)
	}
	return fromWireNodeInfo(w), nil
}

func encodeNodeInfoList(nodes []*NodeInfo) ([]byte, error) {
	wire := make([]wireNodeInfo, len(nodes))
	for i, n := range nodes {
		wire[i] = toWireNodeInfo(n)
	}
	return msgpack.Marshal(wire)
}

func decodeNodeInfoList(data []byte) ([]*NodeInfo, error) {
	var wire []wireNodeInfo
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("service: decode node_info list: %w", err)
	}
	out := make([]*NodeInfo, len(wire))
	for i, w := range wire {
		out[i] = fromWireNodeInfo(w)
	}
	return out, nil
}

// Service implements the routing-message handlers listed at the end of
// §4.6: Ping, Connect, FindNodes, ConnectSuccess,
// ConnectSuccessAcknowledgement, and Remove (furthest-node eviction), plus
// the two Group-Change RPCs dispatched through GroupChangeHandler
// directly.
type Service struct {
	selfInfo *NodeInfo
	rt       *RoutingTable
	nrt      *NonRoutingTable
	group    *GroupChangeHandler
}

// NewService constructs the routing service bound to selfInfo's tables.
func NewService(selfInfo *NodeInfo, rt *RoutingTable, nrt *NonRoutingTable, group *GroupChangeHandler) *Service {
	return &Service{selfInfo: selfInfo, rt: rt, nrt: nrt, group: group}
}

// HandlePing answers a liveness probe with an empty payload.
func (s *Service) HandlePing(sourceID id.Id) ([]byte, bool) {
	logrus.WithField("from", sourceID.Short()).Debug("service: ping")
	return nil, true
}

// HandleConnect processes an inbound connection bid. A valid, admitted
// candidate gets a ConnectSuccess reply carrying self's own NodeInfo,
// starting the two-phase handshake completed by
// ConnectSuccessAcknowledgement (§4.7 supplement). A rejected candidate
// gets silent drop, per the §7 invalid-input/protocol-violation policy.
func (s *Service) HandleConnect(data []byte) ([]byte, bool) {
	candidate, err := decodeNodeInfo(data)
	if err != nil {
		logrus.WithError(err).Warn("service: malformed connect request")
		return nil, false
	}

	outcome, err := s.rt.AddNode(candidate)
	if outcome != Added {
		logrus.WithError(err).WithField("candidate", candidate.NodeId.Short()).
			Debug("service: connect rejected")
		return nil, false
	}

	payload, err := encodeNodeInfo(s.selfInfo)
	if err != nil {
		logrus.WithError(err).Warn("service: failed to encode connect_success payload")
		return nil, false
	}
	return payload, true
}

// HandleConnectSuccess completes the requester side of the handshake:
// admit the peer that accepted our Connect bid, then expect the caller to
// send ConnectSuccessAcknowledgement to close the loop.
func (s *Service) HandleConnectSuccess(data []byte) ([]byte, bool) {
	peer, err := decodeNodeInfo(data)
	if err != nil {
		logrus.WithError(err).Warn("service: malformed connect_success response")
		return nil, false
	}
	if outcome, err := s.rt.AddNode(peer); outcome != Added {
		logrus.WithError(err).WithField("peer", peer.NodeId.Short()).
			Debug("service: connect_success peer rejected")
		return nil, false
	}
	ack, err := encodeNodeInfo(s.selfInfo)
	if err != nil {
		return nil, false
	}
	return ack, true
}

// HandleConnectSuccessAcknowledgement finalizes the two-phase handshake;
// both sides now hold each other in RT and the transport connection is
// presumed already validated by the identity collaborator. No further
// response is sent.
func (s *Service) HandleConnectSuccessAcknowledgement(sourceID id.Id) {
	logrus.WithField("peer", sourceID.Short()).Debug("service: connect handshake complete")
}

// HandleFindNodes answers with up to C NodeInfos closest to the requested
// target.
func (s *Service) HandleFindNodes(data []byte, closestNodesSize int) ([]byte, bool) {
	if len(data) != id.Size {
		logrus.Warn("service: malformed find_nodes target")
		return nil, false
	}
	var target id.Id
	copy(target[:], data)

	closest := s.rt.GetClosestNodes(target, closestNodesSize, nil, false)
	payload, err := encodeNodeInfoList(closest)
	if err != nil {
		logrus.WithError(err).Warn("service: failed to encode find_nodes response")
		return nil, false
	}
	return payload, true
}

// HandleRemove processes an explicit eviction request naming a peer that
// the sender believes unreachable, dropping it from RT if present. This
// is the Remove RPC referenced at the end of §4.6. No response is sent.
// The retry-exhaustion path in NetworkUtils drops the failed next hop
// with RoutingTable.DropNode, not through this handler.
func (s *Service) HandleRemove(data []byte) {
	if len(data) != id.Size {
		logrus.Warn("service: malformed remove request")
		return
	}
	var target id.Id
	copy(target[:], data)
	if s.rt.DropNode(target) {
		logrus.WithField("node_id", target.Short()).Info("service: removed node on peer request")
	}
}

// HandleClosestNodesUpdate decodes and forwards to the Group-Change
// Handler.
func (s *Service) HandleClosestNodesUpdate(sourceID, destinationID id.Id, data []byte) {
	nodes, err := decodeNodeInfoList(data)
	if err != nil {
		logrus.WithError(err).Warn("service: malformed closest_nodes_update")
		return
	}
	s.group.ClosestNodesUpdate(destinationID, sourceID, nodes)
}

// HandleClosestNodesUpdateSubscribe decodes the subscribe flag and
// forwards to the Group-Change Handler, using peerInfo (resolved by the
// caller from RT) as the subscriber record.
func (s *Service) HandleClosestNodesUpdateSubscribe(destinationID id.Id, peerInfo *NodeInfo, data []byte) {
	if len(data) != 1 {
		logrus.Warn("service: malformed closest_nodes_update_subscribe flag")
		return
	}
	s.group.ClosestNodesUpdateSubscribe(destinationID, peerInfo, data[0] != 0)
}
