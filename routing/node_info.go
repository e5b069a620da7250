package routing

import (
	"fmt"
	"sync"

	"github.com/walmircouto/MaidSafe-Routing/id"
)

// NodeInfo is the per-peer record shared by the Routing Table, the
// Non-Routing Table, and the Group Matrix, following §3 of the spec.
// ConnectionId is the transport-level handle used to reach the peer; it
// may differ from NodeId during bootstrap, mirroring the original's
// split between a node's logical identity and its rudp connection id.
type NodeInfo struct {
	NodeId         id.Id
	ConnectionId   id.Id
	PublicKey      []byte
	Rank           uint32
	NatSymmetric   bool
	DimensionList  []id.Id

	mu      sync.RWMutex
	version uint64
}

// NewNodeInfo builds a NodeInfo with ConnectionId defaulted to NodeId, the
// common case outside of bootstrap.
func NewNodeInfo(nodeID id.Id, publicKey []byte) *NodeInfo {
	return &NodeInfo{
		NodeId:       nodeID,
		ConnectionId: nodeID,
		PublicKey:    publicKey,
		version:      1,
	}
}

// Validate rejects a NodeInfo that cannot be admitted to any table.
func (n *NodeInfo) Validate() error {
	if n.NodeId.IsZero() {
		return fmt.Errorf("node_info: node id cannot be zero")
	}
	if len(n.PublicKey) == 0 {
		return fmt.Errorf("node_info: public key cannot be empty")
	}
	return nil
}

// UpdateRank atomically bumps the rank used for eviction tie-breaking.
func (n *NodeInfo) UpdateRank(rank uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Rank = rank
	n.version++
}

// Clone returns a value copy safe to hand to a caller outside any table
// lock, mirroring the teacher's PeerInfo.Clone pattern of returning
// independent copies rather than aliasing shared state.
func (n *NodeInfo) Clone() *NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	clone := &NodeInfo{
		NodeId:       n.NodeId,
		ConnectionId: n.ConnectionId,
		Rank:         n.Rank,
		NatSymmetric: n.NatSymmetric,
		version:      n.version,
	}
	clone.PublicKey = append([]byte(nil), n.PublicKey...)
	clone.DimensionList = append([]id.Id(nil), n.DimensionList...)
	return clone
}

// String renders a short debug form in the style of the original's
// HexSubstr-prefixed log lines.
func (n *NodeInfo) String() string {
	return fmt.Sprintf("Node[%s via %s, rank=%d]", n.NodeId.Short(), n.ConnectionId.Short(), n.Rank)
}
