package routing

import (
	"fmt"
	"sync"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
)

// NonRoutingTable is the §4.2 table of connected clients: peers that route
// through this node but never appear in RT and never participate in
// closeness queries for traffic not addressed to them.
type NonRoutingTable struct {
	params *config.Parameters

	mu      sync.RWMutex
	clients map[id.Id]*NodeInfo
	// perOwner tracks how many clients are currently attributed to a given
	// owning server connection, enforcing the per-client capacity bound.
	perOwner map[id.Id]int
	owner    map[id.Id]id.Id
}

// NewNonRoutingTable constructs an empty NRT.
func NewNonRoutingTable(params *config.Parameters) *NonRoutingTable {
	return &NonRoutingTable{
		params:   params,
		clients:  make(map[id.Id]*NodeInfo),
		perOwner: make(map[id.Id]int),
		owner:    make(map[id.Id]id.Id),
	}
}

// AddNode registers client as reachable via ownerConnection. It rejects a
// client already in NRT or over the per-owner capacity bound. Whether the
// client is already in RT is not checked here, since NRT has no reference
// to RT.
func (nrt *NonRoutingTable) AddNode(client *NodeInfo, ownerConnection id.Id) error {
	if err := client.Validate(); err != nil {
		return err
	}
	nrt.mu.Lock()
	defer nrt.mu.Unlock()

	if _, exists := nrt.clients[client.NodeId]; exists {
		return fmt.Errorf("non_routing_table: client %s already connected", client.NodeId.Short())
	}
	if nrt.perOwner[ownerConnection] >= nrt.params.NonRoutingTableCapacityPerClient {
		return fmt.Errorf("non_routing_table: owner %s at client capacity", ownerConnection.Short())
	}

	nrt.clients[client.NodeId] = client
	nrt.owner[client.NodeId] = ownerConnection
	nrt.perOwner[ownerConnection]++
	return nil
}

// DropNode removes client, if present, returning whether it was found.
func (nrt *NonRoutingTable) DropNode(client id.Id) bool {
	nrt.mu.Lock()
	defer nrt.mu.Unlock()
	if _, ok := nrt.clients[client]; !ok {
		return false
	}
	owner := nrt.owner[client]
	delete(nrt.clients, client)
	delete(nrt.owner, client)
	nrt.perOwner[owner]--
	return true
}

// IsConnected reports whether client is currently a connected NRT entry.
func (nrt *NonRoutingTable) IsConnected(client id.Id) bool {
	nrt.mu.RLock()
	defer nrt.mu.RUnlock()
	_, ok := nrt.clients[client]
	return ok
}

// GetNodesInfo returns a clone of the NodeInfo for destinationID, if it is
// a connected client.
func (nrt *NonRoutingTable) GetNodesInfo(destinationID id.Id) (*NodeInfo, bool) {
	nrt.mu.RLock()
	defer nrt.mu.RUnlock()
	n, ok := nrt.clients[destinationID]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Size returns the number of connected clients.
func (nrt *NonRoutingTable) Size() int {
	nrt.mu.RLock()
	defer nrt.mu.RUnlock()
	return len(nrt.clients)
}
