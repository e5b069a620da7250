package routing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/identity"
)

// AddOutcome is the result of a RoutingTable.AddNode call.
type AddOutcome int

const (
	// Added means the candidate was admitted.
	Added AddOutcome = iota
	// Rejected means the candidate was refused; see the returned error for
	// the reason.
	Rejected
)

// Sentinel rejection reasons for AddNode, following the teacher's pattern
// of exporting comparable sentinel errors from its utils package.
var (
	ErrIsSelf           = errors.New("routing_table: candidate is self")
	ErrAlreadyPresent   = errors.New("routing_table: candidate already present")
	ErrInvalidKey       = errors.New("routing_table: candidate public key is invalid")
	ErrNotCloserThan    = errors.New("routing_table: table full and candidate is not closer than the furthest entry")
	ErrBucketBalance    = errors.New("routing_table: table full and bucket-balance rule rejects the candidate")
)

// RoutingTable is the bounded, self-sorted set of up to R vault peers
// described in §4.1 of the spec. It is the Go analogue of the teacher's
// DHT/KBucket pair, stripped of everything but Kademlia's actual
// bucket-balance eviction rule.
type RoutingTable struct {
	self      id.Id
	params    *config.Parameters
	validator identity.PublicKeyValidator

	mu           sync.RWMutex
	entries      []*NodeInfo // sorted ascending by XOR distance to self
	index        map[id.Id]int
	bucketCounts map[int]int

	onDrop []func(id.Id)
	onAdd  []func(id.Id)
}

// NewRoutingTable constructs an empty table for self.
func NewRoutingTable(self id.Id, params *config.Parameters, validator identity.PublicKeyValidator) *RoutingTable {
	return &RoutingTable{
		self:         self,
		params:       params,
		validator:    validator,
		index:        make(map[id.Id]int),
		bucketCounts: make(map[int]int),
	}
}

// OnDrop registers a callback invoked, outside the table lock, whenever a
// node is removed from the table. The Group-Change Handler and Group
// Matrix subscribe through this hook to cascade updates (§3 lifecycles).
func (rt *RoutingTable) OnDrop(fn func(id.Id)) {
	rt.mu.Lock()
	rt.onDrop = append(rt.onDrop, fn)
	rt.mu.Unlock()
}

// OnAdd registers a callback invoked, outside the table lock, whenever a
// node is admitted. The Group Matrix and Group-Change Handler subscribe
// through this hook to keep closest(RT, C) and its subscriber broadcasts
// in lock-step with RT composition (§3 lifecycles).
func (rt *RoutingTable) OnAdd(fn func(id.Id)) {
	rt.mu.Lock()
	rt.onAdd = append(rt.onAdd, fn)
	rt.mu.Unlock()
}

// RLock/RUnlock/Lock/Unlock expose RT's mutex directly to the Group
// Matrix, which §5 of the spec requires to share RT's lock rather than
// own a separate one (so the invariant linking their key sets is
// preserved by construction). No other collaborator should reach for
// these.
func (rt *RoutingTable) RLock()   { rt.mu.RLock() }
func (rt *RoutingTable) RUnlock() { rt.mu.RUnlock() }
func (rt *RoutingTable) Lock()    { rt.mu.Lock() }
func (rt *RoutingTable) Unlock()  { rt.mu.Unlock() }

// entriesLocked returns the live entries slice; callers must hold rt.mu.
func (rt *RoutingTable) entriesLocked() []*NodeInfo {
	return rt.entries
}

func (rt *RoutingTable) bucketOf(nodeID id.Id) int {
	return id.CommonPrefixLen(rt.self, nodeID)
}

// AddNode attempts to admit candidate, applying the bucket-balance rule
// from §3 once the table is at capacity.
func (rt *RoutingTable) AddNode(candidate *NodeInfo) (AddOutcome, error) {
	if candidate.NodeId.Equal(rt.self) {
		return Rejected, ErrIsSelf
	}
	if err := candidate.Validate(); err != nil {
		return Rejected, err
	}
	if rt.validator != nil {
		if err := rt.validator.ValidateKey(candidate.PublicKey); err != nil {
			return Rejected, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	}

	rt.mu.Lock()

	if _, exists := rt.index[candidate.NodeId]; exists {
		rt.mu.Unlock()
		return Rejected, ErrAlreadyPresent
	}

	admit := func() {
		callbacks := append([]func(id.Id){}, rt.onAdd...)
		rt.mu.Unlock()
		for _, cb := range callbacks {
			cb(candidate.NodeId)
		}
	}

	if len(rt.entries) < rt.params.MaxRoutingTableSize {
		rt.insertLocked(candidate)
		admit()
		return Added, nil
	}

	furthest := rt.entries[len(rt.entries)-1]
	if !id.CloserTo(candidate.NodeId, furthest.NodeId, rt.self) {
		rt.mu.Unlock()
		return Rejected, ErrNotCloserThan
	}

	ceiling := rt.params.BucketCeiling()
	candidateBucket := rt.bucketOf(candidate.NodeId)
	if rt.bucketCounts[candidateBucket] < ceiling {
		rt.evictLocked(furthest)
		rt.insertLocked(candidate)
		admit()
		return Added, nil
	}

	victim := rt.findOverfullVictimLocked(ceiling)
	if victim == nil {
		rt.mu.Unlock()
		return Rejected, ErrBucketBalance
	}
	rt.evictLocked(victim)
	rt.insertLocked(candidate)
	admit()
	return Added, nil
}

// findOverfullVictimLocked returns the furthest-from-self entry inside any
// bucket currently over ceiling, or nil if no bucket is over-full.
func (rt *RoutingTable) findOverfullVictimLocked(ceiling int) *NodeInfo {
	var victim *NodeInfo
	for bucket, count := range rt.bucketCounts {
		if count <= ceiling {
			continue
		}
		for _, n := range rt.entries {
			if rt.bucketOf(n.NodeId) != bucket {
				continue
			}
			if victim == nil || id.CloserTo(victim.NodeId, n.NodeId, rt.self) {
				victim = n
			}
		}
	}
	return victim
}

func (rt *RoutingTable) insertLocked(n *NodeInfo) {
	rt.entries = append(rt.entries, n)
	sort.Slice(rt.entries, func(i, j int) bool {
		return id.CloserTo(rt.entries[i].NodeId, rt.entries[j].NodeId, rt.self)
	})
	rt.reindexLocked()
	rt.bucketCounts[rt.bucketOf(n.NodeId)]++
}

func (rt *RoutingTable) evictLocked(n *NodeInfo) {
	i, ok := rt.index[n.NodeId]
	if !ok {
		return
	}
	rt.entries = append(rt.entries[:i], rt.entries[i+1:]...)
	rt.bucketCounts[rt.bucketOf(n.NodeId)]--
	rt.reindexLocked()
}

func (rt *RoutingTable) reindexLocked() {
	for k := range rt.index {
		delete(rt.index, k)
	}
	for i, n := range rt.entries {
		rt.index[n.NodeId] = i
	}
}

// DropNode removes nodeID from the table, firing every registered onDrop
// callback. It reports whether the node was present.
func (rt *RoutingTable) DropNode(nodeID id.Id) bool {
	rt.mu.Lock()
	i, ok := rt.index[nodeID]
	var callbacks []func(id.Id)
	if ok {
		n := rt.entries[i]
		rt.evictLocked(n)
		callbacks = append(callbacks, rt.onDrop...)
	}
	rt.mu.Unlock()

	if !ok {
		return false
	}
	for _, cb := range callbacks {
		cb(nodeID)
	}
	return true
}

// Size returns the current entry count.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.entries)
}

// Contains reports whether nodeID is currently in the table.
func (rt *RoutingTable) Contains(nodeID id.Id) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.index[nodeID]
	return ok
}

// Get returns a clone of the entry for nodeID, if present.
func (rt *RoutingTable) Get(nodeID id.Id) (*NodeInfo, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	i, ok := rt.index[nodeID]
	if !ok {
		return nil, false
	}
	return rt.entries[i].Clone(), true
}

// getLocked returns the live entry for nodeID without acquiring rt.mu;
// callers must already hold it.
func (rt *RoutingTable) getLocked(nodeID id.Id) (*NodeInfo, bool) {
	i, ok := rt.index[nodeID]
	if !ok {
		return nil, false
	}
	return rt.entries[i], true
}

// Snapshot returns a defensive copy of every entry, sorted by XOR distance
// to self. Used by the fan-out path (§4.6.4), which the design notes
// require to compute against a single consistent snapshot of RT.
func (rt *RoutingTable) Snapshot() []*NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*NodeInfo, len(rt.entries))
	for i, n := range rt.entries {
		out[i] = n.Clone()
	}
	return out
}

func containsId(list []id.Id, target id.Id) bool {
	for _, v := range list {
		if v.Equal(target) {
			return true
		}
	}
	return false
}

// GetClosestNodes returns up to n NodeInfos ordered by XOR distance to
// target, skipping any id present in excludeHistory, and eliding an
// exact-id match when ignoreExactMatch is set.
func (rt *RoutingTable) GetClosestNodes(target id.Id, n int, excludeHistory []id.Id, ignoreExactMatch bool) []*NodeInfo {
	rt.mu.RLock()
	candidates := make([]*NodeInfo, len(rt.entries))
	copy(candidates, rt.entries)
	rt.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return id.CloserTo(candidates[i].NodeId, candidates[j].NodeId, target)
	})

	out := make([]*NodeInfo, 0, n)
	for _, c := range candidates {
		if len(out) >= n {
			break
		}
		if containsId(excludeHistory, c.NodeId) {
			continue
		}
		if ignoreExactMatch && c.NodeId.Equal(target) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

// GetClosestNode returns the single best next hop toward target, applying
// the same exclusions as GetClosestNodes plus an always-on self exclusion
// (RT never contains self, so this only documents intent for callers
// migrating from the original's ignore_self flag). It is the primitive
// RecursiveSendOn uses to choose its next attempt.
func (rt *RoutingTable) GetClosestNode(target id.Id, excludeHistory []id.Id, ignoreExactMatch bool) (*NodeInfo, bool) {
	got := rt.GetClosestNodes(target, 1, excludeHistory, ignoreExactMatch)
	if len(got) == 0 {
		return nil, false
	}
	return got[0], true
}

// IsThisNodeClosestTo reports whether no peer in RT is strictly closer to
// target than self. When ignoreExactMatch is true, a peer whose id equals
// target is not counted.
func (rt *RoutingTable) IsThisNodeClosestTo(target id.Id, ignoreExactMatch bool) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, n := range rt.entries {
		if ignoreExactMatch && n.NodeId.Equal(target) {
			continue
		}
		if id.CloserTo(n.NodeId, rt.self, target) {
			return false
		}
	}
	return true
}

// IsThisNodeInRange reports whether self is among the n nodes closest to
// target out of RT ∪ {self}.
func (rt *RoutingTable) IsThisNodeInRange(target id.Id, n int) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	closerCount := 0
	for _, entry := range rt.entries {
		if id.CloserTo(entry.NodeId, rt.self, target) {
			closerCount++
		}
	}
	return closerCount < n
}

// RemoveFurthestNode evicts the single furthest-from-self entry and fires
// the onDrop callbacks. Service.HandleRemove does not call it; that
// handler drops the peer named in the request.
func (rt *RoutingTable) RemoveFurthestNode() (*NodeInfo, bool) {
	rt.mu.Lock()
	if len(rt.entries) == 0 {
		rt.mu.Unlock()
		return nil, false
	}
	furthest := rt.entries[len(rt.entries)-1]
	rt.evictLocked(furthest)
	callbacks := append([]func(id.Id){}, rt.onDrop...)
	rt.mu.Unlock()

	for _, cb := range callbacks {
		cb(furthest.NodeId)
	}
	logrus.WithField("node_id", furthest.NodeId.Short()).Info("routing_table: evicted furthest node")
	return furthest, true
}

// GetNodesNeedingGroupUpdates returns every RT peer whose own close-group
// (as recorded in the matrix row gm keeps for it) contains self -- the set
// that must be told when closest(RT, C) changes. Kept here rather than on
// GroupMatrix because it needs RT's entry list to iterate candidates.
func (rt *RoutingTable) GetNodesNeedingGroupUpdates(gm *GroupMatrix) []*NodeInfo {
	self := rt.self
	var out []*NodeInfo
	for _, n := range rt.Snapshot() {
		if gm.RowContains(n.NodeId, self) {
			out = append(out, n)
		}
	}
	return out
}
