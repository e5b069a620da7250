package routing

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
)

// GroupMatrix is the per-node mirror of the close-groups of this node's
// own closest peers, §4.3 of the spec. It shares RoutingTable's mutex
// rather than owning one of its own, so that the invariant "row key set
// == closest(RT, C)" can never be observed half-updated.
type GroupMatrix struct {
	rt     *RoutingTable
	self   id.Id
	params *config.Parameters

	rows map[id.Id][]*NodeInfo
}

// NewGroupMatrix constructs an empty matrix bound to rt.
func NewGroupMatrix(rt *RoutingTable, self id.Id, params *config.Parameters) *GroupMatrix {
	return &GroupMatrix{
		rt:     rt,
		self:   self,
		params: params,
		rows:   make(map[id.Id][]*NodeInfo),
	}
}

// Sync reconciles the row key set with the current closest(RT, C),
// dropping rows for peers that left RT's close group and adding empty
// rows for peers that newly entered it. Callers invoke this after every
// RT mutation that could change closest(RT, C) (AddNode, DropNode,
// RemoveFurthestNode).
func (gm *GroupMatrix) Sync() {
	gm.rt.Lock()
	defer gm.rt.Unlock()

	entries := gm.rt.entriesLocked()
	closeN := gm.params.ClosestNodesSize
	if closeN > len(entries) {
		closeN = len(entries)
	}
	keys := make(map[id.Id]struct{}, closeN)
	for i := 0; i < closeN; i++ {
		keys[entries[i].NodeId] = struct{}{}
	}

	for k := range keys {
		if _, ok := gm.rows[k]; !ok {
			gm.rows[k] = nil
		}
	}
	for k := range gm.rows {
		if _, ok := keys[k]; !ok {
			delete(gm.rows, k)
		}
	}
}

// UpdateFromConnectedPeer replaces the row keyed by peerID with
// closeNodes, re-sorting by XOR distance to peerID and truncating to C.
// It is a no-op if peerID is not currently a row key (the peer is not one
// of our own C closest, or has since left RT).
func (gm *GroupMatrix) UpdateFromConnectedPeer(peerID id.Id, closeNodes []*NodeInfo) {
	gm.rt.Lock()
	defer gm.rt.Unlock()

	if _, ok := gm.rows[peerID]; !ok {
		logrus.WithField("peer", peerID.Short()).Debug("group_matrix: update from non-row peer ignored")
		return
	}

	row := append([]*NodeInfo(nil), closeNodes...)
	sort.Slice(row, func(i, j int) bool {
		return id.CloserTo(row[i].NodeId, row[j].NodeId, peerID)
	})
	if len(row) > gm.params.ClosestNodesSize {
		row = row[:gm.params.ClosestNodesSize]
	}
	gm.rows[peerID] = row
}

// RowContains reports whether the row keyed by peerID currently lists
// target, used by RoutingTable.GetNodesNeedingGroupUpdates.
func (gm *GroupMatrix) RowContains(peerID, target id.Id) bool {
	gm.rt.RLock()
	defer gm.rt.RUnlock()
	for _, n := range gm.rows[peerID] {
		if n.NodeId.Equal(target) {
			return true
		}
	}
	return false
}

// GetUniqueNodes returns the deduplicated union of this node's own close
// group (the row keys, resolved back to their RT entries) with every node
// those peers in turn report seeing as their own closest (the row
// values) -- cardinality between C and C(C+1) per the §4.3 invariant. A
// row value can name a peer one hop further out than anything in RT,
// which is what makes this a wider view than RT alone.
func (gm *GroupMatrix) GetUniqueNodes() []*NodeInfo {
	gm.rt.RLock()
	defer gm.rt.RUnlock()
	seen := make(map[id.Id]*NodeInfo)
	for k := range gm.rows {
		if n, ok := gm.rt.getLocked(k); ok {
			seen[k] = n
		}
	}
	for _, row := range gm.rows {
		for _, n := range row {
			seen[n.NodeId] = n
		}
	}
	out := make([]*NodeInfo, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	return out
}

// PartialSortFromTarget returns GetUniqueNodes' wider-than-RT view, sorted
// by XOR distance to target and truncated to n. IsThisNodeClosestTo and
// IsThisNodeGroupLeader use this so that a peer whose own close group
// knows about a node one hop further out than this node's RT still gets
// considered.
func (gm *GroupMatrix) PartialSortFromTarget(target id.Id, n int) []*NodeInfo {
	unique := gm.GetUniqueNodes()
	sort.Slice(unique, func(i, j int) bool {
		return id.CloserTo(unique[i].NodeId, unique[j].NodeId, target)
	})
	if len(unique) > n {
		unique = unique[:n]
	}
	return unique
}

// IsThisNodeClosestTo reports whether no node in the wider-than-RT group
// matrix view is strictly closer to target than self. When
// ignoreExactMatch is true, a node whose id equals target is not counted.
func (gm *GroupMatrix) IsThisNodeClosestTo(target id.Id, ignoreExactMatch bool) bool {
	for _, n := range gm.PartialSortFromTarget(target, gm.params.ClosestNodesSize+1) {
		if ignoreExactMatch && n.NodeId.Equal(target) {
			continue
		}
		if id.CloserTo(n.NodeId, gm.self, target) {
			return false
		}
	}
	return true
}

// IsThisNodeGroupLeader reports whether self is the closest node to
// target out of the group matrix's wider-than-RT view (§4.3) -- a peer's
// own close group can report a node one hop further out than this node's
// own RT has ever seen, so leadership is decided against that wider set
// rather than RT entries alone. When false, it returns the peer that
// should act as group leader instead.
func (gm *GroupMatrix) IsThisNodeGroupLeader(target id.Id) (bool, *NodeInfo) {
	candidates := gm.PartialSortFromTarget(target, gm.params.ClosestNodesSize+1)

	var leader *NodeInfo
	leaderID := gm.self
	for _, n := range candidates {
		if id.CloserTo(n.NodeId, leaderID, target) {
			leaderID = n.NodeId
			leader = n
		}
	}
	if leaderID.Equal(gm.self) {
		return true, nil
	}
	return false, leader
}

// MatrixChange captures the delta between two snapshots of the group
// matrix's unique-node set, grounded on the original implementation's
// matrix_change.cc. It answers "who must now hold data for target" across
// a topology transition.
type MatrixChange struct {
	Self      id.Id
	OldMatrix []id.Id // sorted ascending by closeness to Self
	NewMatrix []id.Id // sorted ascending by closeness to Self
	LostNodes []id.Id
	NewNodes  []id.Id
	Radius    id.Id // XOR distance from Self to the Cth-closest entry of NewMatrix
}

// ComputeChange builds a MatrixChange from the unique-node sets before and
// after a topology transition, mirroring the original's constructor:
// both inputs are sorted by closeness to self, then lost/new nodes are
// the set differences and radius is the distance to the new Cth peer.
func ComputeChange(self id.Id, oldUnique, newUnique []id.Id, closestNodesSize int) *MatrixChange {
	oldSorted := append([]id.Id(nil), oldUnique...)
	newSorted := append([]id.Id(nil), newUnique...)
	id.ByCloseness(oldSorted, self)
	id.ByCloseness(newSorted, self)

	oldSet := toIdSet(oldSorted)
	newSet := toIdSet(newSorted)

	var lost, added []id.Id
	for _, n := range oldSorted {
		if _, ok := newSet[n]; !ok {
			lost = append(lost, n)
		}
	}
	for _, n := range newSorted {
		if _, ok := oldSet[n]; !ok {
			added = append(added, n)
		}
	}

	radius := id.Zero
	if idx := closestNodesSize - 1; idx >= 0 && idx < len(newSorted) {
		radius = id.Xor(self, newSorted[idx])
	}

	return &MatrixChange{
		Self:      self,
		OldMatrix: oldSorted,
		NewMatrix: newSorted,
		LostNodes: lost,
		NewNodes:  added,
		Radius:    radius,
	}
}

func toIdSet(ids []id.Id) map[id.Id]struct{} {
	out := make(map[id.Id]struct{}, len(ids))
	for _, v := range ids {
		out[v] = struct{}{}
	}
	return out
}

// isInProximalRange reports whether self lies within radius of target,
// the gate matrix_change.cc applies before CheckHolders answers for a
// target outside self's own sphere of responsibility.
func (mc *MatrixChange) isInProximalRange(target id.Id) bool {
	if mc.Radius.IsZero() {
		return false
	}
	return id.Compare(id.Xor(mc.Self, target), mc.Radius) <= 0
}

// CheckHolders answers, for target, which of the old close-group holders
// were lost and which new holders just entered — the set of nodes that
// must now be asked to hold (or stop holding) data keyed near target. It
// is gated on self being within the proximal range computed at
// ComputeChange time, matching the original's CheckHolders.
func (mc *MatrixChange) CheckHolders(target id.Id) (oldHolders, newHolders []id.Id) {
	if !mc.isInProximalRange(target) {
		return nil, nil
	}

	lostSet := toIdSet(mc.LostNodes)
	oldSet := toIdSet(mc.OldMatrix)
	for _, n := range mc.OldMatrix {
		if _, ok := lostSet[n]; ok {
			oldHolders = append(oldHolders, n)
		}
	}
	for _, n := range mc.NewMatrix {
		if _, ok := oldSet[n]; !ok {
			newHolders = append(newHolders, n)
		}
	}
	return oldHolders, newHolders
}

// ChooseHolder deterministically picks, among onlineHolders, the one that
// should take over responsibility for target when self forwards a
// holder-replacement request, after the original's ChoosePmidNode: it
// sorts self together with every entry of onlineHolders by closeness to
// target, takes self's position in that order, and returns the holder at
// the same position among onlineHolders sorted the same way (the last
// holder if self sorts after all of them). groupSize is not used.
func ChooseHolder(self id.Id, onlineHolders []id.Id, target id.Id, groupSize int) (id.Id, bool) {
	if len(onlineHolders) == 0 {
		return id.Id{}, false
	}

	ring := append([]id.Id{self}, onlineHolders...)
	id.ByCloseness(ring, target)

	selfPos := -1
	for i, n := range ring {
		if n.Equal(self) {
			selfPos = i
			break
		}
	}
	if selfPos == -1 {
		return id.Id{}, false
	}

	holdersSorted := append([]id.Id(nil), onlineHolders...)
	id.ByCloseness(holdersSorted, target)

	pos := selfPos
	if pos >= len(holdersSorted) {
		pos = len(holdersSorted) - 1
	}
	return holdersSorted[pos], true
}
