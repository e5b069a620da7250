// Package config centralizes the protocol constants and the node-level
// configuration for the routing core, following the teacher's NodeConfig /
// DefaultConfig / Validate pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Parameters holds the protocol-wide constants fixed by §6 of the spec.
// It is the Go analogue of the original implementation's static
// Parameters class and of the teacher's NodeConfig.
type Parameters struct {
	// MaxRoutingTableSize is R: the bounded capacity of the routing table.
	MaxRoutingTableSize int `json:"max_routing_table_size"`
	// ClosestNodesSize is C: the close-group size used by the group matrix.
	ClosestNodesSize int `json:"closest_nodes_size"`
	// NodeGroupSize is G: the replication group size for group-addressed
	// messages.
	NodeGroupSize int `json:"node_group_size"`
	// MaxRouteHistory is H: the bound on a message's route history.
	MaxRouteHistory int `json:"max_route_history"`
	// HopsToLive seeds Message.HopsToLive for originated messages.
	HopsToLive uint16 `json:"hops_to_live"`
	// GreedyFraction is the share of MaxRoutingTableSize a single bucket may
	// occupy; BucketCeiling derives the per-bucket ceiling from it (see
	// RoutingTable.AddNode).
	GreedyFraction float64 `json:"greedy_fraction"`
	// NodeRetryAttempts is the total number of send attempts
	// RecursiveSendOn makes to one next hop before dropping the connection
	// (3, per §4.5).
	NodeRetryAttempts int `json:"node_retry_attempts"`
	// RetryBackoff is the sleep between retry attempts (50ms, per §4.5).
	RetryBackoff time.Duration `json:"retry_backoff"`
	// Caching is carried in the parameter set for the cacheable
	// request/response hooks of §4.6 guards #3/#4. The routing package does
	// not read it: NewNode always installs NoopCache.
	Caching bool `json:"caching"`
	// OutboundWorkers bounds the size of the outbound task pool (§5).
	OutboundWorkers int `json:"outbound_workers"`
	// NonRoutingTableCapacityPerClient bounds NRT entries per owning
	// server connection (§3 NRT invariants).
	NonRoutingTableCapacityPerClient int `json:"non_routing_table_capacity_per_client"`
}

// DefaultParameters returns the parameter set used throughout the original
// implementation: a 64-entry routing table, 8-node close groups, 4-node
// replication groups, and a 20-entry route history bound.
func DefaultParameters() *Parameters {
	return &Parameters{
		MaxRoutingTableSize:              64,
		ClosestNodesSize:                 8,
		NodeGroupSize:                    4,
		MaxRouteHistory:                  20,
		HopsToLive:                       100,
		GreedyFraction:                   0.75,
		NodeRetryAttempts:                3,
		RetryBackoff:                     50 * time.Millisecond,
		Caching:                          true,
		OutboundWorkers:                  4,
		NonRoutingTableCapacityPerClient: 8,
	}
}

// Validate rejects parameter sets that would make the protocol's
// invariants unsatisfiable.
func (p *Parameters) Validate() error {
	if p.MaxRoutingTableSize <= 0 {
		return fmt.Errorf("config: max_routing_table_size must be positive")
	}
	if p.ClosestNodesSize <= 0 || p.ClosestNodesSize > p.MaxRoutingTableSize {
		return fmt.Errorf("config: closest_nodes_size must be in (0, max_routing_table_size]")
	}
	if p.NodeGroupSize <= 0 || p.NodeGroupSize > p.ClosestNodesSize {
		return fmt.Errorf("config: node_group_size must be in (0, closest_nodes_size]")
	}
	if p.MaxRouteHistory <= 0 {
		return fmt.Errorf("config: max_route_history must be positive")
	}
	if p.GreedyFraction <= 0 || p.GreedyFraction > 1 {
		return fmt.Errorf("config: greedy_fraction must be in (0, 1]")
	}
	if p.NodeRetryAttempts < 0 {
		return fmt.Errorf("config: node_retry_attempts cannot be negative")
	}
	if p.OutboundWorkers <= 0 {
		return fmt.Errorf("config: outbound_workers must be positive")
	}
	return nil
}

// LoadParameters loads a Parameters set from a JSON file, validating it
// before returning.
func LoadParameters(filename string) (*Parameters, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read parameters file: %w", err)
	}
	p := DefaultParameters()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: parse parameters file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("config: parameters validation failed: %w", err)
	}
	return p, nil
}

// SaveParameters writes the parameter set as indented JSON, creating any
// missing parent directory.
func (p *Parameters) SaveParameters(filename string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal parameters: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create parameters directory: %w", err)
		}
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: write parameters file: %w", err)
	}
	return nil
}

// BucketCeiling returns MaxRoutingTableSize * GreedyFraction (at least 1).
// Once the table is full, a candidate whose bucket already holds this many
// entries is admitted only by evicting the furthest-from-self entry of a
// bucket holding more than this many (see RoutingTable.AddNode's
// bucket-balance rule).
func (p *Parameters) BucketCeiling() int {
	ceiling := int(float64(p.MaxRoutingTableSize) * p.GreedyFraction)
	if ceiling < 1 {
		ceiling = 1
	}
	return ceiling
}
