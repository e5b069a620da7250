// Package wire defines the routing core's wire message schema and its
// default length-prefixed, msgpack-framed codec (the external
// message-wire-framing collaborator from §1 of the spec, given a concrete
// reference implementation here).
package wire

import (
	"fmt"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
)

// Message is the wire record described in §3 of the spec. Optional fields
// (LastId, RelayId, RelayConnectionId, GroupClaim) use the zero Id to mean
// "absent", matching the original protobuf's has_*() accessors.
type Message struct {
	ID                 uint32          `msgpack:"id"`
	Type               config.MessageType `msgpack:"type"`
	SourceId           id.Id           `msgpack:"source_id"`
	DestinationId      id.Id           `msgpack:"destination_id"`
	LastId             id.Id           `msgpack:"last_id"`
	RelayId            id.Id           `msgpack:"relay_id"`
	RelayConnectionId  id.Id           `msgpack:"relay_connection_id"`
	Request            bool            `msgpack:"request"`
	Direct             bool            `msgpack:"direct"`
	Visited            bool            `msgpack:"visited"`
	ClientNode         bool            `msgpack:"client_node"`
	Replication        uint16          `msgpack:"replication"`
	HopsToLive         uint16          `msgpack:"hops_to_live"`
	RouteHistory       []id.Id         `msgpack:"route_history"`
	GroupClaim         id.Id           `msgpack:"group_claim"`
	Data               [][]byte        `msgpack:"data"`
}

// HasLastId reports whether LastId is set.
func (m *Message) HasLastId() bool { return !m.LastId.IsZero() }

// HasRelayId reports whether RelayId is set.
func (m *Message) HasRelayId() bool { return !m.RelayId.IsZero() }

// HasRelayConnectionId reports whether RelayConnectionId is set.
func (m *Message) HasRelayConnectionId() bool { return !m.RelayConnectionId.IsZero() }

// HasGroupClaim reports whether GroupClaim is set.
func (m *Message) HasGroupClaim() bool { return !m.GroupClaim.IsZero() }

// HasSourceId reports whether SourceId is set; an empty SourceId marks a
// relay request per the Glossary's "Relay message" definition.
func (m *Message) HasSourceId() bool { return !m.SourceId.IsZero() }

// IsResponse reports whether the message is a response (as opposed to a
// request).
func (m *Message) IsResponse() bool { return !m.Request }

// Clone returns an independent deep copy, used whenever a handler needs to
// mutate a message's routing metadata without disturbing the caller's
// copy (e.g. building a reply or rewriting destination_id for fan-out).
func (m *Message) Clone() *Message {
	clone := *m
	clone.RouteHistory = append([]id.Id(nil), m.RouteHistory...)
	clone.Data = make([][]byte, len(m.Data))
	for i, d := range m.Data {
		clone.Data[i] = append([]byte(nil), d...)
	}
	return &clone
}

// Validate rejects structurally malformed messages, the first guard in the
// §4.6 classification table. It performs no semantic (routing) checks.
func (m *Message) Validate() error {
	if m.Type.String() == "unknown" {
		return fmt.Errorf("wire: unknown message type %d", m.Type)
	}
	if int(m.Replication) > 0 {
		// Replication range is only meaningful for group messages; the
		// message handler enforces the [1, G] bound where it matters
		// (fan-out), not here, since a direct message legitimately
		// carries Replication == 0.
	}
	if len(m.RouteHistory) > 0 {
		seen := make(map[id.Id]struct{}, len(m.RouteHistory))
		for _, h := range m.RouteHistory {
			if _, dup := seen[h]; dup {
				return fmt.Errorf("wire: route_history contains a duplicate entry")
			}
			seen[h] = struct{}{}
		}
	}
	return nil
}
