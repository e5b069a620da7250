package config

// MessageType enumerates the wire message types named in §6 of the spec.
type MessageType int

const (
	Ping MessageType = iota
	Connect
	FindNodes
	ConnectSuccess
	ConnectSuccessAcknowledgement
	Remove
	ClosestNodesUpdate
	ClosestNodesUpdateSubscribe
	Application
)

// String returns the wire-level name of the message type.
func (m MessageType) String() string {
	switch m {
	case Ping:
		return "ping"
	case Connect:
		return "connect"
	case FindNodes:
		return "find_nodes"
	case ConnectSuccess:
		return "connect_success"
	case ConnectSuccessAcknowledgement:
		return "connect_success_ack"
	case Remove:
		return "remove"
	case ClosestNodesUpdate:
		return "closest_nodes_update"
	case ClosestNodesUpdateSubscribe:
		return "closest_nodes_update_subscribe"
	case Application:
		return "application"
	default:
		return "unknown"
	}
}

// IsRoutingMessage reports whether a message type is dispatched to the
// routing service rather than delivered to the application layer.
func (m MessageType) IsRoutingMessage() bool {
	switch m {
	case Ping, Connect, FindNodes, ConnectSuccess, ConnectSuccessAcknowledgement,
		Remove, ClosestNodesUpdate, ClosestNodesUpdateSubscribe:
		return true
	default:
		return false
	}
}

// CompressionType selects the wire codec's payload compressor.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
)

// String returns the configuration name of the compressor.
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}
