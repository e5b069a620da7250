package routing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/transport"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

// NetworkUtils is the outbound dispatch collaborator from §4.5: direct
// sends, the recursive forwarder, and route-history bookkeeping. Its
// retry loop is written tail-iteratively per the design notes, bounding
// stack usage where the original chains callbacks recursively.
type NetworkUtils struct {
	self      id.Id
	params    *config.Parameters
	rt        *RoutingTable
	nrt       *NonRoutingTable
	transport transport.Transport
	codec     *wire.Codec
	sem       *semaphore.Weighted

	shutdownMu sync.RWMutex
	stopped    bool

	onConnectionLost transport.ConnectionLostFunc
}

// NewNetworkUtils constructs a dispatcher bound to rt/nrt and the given
// transport, bounding concurrent outbound work to params.OutboundWorkers
// (the §5 "internal task pool").
func NewNetworkUtils(self id.Id, params *config.Parameters, rt *RoutingTable, nrt *NonRoutingTable, tr transport.Transport, codec *wire.Codec) *NetworkUtils {
	return &NetworkUtils{
		self:      self,
		params:    params,
		rt:        rt,
		nrt:       nrt,
		transport: tr,
		codec:     codec,
		sem:       semaphore.NewWeighted(int64(params.OutboundWorkers)),
	}
}

// Bootstrap delegates to the transport, recording the connection-lost
// callback for later use by the retry/eviction path.
func (nu *NetworkUtils) Bootstrap(ctx context.Context, endpoints []string, isClient bool,
	onMessage transport.MessageReceivedFunc, onConnectionLost transport.ConnectionLostFunc) (id.Id, error) {
	nu.onConnectionLost = onConnectionLost
	return nu.transport.Bootstrap(ctx, endpoints, isClient, onMessage, onConnectionLost)
}

func (nu *NetworkUtils) notStopped() bool {
	nu.shutdownMu.RLock()
	defer nu.shutdownMu.RUnlock()
	return !nu.stopped
}

// Stop marks the dispatcher stopped. In-flight RecursiveSendOn iterations
// observe this at the top of their next loop turn and return without
// scheduling further attempts, per §5's cancellation contract.
func (nu *NetworkUtils) Stop() {
	nu.shutdownMu.Lock()
	nu.stopped = true
	nu.shutdownMu.Unlock()
	nu.transport.Stop()
}

// SendToDirect makes a single send attempt to peerConnectionID and does
// not retry, logging the outcome either way.
func (nu *NetworkUtils) SendToDirect(msg *wire.Message, peerNodeID, peerConnectionID id.Id) {
	if !nu.notStopped() {
		return
	}
	if err := nu.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer nu.sem.Release(1)

	frame, err := nu.codec.Encode(msg)
	if err != nil {
		logrus.WithError(err).Warn("network_utils: encode failed, dropping outbound message")
		return
	}
	nu.transport.Send(peerConnectionID, frame, func(result transport.SendResult) {
		if result == transport.SendSuccess {
			logrus.WithField("peer", peerNodeID.Short()).Debug("network_utils: send_to_direct succeeded")
			return
		}
		logrus.WithFields(logrus.Fields{"peer": peerNodeID.Short(), "result": result.String()}).
			Warn("network_utils: send_to_direct failed, not retrying")
	})
}

// SendToClosestNode is the recursive forwarder described in §4.5: it
// prefers a directly-connected client, falls back to RecursiveSendOn
// against RT, and finally rewrites the destination to the relay id of a
// response with nowhere else to go.
func (nu *NetworkUtils) SendToClosestNode(msg *wire.Message) {
	if !nu.notStopped() {
		return
	}

	if msg.Direct {
		if client, ok := nu.nrt.GetNodesInfo(msg.DestinationId); ok {
			nu.SendToDirect(msg, client.NodeId, client.ConnectionId)
			return
		}
	}

	if nu.rt.Size() > 0 {
		if err := nu.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer nu.sem.Release(1)
		nu.recursiveSendOn(msg, nil, 0)
		return
	}

	if msg.IsResponse() && msg.HasRelayId() {
		rerouted := msg.Clone()
		rerouted.DestinationId = msg.RelayId
		nu.SendToClosestNode(rerouted)
		return
	}

	logrus.WithField("destination", msg.DestinationId.Short()).
		Warn("network_utils: no route to destination, dropping")
}

func excludeSelf(history []id.Id, self id.Id) []id.Id {
	out := make([]id.Id, 0, len(history))
	for _, h := range history {
		if !h.Equal(self) {
			out = append(out, h)
		}
	}
	return out
}

// adjustRouteHistory appends self if absent and trims from the front once
// the history exceeds H entries.
func (nu *NetworkUtils) adjustRouteHistory(msg *wire.Message) {
	if !containsId(msg.RouteHistory, nu.self) {
		msg.RouteHistory = append(msg.RouteHistory, nu.self)
	}
	if over := len(msg.RouteHistory) - nu.params.MaxRouteHistory; over > 0 {
		msg.RouteHistory = msg.RouteHistory[over:]
	}
}

// recursiveSendOn is the tail-iterative retry loop from §4.5. attempt and
// lastAttempt carry the state that the original implementation threads
// through recursive callback chaining; here they are ordinary loop
// variables, bounding stack usage to O(1) regardless of retry count.
func (nu *NetworkUtils) recursiveSendOn(msg *wire.Message, lastAttempt *NodeInfo, attempt int) {
	for {
		if !nu.notStopped() {
			return
		}

		if attempt >= nu.params.NodeRetryAttempts {
			if lastAttempt != nil {
				nu.rt.DropNode(lastAttempt.NodeId)
				if nu.onConnectionLost != nil {
					nu.onConnectionLost(lastAttempt.ConnectionId)
				}
			}
			attempt = 0
			lastAttempt = nil
		}

		if attempt > 0 {
			time.Sleep(nu.params.RetryBackoff)
		}

		exclude := excludeSelf(msg.RouteHistory, nu.self)
		next, ok := nu.rt.GetClosestNode(msg.DestinationId, exclude, !msg.Direct)
		if !ok {
			logrus.WithField("destination", msg.DestinationId.Short()).
				Warn("network_utils: recursive_send_on found no candidate, dropping")
			return
		}

		nu.adjustRouteHistory(msg)
		result := nu.sendSync(next, msg)

		switch result {
		case transport.SendSuccess:
			logrus.WithField("peer", next.NodeId.Short()).Debug("network_utils: recursive_send_on delivered")
			return
		case transport.SendFailure:
			attempt++
			lastAttempt = next
			continue
		default: // terminal error
			nu.rt.DropNode(next.NodeId)
			if nu.onConnectionLost != nil {
				nu.onConnectionLost(next.ConnectionId)
			}
			attempt = 0
			lastAttempt = nil
			continue
		}
	}
}

func (nu *NetworkUtils) sendSync(target *NodeInfo, msg *wire.Message) transport.SendResult {
	frame, err := nu.codec.Encode(msg)
	if err != nil {
		logrus.WithError(err).Warn("network_utils: encode failed mid-retry, treating as terminal")
		return transport.SendTerminal
	}
	resultCh := make(chan transport.SendResult, 1)
	nu.transport.Send(target.ConnectionId, frame, func(result transport.SendResult) {
		resultCh <- result
	})
	return <-resultCh
}

// SendClosestNodesUpdate implements RpcSender for the Group-Change
// Handler, wrapping closeNodes in a ClosestNodesUpdate message and
// sending it directly to to.
func (nu *NetworkUtils) SendClosestNodesUpdate(to *NodeInfo, closeNodes []*NodeInfo) {
	data, err := encodeNodeInfoList(closeNodes)
	if err != nil {
		logrus.WithError(err).Warn("network_utils: failed to encode closest_nodes_update payload")
		return
	}
	msg := &wire.Message{
		Type:          config.ClosestNodesUpdate,
		SourceId:      nu.self,
		DestinationId: to.NodeId,
		Request:       true,
		Direct:        true,
		HopsToLive:    nu.params.HopsToLive,
		Data:          [][]byte{data},
	}
	nu.SendToDirect(msg, to.NodeId, to.ConnectionId)
}

// SendSubscribe implements RpcSender, wrapping a subscribe/unsubscribe
// flag into a ClosestNodesUpdateSubscribe message sent directly to to.
func (nu *NetworkUtils) SendSubscribe(to *NodeInfo, subscribe bool) {
	flag := []byte{0}
	if subscribe {
		flag[0] = 1
	}
	msg := &wire.Message{
		Type:          config.ClosestNodesUpdateSubscribe,
		SourceId:      nu.self,
		DestinationId: to.NodeId,
		Request:       true,
		Direct:        true,
		HopsToLive:    nu.params.HopsToLive,
		Data:          [][]byte{flag},
	}
	nu.SendToDirect(msg, to.NodeId, to.ConnectionId)
}
