package server

import (
	"time"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/metrics"
)

// MessagingMetricsProvider allows endpoints to record observations of messaging metrics without knowing
// the actual names of the fields within concrete structs that implement it.
//
// Every method returns metrics.ErrMetricsNotInitialized if the provider has not initialized its metrics yet.
type MessagingMetricsProvider interface {
	// AddMessageE2ELatencyObservation records the time between receiving a request and sending its reply.
	AddMessageE2ELatencyObservation(latency time.Duration, nodeId string, nodeType metrics.NodeType,
		socketType messaging.MessageType, jupyterMessageType string) error

	// ReceivedMessage records that a message was received and decoded.
	ReceivedMessage(nodeId string, nodeType metrics.NodeType, socketType messaging.MessageType, jupyterMessageType string) error

	// SentMessage records that a message was sent, along with the time it took to send it.
	SentMessage(nodeId string, sendLatency time.Duration, nodeType metrics.NodeType, socketType messaging.MessageType,
		jupyterMessageType string) error

	// DroppedMessage records that a message was discarded without a reply.
	DroppedMessage(nodeId string, nodeType metrics.NodeType, socketType messaging.MessageType, reason string) error

	// PublishedStatus records that a status message was published on IOPub.
	PublishedStatus(nodeId string, nodeType metrics.NodeType, state messaging.ExecutionState) error
}
