package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/utils"
)

const (
	JupyterKernel NodeType = "jupyter_kernel"

	Namespace = "gokernel"
)

var (
	ErrKernelPrometheusManagerAlreadyRunning = errors.New("KernelPrometheusManager is already running")
	ErrKernelPrometheusManagerNotRunning     = errors.New("KernelPrometheusManager is not running")
	ErrMetricsNotInitialized                 = errors.New("the KernelPrometheusManager has not been initialized yet")
)

// NodeType indicates what kind of process is recording a metric.
type NodeType string

func (t NodeType) String() string {
	return string(t)
}

// KernelPrometheusManager records the messaging metrics of a kernel and, if it was given a positive port,
// serves them over HTTP for Prometheus to scrape.
type KernelPrometheusManager struct {
	log logger.Logger

	registry          *prometheus.Registry
	prometheusHandler http.Handler
	engine            *gin.Engine
	httpServer        *http.Server
	listener          net.Listener

	// MessagesReceivedCounterVec counts the Jupyter messages that were received and decoded.
	//
	// This metric requires the following labels:
	//
	// - "node_id": the ID of the kernel.
	//
	// - "node_type": the "type" of the node (i.e., "jupyter_kernel").
	//
	// - "socket_type": the socket on which the message was received.
	//
	// - "jupyter_message_type": the Jupyter message type of the message.
	MessagesReceivedCounterVec *prometheus.CounterVec

	// MessagesSentCounterVec counts the Jupyter messages that were sent. It uses the same labels as
	// MessagesReceivedCounterVec.
	MessagesSentCounterVec *prometheus.CounterVec

	// MessagesDroppedCounterVec counts inbound messages that were discarded without a reply, labelled by reason.
	MessagesDroppedCounterVec *prometheus.CounterVec

	// StatusPublishedCounterVec counts the IOPub status messages published, labelled by execution state.
	StatusPublishedCounterVec *prometheus.CounterVec

	// MessageLatencyMicrosecondsVec is the latency, in microseconds, between receiving a request and
	// sending its reply.
	MessageLatencyMicrosecondsVec *prometheus.HistogramVec

	// MessageSendLatencyMicrosecondsVec is a histogram of the time taken to send a ZMQ message in microseconds.
	MessageSendLatencyMicrosecondsVec *prometheus.HistogramVec

	nodeId string

	port int
	mu   sync.Mutex

	// serving indicates whether the manager has been started and is serving requests.
	serving            bool
	metricsInitialized bool
}

// NewKernelPrometheusManager creates a new KernelPrometheusManager and returns a pointer to it.
//
// If port is 0, an ephemeral port is used. If port is negative, metrics are recorded but not served.
func NewKernelPrometheusManager(port int, nodeId string) *KernelPrometheusManager {
	registry := prometheus.NewRegistry()

	manager := &KernelPrometheusManager{
		port:              port,
		registry:          registry,
		prometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		nodeId:            nodeId,
		serving:           false,
	}
	config.InitLogger(&manager.log, manager)
	return manager
}

// isRunningUnsafe returns true if the KernelPrometheusManager has been started and is serving metrics.
// This does not acquire the mutex and is intended for file-internal use only.
func (m *KernelPrometheusManager) isRunningUnsafe() bool {
	return m.serving
}

// IsRunning returns true if the KernelPrometheusManager has been started.
func (m *KernelPrometheusManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.isRunningUnsafe()
}

// NodeId returns the node ID associated with the metrics manager.
func (m *KernelPrometheusManager) NodeId() string {
	return m.nodeId
}

// Registry returns the registry that all metrics of this manager are registered with.
func (m *KernelPrometheusManager) Registry() *prometheus.Registry {
	return m.registry
}

// Port returns the port that metrics are served on. It is only meaningful once the manager has been started.
func (m *KernelPrometheusManager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.port
}

// Start registers metrics with Prometheus and begins serving the metrics via an HTTP endpoint.
func (m *KernelPrometheusManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serving {
		m.log.Warn("KernelPrometheusManager for kernel %s is already running.", m.nodeId)
		return ErrKernelPrometheusManagerAlreadyRunning
	}

	if !m.metricsInitialized {
		err := m.initializeMetrics()
		if err != nil {
			return err
		}
	}

	if err := m.initializeHttpServer(); err != nil {
		return err
	}

	m.serving = true
	return nil
}

// Stop instructs the KernelPrometheusManager to shut down its HTTP server.
func (m *KernelPrometheusManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunningUnsafe() /* we already have the lock */ {
		m.log.Warn("KernelPrometheusManager for kernel %s is not running.", m.nodeId)
		return ErrKernelPrometheusManagerNotRunning
	}

	m.serving = false
	if m.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}

	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (m *KernelPrometheusManager) HandleRequest(c *gin.Context) {
	m.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

func (m *KernelPrometheusManager) initializeHttpServer() error {
	if m.port < 0 {
		m.log.Debug("Prometheus Port is set to %d. Not serving HTTP server.", m.port)
		return nil
	}

	m.engine = gin.New()
	m.engine.Use(gin.Recovery())
	m.engine.Use(cors.Default())

	m.engine.GET("/metrics", m.HandleRequest)

	address := fmt.Sprintf("0.0.0.0:%d", m.port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		m.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		return err
	}

	m.listener = listener
	m.port = listener.Addr().(*net.TCPAddr).Port
	m.httpServer = &http.Server{
		Handler: m.engine,
	}

	go func() {
		m.log.Debug("Serving Prometheus metrics at %s", listener.Addr())
		if err := m.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(utils.RedStyle.Render("HTTP Server on '%s' stopped. Error: %v"), listener.Addr(), err)
		}
	}()

	return nil
}

func (m *KernelPrometheusManager) initializeMetrics() error {
	labels := []string{"node_id", "node_type", "socket_type", "jupyter_message_type"}

	m.MessagesReceivedCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_received_total",
		Help:      "The number of Jupyter messages received and decoded.",
	}, labels)

	m.MessagesSentCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_sent_total",
		Help:      "The number of Jupyter messages sent.",
	}, labels)

	m.MessagesDroppedCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_dropped_total",
		Help:      "The number of inbound messages that were discarded without a reply.",
	}, []string{"node_id", "node_type", "socket_type", "reason"})

	m.StatusPublishedCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "status_published_total",
		Help:      "The number of IOPub status messages published.",
	}, []string{"node_id", "node_type", "execution_state"})

	m.MessageLatencyMicrosecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "message_latency_microseconds",
		Help:      "Latency in microseconds between receiving a request and sending its reply.",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10e3, 25e3, 50e3, 100e3, 250e3, 500e3, 1e6},
	}, labels)

	m.MessageSendLatencyMicrosecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "message_send_latency_microseconds",
		Help:      "The latency, in microseconds, to send a ZMQ message.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10e3, 25e3, 50e3, 100e3},
	}, labels)

	collectors := map[string]prometheus.Collector{
		"Messages Received":            m.MessagesReceivedCounterVec,
		"Messages Sent":                m.MessagesSentCounterVec,
		"Messages Dropped":             m.MessagesDroppedCounterVec,
		"Status Published":             m.StatusPublishedCounterVec,
		"Message Latency Microseconds": m.MessageLatencyMicrosecondsVec,
		"Message Send Latency":         m.MessageSendLatencyMicrosecondsVec,
	}

	for name, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", name, err)
			return err
		}
	}

	m.metricsInitialized = true
	return nil
}

////////////////////////////////////////////////
// Messaging Metrics interface implementation //
////////////////////////////////////////////////

// AddMessageE2ELatencyObservation records the time between receiving a request and sending its reply.
func (m *KernelPrometheusManager) AddMessageE2ELatencyObservation(latency time.Duration, nodeId string, nodeType NodeType,
	socketType messaging.MessageType, jupyterMessageType string) error {

	if !m.metricsInitialized {
		m.log.Warn("Cannot record message E2E latency observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.MessageLatencyMicrosecondsVec.
		With(prometheus.Labels{
			"node_id":              nodeId,
			"node_type":            nodeType.String(),
			"socket_type":          socketType.String(),
			"jupyter_message_type": jupyterMessageType,
		}).Observe(float64(latency.Microseconds()))

	return nil
}

// ReceivedMessage records that a message was received and decoded.
func (m *KernelPrometheusManager) ReceivedMessage(nodeId string, nodeType NodeType, socketType messaging.MessageType,
	jupyterMessageType string) error {

	if !m.metricsInitialized {
		m.log.Warn("Cannot record \"MessagesReceived\" observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.MessagesReceivedCounterVec.
		With(prometheus.Labels{
			"node_id":              nodeId,
			"node_type":            nodeType.String(),
			"socket_type":          socketType.String(),
			"jupyter_message_type": jupyterMessageType,
		}).Inc()

	return nil
}

// SentMessage records that a message was sent, along with the time it took to send it.
func (m *KernelPrometheusManager) SentMessage(nodeId string, sendLatency time.Duration, nodeType NodeType,
	socketType messaging.MessageType, jupyterMessageType string) error {

	if !m.metricsInitialized {
		m.log.Warn("Cannot record \"MessagesSent\" observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	labels := prometheus.Labels{
		"node_id":              nodeId,
		"node_type":            nodeType.String(),
		"socket_type":          socketType.String(),
		"jupyter_message_type": jupyterMessageType,
	}

	m.MessagesSentCounterVec.With(labels).Inc()
	m.MessageSendLatencyMicrosecondsVec.With(labels).Observe(float64(sendLatency.Microseconds()))

	return nil
}

// DroppedMessage records that a message was discarded without a reply.
func (m *KernelPrometheusManager) DroppedMessage(nodeId string, nodeType NodeType, socketType messaging.MessageType,
	reason string) error {

	if !m.metricsInitialized {
		m.log.Warn("Cannot record \"MessagesDropped\" observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.MessagesDroppedCounterVec.
		With(prometheus.Labels{
			"node_id":     nodeId,
			"node_type":   nodeType.String(),
			"socket_type": socketType.String(),
			"reason":      reason,
		}).Inc()

	return nil
}

// PublishedStatus records that a status message was published on IOPub.
func (m *KernelPrometheusManager) PublishedStatus(nodeId string, nodeType NodeType, state messaging.ExecutionState) error {
	if !m.metricsInitialized {
		m.log.Warn("Cannot record \"StatusPublished\" observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.StatusPublishedCounterVec.
		With(prometheus.Labels{
			"node_id":         nodeId,
			"node_type":       nodeType.String(),
			"execution_state": string(state),
		}).Inc()

	return nil
}
