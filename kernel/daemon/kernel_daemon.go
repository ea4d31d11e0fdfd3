package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"
	pkgerrors "github.com/pkg/errors"

	"github.com/scusemua/gokernel/common/jupyter"
	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/jupyter/server"
	"github.com/scusemua/gokernel/common/metrics"
	"github.com/scusemua/gokernel/common/utils"
	"github.com/scusemua/gokernel/common/utils/hashmap"
)

var (
	ErrAlreadyRunning   = errors.New("kernel daemon has already been started")
	ErrEndpointPanicked = errors.New("endpoint panicked")
	ErrStopped          = errors.New("kernel daemon stopped before all endpoints were listening")
)

// KernelDaemon runs the five endpoints of a kernel. Every endpoint is required: if one of them cannot bind
// or fails while serving, the others are stopped and Run returns.
type KernelDaemon struct {
	log logger.Logger

	id             string
	connectionInfo *jupyter.ConnectionInfo
	options        KernelDaemonOptions

	dispatcher     *messaging.Dispatcher
	metricsManager *metrics.KernelPrometheusManager
	status         *server.StatusChannel

	endpoints *hashmap.ConcurrentMap[messaging.MessageType, server.Endpoint]

	// ready is resolved once every endpoint is listening, or with the first error that prevents it.
	ready     *promise.ChannelPromise
	listening atomic.Int32
	started   atomic.Bool
}

// New creates a KernelDaemon serving the given connection info. The options are validated, so unset
// options take their defaults.
func New(connectionInfo *jupyter.ConnectionInfo, options *KernelDaemonOptions) *KernelDaemon {
	if options == nil {
		defaultOptions := DefaultKernelDaemonOptions()
		options = &defaultOptions
	}
	_ = options.Validate()

	daemon := &KernelDaemon{
		id:             options.KernelId,
		connectionInfo: connectionInfo,
		options:        *options,
		dispatcher:     messaging.NewDispatcher(nil),
		metricsManager: metrics.NewKernelPrometheusManager(options.PrometheusPort, options.KernelId),
		status:         server.NewStatusChannel(options.StatusBufferSize),
		endpoints:      hashmap.NewConcurrentMapStringer[messaging.MessageType, server.Endpoint](len(messaging.SocketTypes)),
		ready:          promise.NewChannelPromise(),
	}
	config.InitLogger(&daemon.log, daemon)

	return daemon
}

func (d *KernelDaemon) Id() string {
	return d.id
}

// MetricsManager returns the manager that records the messaging metrics of the kernel.
func (d *KernelDaemon) MetricsManager() *metrics.KernelPrometheusManager {
	return d.metricsManager
}

// Run binds and serves every endpoint until ctx is done or an endpoint fails. Run may be called only once.
//
// Run returns nil if it stopped because ctx was done. Otherwise, the returned error joins the errors of
// every endpoint that failed.
func (d *KernelDaemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ctx.Err() != nil {
		d.ready.Resolve(nil, ErrStopped)
		return nil
	}

	if err := d.metricsManager.Start(); err != nil {
		err = pkgerrors.Wrap(err, "failed to start the metrics server")
		d.ready.Resolve(nil, err)
		return err
	}
	defer func() {
		if err := d.metricsManager.Stop(); err != nil {
			d.log.Warn("Failed to stop the metrics server: %v", err)
		}
	}()

	sc := server.NewSocketContext(ctx)
	defer func() {
		if err := sc.Close(); err != nil {
			d.log.Debug("Error while closing sockets: %v", err)
		}
	}()

	endpoints, err := d.createEndpoints(sc)
	if err != nil {
		d.ready.Resolve(nil, err)
		return err
	}

	d.log.Info("Starting kernel %s with %d endpoints.", d.id, len(endpoints))

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(endpoints))
	)
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint server.Endpoint) {
			defer wg.Done()

			if err := d.runEndpoint(ctx, endpoint); err != nil {
				d.log.Error(utils.RedStyle.Render("%v endpoint failed, stopping kernel %s: %v"), endpoint.Type(), d.id, err)
				errs[i] = err
				d.ready.Resolve(nil, err)
				cancel()
			}
		}(i, endpoint)
	}

	wg.Wait()
	d.ready.Resolve(nil, ErrStopped)

	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.log.Info("Kernel %s stopped.", d.id)
	return nil
}

// WaitReady waits until every endpoint is listening. It returns the error that stopped the daemon first,
// if any, or an error if the timeout elapses.
func (d *KernelDaemon) WaitReady(timeout time.Duration) error {
	if err := d.ready.Timeout(timeout); err != nil {
		return fmt.Errorf("kernel %s is not ready after %v: %w", d.id, timeout, err)
	}

	return d.ready.Error()
}

// Endpoint returns the endpoint of the given channel, or nil if Run has not created it yet.
func (d *KernelDaemon) Endpoint(typ messaging.MessageType) server.Endpoint {
	endpoint, _ := d.endpoints.Load(typ)
	return endpoint
}

// ConnectionInfo returns a copy of the connection info with the ports that were actually bound.
// It is only complete once WaitReady has succeeded.
func (d *KernelDaemon) ConnectionInfo() *jupyter.ConnectionInfo {
	info := *d.connectionInfo

	d.endpoints.Range(func(typ messaging.MessageType, endpoint server.Endpoint) bool {
		switch typ {
		case messaging.HBMessage:
			info.HBPort = endpoint.Port()
		case messaging.ControlMessage:
			info.ControlPort = endpoint.Port()
		case messaging.ShellMessage:
			info.ShellPort = endpoint.Port()
		case messaging.StdinMessage:
			info.StdinPort = endpoint.Port()
		case messaging.IOMessage:
			info.IOPubPort = endpoint.Port()
		}
		return true
	})

	return &info
}

func (d *KernelDaemon) createEndpoints(sc *server.SocketContext) ([]server.Endpoint, error) {
	opts := &server.EndpointOptions{
		KernelId:                 d.id,
		ConnectionInfo:           d.connectionInfo,
		SkipVerification:         d.options.SkipSignatureVerification,
		MessagingMetricsProvider: d.metricsManager,
	}

	var (
		endpoints = make([]server.Endpoint, 0, len(messaging.SocketTypes))
		endpoint  server.Endpoint
		err       error
	)
	for _, typ := range messaging.SocketTypes {
		switch typ {
		case messaging.HBMessage:
			endpoint, err = server.NewHeartbeatEndpoint(sc, opts)
		case messaging.ControlMessage:
			endpoint, err = server.NewControlEndpoint(sc, opts, d.dispatcher, d.status)
		case messaging.ShellMessage:
			endpoint, err = server.NewShellEndpoint(sc, opts, d.dispatcher, d.status)
		case messaging.StdinMessage:
			endpoint, err = server.NewStdinEndpoint(sc, opts)
		case messaging.IOMessage:
			endpoint, err = server.NewIOPubEndpoint(sc, opts, d.status)
		}

		if err != nil {
			d.log.Error(utils.RedStyle.Render("Failed to create %v endpoint: %v"), typ, err)
			return nil, pkgerrors.Wrapf(err, "failed to create %v endpoint", typ)
		}

		endpoints = append(endpoints, endpoint)
	}

	for _, endpoint := range endpoints {
		d.endpoints.Store(endpoint.Type(), endpoint)
	}

	return endpoints, nil
}

func (d *KernelDaemon) runEndpoint(ctx context.Context, endpoint server.Endpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(utils.RedStyle.Render("%v endpoint panicked: %v\n%s"), endpoint.Type(), r, string(debug.Stack()))
			err = fmt.Errorf("%w: %v endpoint: %v", ErrEndpointPanicked, endpoint.Type(), r)
		}
	}()

	if err := endpoint.Listen(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if d.listening.Add(1) == int32(len(messaging.SocketTypes)) {
		d.log.Info(utils.GreenStyle.Render("All endpoints of kernel %s are listening."), d.id)
		d.ready.Resolve(d, nil)
	}

	return endpoint.Serve(ctx)
}
