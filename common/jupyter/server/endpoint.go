package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/petermattis/goid"

	"github.com/scusemua/gokernel/common/jupyter"
	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/metrics"
	"github.com/scusemua/gokernel/common/utils"
)

// Reasons for which an inbound message is dropped.
const (
	DropReasonDecode     = "decode"
	DropReasonNoHeader   = "no_header"
	DropReasonNoReply    = "no_reply"
	DropReasonEncode     = "encode"
	DropReasonSend       = "send"
	DropReasonUnexpected = "unexpected"
)

var (
	ErrBind = errors.New("failed to bind socket")
)

// Endpoint is one of the five sockets of a kernel together with the loop that serves it.
type Endpoint interface {
	fmt.Stringer

	// Type returns the channel served by the endpoint.
	Type() messaging.MessageType

	// Port returns the port of the socket. If the endpoint was configured with port 0, the port that was
	// actually bound is returned once Listen has succeeded.
	Port() int

	// Listen binds the socket. A bind failure is returned as an error wrapping ErrBind.
	Listen() error

	// Serve runs the receive loop of the endpoint until ctx is done or the socket fails.
	// A nil error means that the loop stopped because it was asked to.
	Serve(ctx context.Context) error

	// Close closes the socket, which also stops Serve.
	Close() error
}

// EndpointOptions are the settings shared by every endpoint of a kernel.
type EndpointOptions struct {
	KernelId       string
	ConnectionInfo *jupyter.ConnectionInfo

	// SkipVerification disables the verification of inbound signatures. Outbound messages are still signed.
	SkipVerification bool

	// MessagingMetricsProvider may be nil.
	MessagingMetricsProvider MessagingMetricsProvider
}

// PortFor returns the port of the given channel.
func PortFor(info *jupyter.ConnectionInfo, typ messaging.MessageType) int {
	switch typ {
	case messaging.HBMessage:
		return info.HBPort
	case messaging.ControlMessage:
		return info.ControlPort
	case messaging.ShellMessage:
		return info.ShellPort
	case messaging.StdinMessage:
		return info.StdinPort
	case messaging.IOMessage:
		return info.IOPubPort
	default:
		return -1
	}
}

type baseEndpoint struct {
	socket *Socket
	opts   *EndpointOptions
	log    logger.Logger
}

func newBaseEndpoint(sc *SocketContext, typ messaging.MessageType, opts *EndpointOptions) (*baseEndpoint, error) {
	socket, err := sc.NewSocket(typ, PortFor(opts.ConnectionInfo, typ), fmt.Sprintf("K-%s-%s", typ, opts.KernelId))
	if err != nil {
		return nil, err
	}

	return &baseEndpoint{
		socket: socket,
		opts:   opts,
		log:    config.GetLogger(fmt.Sprintf("%s-endpoint ", typ)),
	}, nil
}

func (e *baseEndpoint) String() string {
	return e.socket.String()
}

func (e *baseEndpoint) Type() messaging.MessageType {
	return e.socket.Type
}

func (e *baseEndpoint) Port() int {
	return e.socket.Port
}

func (e *baseEndpoint) Close() error {
	return e.socket.Close()
}

func (e *baseEndpoint) Listen() error {
	address, err := e.opts.ConnectionInfo.Address(e.socket.Port)
	if err != nil {
		e.log.Error("Cannot bind %v socket: %v", e.socket.Type, err)
		return fmt.Errorf("%w: %w", ErrBind, err)
	}

	if err := e.socket.Listen(address); err != nil {
		e.log.Error(utils.RedStyle.Render("Failed to bind %v socket to %s: %v"), e.socket.Type, address, err)
		return fmt.Errorf("%w: %s socket on %s: %w", ErrBind, e.socket.Type, address, err)
	}

	// Update the port number if it is 0.
	if addr, ok := e.socket.Addr().(*net.TCPAddr); ok {
		e.socket.Port = addr.Port
	}

	e.log.Debug("%v socket is listening on %s (port %d).", e.socket.Type, address, e.socket.Port)
	return nil
}

func (e *baseEndpoint) newDecoder() *messaging.Decoder {
	info := e.opts.ConnectionInfo
	if e.opts.SkipVerification {
		return messaging.NewDecoder(info.SignatureScheme, nil)
	}
	return messaging.NewDecoder(info.SignatureScheme, []byte(info.Key))
}

func (e *baseEndpoint) newEncoder() *messaging.Encoder {
	info := e.opts.ConnectionInfo
	return messaging.NewEncoder(info.SignatureScheme, []byte(info.Key))
}

// receiveFrames blocks until the next multipart message is received from the socket.
func (e *baseEndpoint) receiveFrames() (*zmq4.Msg, error) {
	msg, err := e.socket.Recv()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// receiveMessages returns a function that drains one logical message at a time from the socket through
// decoder. Messages that cannot be decoded are logged and dropped, and the next one is read.
func (e *baseEndpoint) receiveMessages(decoder *messaging.Decoder) func() (*messaging.JupyterMessage, error) {
	return func() (*messaging.JupyterMessage, error) {
		for {
			msg, err := decoder.ReadMessage(e.socket)
			if err == nil {
				return msg, nil
			}

			if !errors.Is(err, messaging.ErrDecode) {
				return nil, err
			}

			e.log.Warn(utils.OrangeStyle.Render("Discarding %v message that could not be decoded: %v"), e.socket.Type, err)
			e.recordDropped(DropReasonDecode)
		}
	}
}

// serve receives messages with receive until ctx is done or receive fails, passing each one to handle.
// Messages are handled one at a time, in the order they were received.
func serve[T any](ctx context.Context, e *baseEndpoint, receive func() (T, error), handle func(ctx context.Context, msg T)) error {
	goroutineId := goid.Get()
	defer e.Close()

	chMsg := make(chan interface{})
	go poll(ctx, receive, chMsg)

	e.log.Debug("[gid=%d] Start serving %v messages on port %d.", goroutineId, e.socket.Type, e.socket.Port)

	for {
		select {
		case <-ctx.Done():
			e.log.Debug("[gid=%d] Context is done. Will cease serving %v messages.", goroutineId, e.socket.Type)
			return nil
		case msg, ok := <-chMsg:
			if !ok {
				return nil
			}

			switch v := msg.(type) {
			case error:
				if ctx.Err() != nil || e.socket.IsClosed() {
					return nil
				}

				e.log.Error(utils.RedStyle.Render("[gid=%d] Failed to receive %v message: %v"), goroutineId, e.socket.Type, v)
				return fmt.Errorf("%s socket: %w", e.socket.Type, v)
			case T:
				handle(ctx, v)
			}
		}
	}
}

func poll[T any](ctx context.Context, receive func() (T, error), chMsg chan<- interface{}) {
	defer close(chMsg)

	var msg interface{}
	for {
		got, err := receive()
		if err == nil {
			msg = got
		} else {
			msg = err
		}

		select {
		case chMsg <- msg:
		case <-ctx.Done():
			return
		}

		// Quit on error.
		if err != nil {
			return
		}
	}
}

func (e *baseEndpoint) send(frames [][]byte, jupyterMessageType string) error {
	sentAt := time.Now()
	if err := e.socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return err
	}

	e.recordSent(time.Since(sentAt), jupyterMessageType)
	return nil
}

func (e *baseEndpoint) recordReceived(jupyterMessageType string) {
	if e.opts.MessagingMetricsProvider == nil {
		return
	}

	if err := e.opts.MessagingMetricsProvider.ReceivedMessage(e.opts.KernelId, metrics.JupyterKernel, e.socket.Type, jupyterMessageType); err != nil {
		e.log.Warn("Could not record received %v message: %v", e.socket.Type, err)
	}
}

func (e *baseEndpoint) recordSent(latency time.Duration, jupyterMessageType string) {
	if e.opts.MessagingMetricsProvider == nil {
		return
	}

	if err := e.opts.MessagingMetricsProvider.SentMessage(e.opts.KernelId, latency, metrics.JupyterKernel, e.socket.Type, jupyterMessageType); err != nil {
		e.log.Warn("Could not record sent %v message: %v", e.socket.Type, err)
	}
}

func (e *baseEndpoint) recordDropped(reason string) {
	if e.opts.MessagingMetricsProvider == nil {
		return
	}

	if err := e.opts.MessagingMetricsProvider.DroppedMessage(e.opts.KernelId, metrics.JupyterKernel, e.socket.Type, reason); err != nil {
		e.log.Warn("Could not record dropped %v message: %v", e.socket.Type, err)
	}
}

func (e *baseEndpoint) recordLatency(latency time.Duration, jupyterMessageType string) {
	if e.opts.MessagingMetricsProvider == nil {
		return
	}

	if err := e.opts.MessagingMetricsProvider.AddMessageE2ELatencyObservation(latency, e.opts.KernelId, metrics.JupyterKernel, e.socket.Type, jupyterMessageType); err != nil {
		e.log.Warn("Could not record latency of %v message: %v", e.socket.Type, err)
	}
}
