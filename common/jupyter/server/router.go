package server

import (
	"context"
	"errors"
	"time"

	"github.com/petermattis/goid"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/utils"
)

// RouterEndpoint serves the Shell or the Control channel. Each request is decoded, answered with the canned
// reply produced by the Dispatcher, and bracketed by a busy and an idle status on the StatusChannel.
//
// A request that cannot be decoded, or that has no reply, is logged and dropped. No error reply is ever sent.
type RouterEndpoint struct {
	*baseEndpoint

	decoder    *messaging.Decoder
	encoder    *messaging.Encoder
	dispatcher *messaging.Dispatcher
	status     *StatusChannel
}

// NewShellEndpoint creates the endpoint of the Shell channel. status may be nil, in which case no statuses
// are published.
func NewShellEndpoint(sc *SocketContext, opts *EndpointOptions, dispatcher *messaging.Dispatcher, status *StatusChannel) (*RouterEndpoint, error) {
	return newRouterEndpoint(sc, messaging.ShellMessage, opts, dispatcher, status)
}

// NewControlEndpoint creates the endpoint of the Control channel. status may be nil, in which case no statuses
// are published.
func NewControlEndpoint(sc *SocketContext, opts *EndpointOptions, dispatcher *messaging.Dispatcher, status *StatusChannel) (*RouterEndpoint, error) {
	return newRouterEndpoint(sc, messaging.ControlMessage, opts, dispatcher, status)
}

func newRouterEndpoint(sc *SocketContext, typ messaging.MessageType, opts *EndpointOptions, dispatcher *messaging.Dispatcher,
	status *StatusChannel) (*RouterEndpoint, error) {

	base, err := newBaseEndpoint(sc, typ, opts)
	if err != nil {
		return nil, err
	}

	if dispatcher == nil {
		dispatcher = messaging.NewDispatcher(nil)
	}

	return &RouterEndpoint{
		baseEndpoint: base,
		decoder:      base.newDecoder(),
		encoder:      base.newEncoder(),
		dispatcher:   dispatcher,
		status:       status,
	}, nil
}

func (e *RouterEndpoint) Serve(ctx context.Context) error {
	return serve(ctx, e.baseEndpoint, e.receiveMessages(e.decoder), e.handle)
}

func (e *RouterEndpoint) handle(ctx context.Context, request *messaging.JupyterMessage) {
	goroutineId := goid.Get()
	receivedAt := time.Now()

	if request.Header == nil {
		e.log.Warn(utils.OrangeStyle.Render("[gid=%d] Discarding %v message without a header: %v"), goroutineId, e.socket.Type, request)
		e.recordDropped(DropReasonNoHeader)
		return
	}

	msgType := request.JupyterMessageType().String()
	e.recordReceived(msgType)
	e.log.Debug(utils.BlueStyle.Render("[gid=%d] Received %v \"%s\" message %s from %s."), goroutineId, e.socket.Type, msgType, request.JupyterMessageId(), request.Identity())

	e.publishStatus(ctx, messaging.MessageKernelStatusBusy, request.Header)
	defer e.publishStatus(ctx, messaging.MessageKernelStatusIdle, request.Header)

	reply, err := e.dispatcher.Reply(request.Content)
	if err != nil {
		e.log.Warn(utils.OrangeStyle.Render("[gid=%d] Not replying to %v message %s: %v"), goroutineId, e.socket.Type, request.JupyterMessageId(), err)
		e.recordDropped(DropReasonNoReply)
		return
	}

	frames, err := e.encoder.EncodeReply(request, reply)
	if err != nil {
		e.log.Error(utils.RedStyle.Render("[gid=%d] Failed to encode %s for %v message %s: %v"), goroutineId, reply.MessageType(), e.socket.Type, request.JupyterMessageId(), err)
		e.recordDropped(DropReasonEncode)
		return
	}

	if err := e.send(frames, reply.MessageType().String()); err != nil {
		e.log.Error(utils.RedStyle.Render("[gid=%d] Failed to send %s for %v message %s: %v"), goroutineId, reply.MessageType(), e.socket.Type, request.JupyterMessageId(), err)
		e.recordDropped(DropReasonSend)
		return
	}

	e.recordLatency(time.Since(receivedAt), msgType)
	e.log.Debug(utils.GreenStyle.Render("[gid=%d] Sent %s for %v message %s."), goroutineId, reply.MessageType(), e.socket.Type, request.JupyterMessageId())
}

func (e *RouterEndpoint) publishStatus(ctx context.Context, state messaging.ExecutionState, parent *messaging.MessageHeader) {
	if e.status == nil {
		return
	}

	if err := e.status.Publish(ctx, messaging.NewKernelStatus(state, parent)); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("Failed to publish %s status for %v message %s: %v", state, e.socket.Type, parent.MsgID, err)
	}
}
