package server

import (
	"context"

	"github.com/go-zeromq/zmq4"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/utils"
)

// HeartbeatEndpoint echoes every request back to its sender, byte for byte.
type HeartbeatEndpoint struct {
	*baseEndpoint
}

func NewHeartbeatEndpoint(sc *SocketContext, opts *EndpointOptions) (*HeartbeatEndpoint, error) {
	base, err := newBaseEndpoint(sc, messaging.HBMessage, opts)
	if err != nil {
		return nil, err
	}

	return &HeartbeatEndpoint{baseEndpoint: base}, nil
}

func (e *HeartbeatEndpoint) Serve(ctx context.Context) error {
	return serve(ctx, e.baseEndpoint, e.receiveFrames, e.echo)
}

func (e *HeartbeatEndpoint) echo(_ context.Context, msg *zmq4.Msg) {
	if err := e.send(msg.Frames, ""); err != nil {
		e.log.Error(utils.RedStyle.Render("Failed to echo heartbeat: %v"), err)
		e.recordDropped(DropReasonSend)
	}
}
