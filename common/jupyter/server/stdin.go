package server

import (
	"context"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
)

// StdinEndpoint binds the Stdin channel. The kernel never sends input requests, so anything received
// here is logged and dropped.
type StdinEndpoint struct {
	*baseEndpoint

	decoder *messaging.Decoder
}

func NewStdinEndpoint(sc *SocketContext, opts *EndpointOptions) (*StdinEndpoint, error) {
	base, err := newBaseEndpoint(sc, messaging.StdinMessage, opts)
	if err != nil {
		return nil, err
	}

	return &StdinEndpoint{baseEndpoint: base, decoder: base.newDecoder()}, nil
}

func (e *StdinEndpoint) Serve(ctx context.Context) error {
	return serve(ctx, e.baseEndpoint, e.receiveMessages(e.decoder), e.discard)
}

func (e *StdinEndpoint) discard(_ context.Context, request *messaging.JupyterMessage) {
	e.recordReceived(request.JupyterMessageType().String())
	e.log.Warn("Discarding unexpected %v message: %v", e.socket.Type, request)
	e.recordDropped(DropReasonUnexpected)
}
