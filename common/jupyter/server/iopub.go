package server

import (
	"context"

	"github.com/petermattis/goid"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/metrics"
	"github.com/scusemua/gokernel/common/utils"
)

// IOPubEndpoint drains the StatusChannel and broadcasts every status under the topic
// "kernel.<kernel ID>.status". Each broadcast carries the header of the request that caused it as its
// parent header.
type IOPubEndpoint struct {
	*baseEndpoint

	encoder *messaging.Encoder
	status  *StatusChannel
	topic   string
}

func NewIOPubEndpoint(sc *SocketContext, opts *EndpointOptions, status *StatusChannel) (*IOPubEndpoint, error) {
	base, err := newBaseEndpoint(sc, messaging.IOMessage, opts)
	if err != nil {
		return nil, err
	}

	return &IOPubEndpoint{
		baseEndpoint: base,
		encoder:      base.newEncoder(),
		status:       status,
		topic:        IOTopic(opts.KernelId, IOTopicStatus),
	}, nil
}

// Topic returns the topic under which statuses are published.
func (e *IOPubEndpoint) Topic() string {
	return e.topic
}

func (e *IOPubEndpoint) Serve(ctx context.Context) error {
	goroutineId := goid.Get()
	defer e.Close()

	e.log.Debug("[gid=%d] Start publishing statuses under topic \"%s\" on port %d.", goroutineId, e.topic, e.socket.Port)

	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-e.status.Statuses():
			e.publish(goroutineId, status)
		}
	}
}

func (e *IOPubEndpoint) publish(goroutineId int64, status messaging.KernelStatus) {
	frames, err := e.encoder.EncodeStatus(e.topic, status)
	if err != nil {
		e.log.Error(utils.RedStyle.Render("[gid=%d] Failed to encode %v: %v"), goroutineId, status, err)
		return
	}

	if err := e.send(frames, messaging.MessageTypeStatus.String()); err != nil {
		e.log.Error(utils.RedStyle.Render("[gid=%d] Failed to publish %v: %v"), goroutineId, status, err)
		return
	}

	style := utils.GrayStyle
	if status.State == messaging.MessageKernelStatusBusy {
		style = utils.YellowStyle
	}
	e.log.Debug(style.Render("[gid=%d] Published %v."), goroutineId, status)

	if e.opts.MessagingMetricsProvider != nil {
		if err := e.opts.MessagingMetricsProvider.PublishedStatus(e.opts.KernelId, metrics.JupyterKernel, status.State); err != nil {
			e.log.Warn("Could not record published status: %v", err)
		}
	}
}
