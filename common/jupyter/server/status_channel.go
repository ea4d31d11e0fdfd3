package server

import (
	"context"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
)

const (
	DefaultStatusBufferSize = 128
)

// StatusChannel carries kernel status changes from the Shell and Control endpoints to the IOPub endpoint.
// Statuses are delivered in the order they were published. The channel is bounded: once it is full,
// Publish blocks until IOPub catches up or the context of the publisher is done.
type StatusChannel struct {
	ch chan messaging.KernelStatus
}

func NewStatusChannel(capacity int) *StatusChannel {
	if capacity <= 0 {
		capacity = DefaultStatusBufferSize
	}

	return &StatusChannel{ch: make(chan messaging.KernelStatus, capacity)}
}

// Publish enqueues the status. It fails only if ctx is done first.
func (c *StatusChannel) Publish(ctx context.Context, status messaging.KernelStatus) error {
	select {
	case c.ch <- status:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Statuses returns the receiving end of the channel. There must be exactly one consumer.
func (c *StatusChannel) Statuses() <-chan messaging.KernelStatus {
	return c.ch
}

func (c *StatusChannel) Len() int {
	return len(c.ch)
}

func (c *StatusChannel) Cap() int {
	return cap(c.ch)
}
