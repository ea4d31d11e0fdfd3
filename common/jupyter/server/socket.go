package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"

	"github.com/scusemua/gokernel/common/jupyter/messaging"
)

const (
	IOTopicStatus = "status"
)

var (
	ErrSocketContextClosed = errors.New("socket context is closed")

	// IOTopicStatusRecognizer matches the topic of IOPub status messages and captures the kernel ID and the topic.
	IOTopicStatusRecognizer = regexp.MustCompile(`^kernel\.([0-9a-f-]+)\.([^.]+)$`)
)

// IOTopic returns the IOPub topic under which the given kernel publishes messages of the given kind.
func IOTopic(kernelId string, topic string) string {
	return fmt.Sprintf("kernel.%s.%s", kernelId, topic)
}

// Socket is a ZMQ socket owned by exactly one endpoint.
type Socket struct {
	zmq4.Socket
	Port int
	Type messaging.MessageType
	Name string // Mostly used for debugging.

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s(%d)", s.Type, s.Port)
}

// Close closes the underlying socket. It is safe to call Close more than once.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.Socket.Close()
	})
	return s.closeErr
}

// IsClosed returns true once Close has been called.
func (s *Socket) IsClosed() bool {
	return s.closed.Load()
}

// SocketContext is the transport context shared by every endpoint of a kernel.
// Creating a socket is serialized; once created, a socket belongs to the caller alone.
type SocketContext struct {
	ctx context.Context
	log logger.Logger

	mu      sync.Mutex
	sockets []*Socket
	closed  bool
}

// NewSocketContext creates a SocketContext. Every socket it creates is bound to ctx.
func NewSocketContext(ctx context.Context) *SocketContext {
	sc := &SocketContext{ctx: ctx}
	config.InitLogger(&sc.log, sc)
	return sc
}

// NewSocket creates the socket used by the given channel: a REP socket for heartbeats, a PUB socket
// for IOPub, and a ROUTER socket for everything else.
func (sc *SocketContext) NewSocket(typ messaging.MessageType, port int, name string) (*Socket, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return nil, ErrSocketContextClosed
	}

	var sock zmq4.Socket
	switch typ {
	case messaging.HBMessage:
		sock = zmq4.NewRep(sc.ctx)
	case messaging.IOMessage:
		sock = zmq4.NewPub(sc.ctx)
	default:
		sock = zmq4.NewRouter(sc.ctx)
	}

	socket := &Socket{Socket: sock, Port: port, Type: typ, Name: name}
	sc.sockets = append(sc.sockets, socket)

	sc.log.Debug("Created %s socket \"%s\" for port %d.", typ, name, port)
	return socket, nil
}

// NumSockets returns the number of sockets created so far.
func (sc *SocketContext) NumSockets() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return len(sc.sockets)
}

// Close closes every socket created by the context. No sockets can be created afterwards.
func (sc *SocketContext) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.closed = true

	var errs []error
	for _, socket := range sc.sockets {
		if err := socket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", socket, err))
		}
	}

	return errors.Join(errs...)
}
