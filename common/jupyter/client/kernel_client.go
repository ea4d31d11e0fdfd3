package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/scusemua/gokernel/common/jupyter"
	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/jupyter/server"
	"github.com/scusemua/gokernel/common/utils"
)

const (
	// DefaultStatusBufferSize is the number of IOPub messages buffered for Statuses. Further messages are
	// dropped until the buffer is drained.
	DefaultStatusBufferSize = 1024

	// IOSubscriptionPrefix subscribes to the IOPub messages of every kernel.
	IOSubscriptionPrefix = "kernel."
)

var (
	ErrClientClosed       = errors.New("kernel client is closed")
	ErrNotRequestSocket   = errors.New("requests can only be sent on the shell or control socket")
	ErrUnexpectedReply    = errors.New("unexpected reply")
	ErrHeartbeatMismatch  = errors.New("heartbeat echo does not match the ping")
	ErrAlreadyDialed      = errors.New("kernel client has already dialed the kernel")
	ErrSocketNotConnected = errors.New("socket is not connected")
)

// channel is one connected socket of the client together with the goroutine that receives from it.
type channel struct {
	typ    messaging.MessageType
	socket zmq4.Socket

	// mu serializes requests, so that at most one request per socket is awaiting its reply.
	mu       sync.Mutex
	decoder  *messaging.Decoder
	received chan zmq4.Msg
}

// KernelClient is a Jupyter front-end. It sends requests on the shell and control sockets, pings the
// heartbeat socket, and receives IOPub messages.
type KernelClient struct {
	log logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	info     *jupyter.ConnectionInfo
	session  string
	username string
	encoder  *messaging.Encoder

	mu       sync.Mutex
	channels map[messaging.MessageType]*channel
	statuses chan *messaging.JupyterMessage
	closed   bool

	// heartbeats counts the heartbeat sockets dialed so far. Each one gets its own identity.
	heartbeats int
}

// NewKernelClient creates a client of the kernel described by info. If session is empty, a random
// session ID is used.
func NewKernelClient(ctx context.Context, info *jupyter.ConnectionInfo, session string) *KernelClient {
	if session == "" {
		session = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &KernelClient{
		ctx:      ctx,
		cancel:   cancel,
		info:     info,
		session:  session,
		username: utils.GetEnv("USER", "gokernel"),
		encoder:  messaging.NewEncoder(info.SignatureScheme, []byte(info.Key)),
		channels: make(map[messaging.MessageType]*channel, 4),
		statuses: make(chan *messaging.JupyterMessage, DefaultStatusBufferSize),
	}
	config.InitLogger(&client.log, client)

	return client
}

func (c *KernelClient) String() string {
	return fmt.Sprintf("KernelClient[Session=%s, IP=%s]", c.session, c.info.IP)
}

func (c *KernelClient) Session() string {
	return c.session
}

// Dial connects the shell, control, heartbeat and IOPub sockets of the kernel.
func (c *KernelClient) Dial() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	if len(c.channels) > 0 {
		return ErrAlreadyDialed
	}

	identity := zmq4.WithID(zmq4.SocketIdentity(fmt.Sprintf("client-%s", c.session)))
	sockets := map[messaging.MessageType]zmq4.Socket{
		messaging.ShellMessage:   zmq4.NewDealer(c.ctx, identity),
		messaging.ControlMessage: zmq4.NewDealer(c.ctx, identity),
		messaging.HBMessage:      c.newHeartbeatSocket(),
		messaging.IOMessage:      zmq4.NewSub(c.ctx),
	}

	if err := sockets[messaging.IOMessage].SetOption(zmq4.OptionSubscribe, IOSubscriptionPrefix); err != nil {
		closeSockets(sockets)
		return fmt.Errorf("failed to subscribe to IOPub: %w", err)
	}

	for typ, socket := range sockets {
		address, err := c.info.Address(server.PortFor(c.info, typ))
		if err == nil {
			err = socket.Dial(address)
		}

		if err != nil {
			c.log.Error(utils.RedStyle.Render("Failed to dial %v socket of kernel: %v"), typ, err)
			closeSockets(sockets)
			return fmt.Errorf("failed to dial %v socket: %w", typ, err)
		}
	}

	for typ, socket := range sockets {
		ch := &channel{
			typ:      typ,
			socket:   socket,
			decoder:  messaging.NewDecoder(c.info.SignatureScheme, []byte(c.info.Key)),
			received: make(chan zmq4.Msg, 16),
		}
		c.channels[typ] = ch

		switch typ {
		case messaging.IOMessage:
			go c.subscribe(ch)
		case messaging.HBMessage:
			// A REQ socket can only receive after it has sent, so pings receive their own echo.
		default:
			go c.poll(ch)
		}
	}

	c.log.Debug("Connected to kernel at %s.", c.info.IP)
	return nil
}

// Request sends a request of the given type on the shell or control socket and waits for its reply.
// Replies to earlier requests that are still in flight are discarded.
func (c *KernelClient) Request(ctx context.Context, typ messaging.MessageType, msgType messaging.JupyterMessageType, content interface{}) (*messaging.JupyterMessage, error) {
	if typ != messaging.ShellMessage && typ != messaging.ControlMessage {
		return nil, fmt.Errorf("%w: %v", ErrNotRequestSocket, typ)
	}

	ch, err := c.channel(typ)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s content: %w", msgType, err)
	}

	header := messaging.NewMessageHeader(msgType, c.session)
	header.Username = c.username

	frames, err := c.encoder.Encode(nil, header, nil, encoded)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ch.socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	c.log.Debug("Sent %v \"%s\" request %s.", typ, msgType, header.MsgID)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-ch.received:
			if !ok {
				return nil, ErrClientClosed
			}

			reply, err := ch.decoder.Decode(msg.Frames)
			if err != nil {
				c.log.Warn(utils.OrangeStyle.Render("Discarding %v reply that could not be decoded: %v"), typ, err)
				continue
			}

			if reply.ParentHeader == nil || reply.ParentHeader.MsgID != header.MsgID {
				c.log.Debug("Discarding %v reply %s to another request.", typ, reply.JupyterMessageId())
				continue
			}

			return reply, nil
		}
	}
}

// KernelInfo requests the kernel_info of the kernel over the shell socket.
func (c *KernelClient) KernelInfo(ctx context.Context) (*messaging.KernelInfoReply, error) {
	reply, err := c.Request(ctx, messaging.ShellMessage, messaging.MessageTypeKernelInfoRequest, &messaging.KernelInfoRequest{})
	if err != nil {
		return nil, err
	}

	info, ok := reply.Content.(*messaging.KernelInfoReply)
	if !ok {
		return nil, fmt.Errorf("%w: %s to kernel_info_request", ErrUnexpectedReply, reply.JupyterMessageType())
	}

	return info, nil
}

// CommInfo requests the open comms of the kernel over the shell socket.
func (c *KernelClient) CommInfo(ctx context.Context, targetName string) (*messaging.CommInfoReply, error) {
	reply, err := c.Request(ctx, messaging.ShellMessage, messaging.MessageTypeCommInfoRequest, &messaging.CommInfoRequest{TargetName: targetName})
	if err != nil {
		return nil, err
	}

	info, ok := reply.Content.(*messaging.CommInfoReply)
	if !ok {
		return nil, fmt.Errorf("%w: %s to comm_info_request", ErrUnexpectedReply, reply.JupyterMessageType())
	}

	return info, nil
}

// Ping sends a random payload to the heartbeat socket and waits for the kernel to echo it.
func (c *KernelClient) Ping(ctx context.Context) error {
	ch, err := c.channel(messaging.HBMessage)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	socket := ch.socket
	payload := []byte(uuid.NewString())
	if err := socket.Send(zmq4.NewMsg(payload)); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}

	type echo struct {
		msg zmq4.Msg
		err error
	}
	echoed := make(chan echo, 1)
	go func() {
		msg, err := socket.Recv()
		echoed <- echo{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		// The echo may still arrive. Replace the socket so that it cannot be taken for the echo of the next ping.
		if err := c.redialHeartbeat(ch); err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Failed to reconnect the heartbeat socket: %v"), err)
		}
		return ctx.Err()
	case result := <-echoed:
		if result.err != nil {
			return fmt.Errorf("failed to receive heartbeat: %w", result.err)
		}

		if len(result.msg.Frames) != 1 || string(result.msg.Frames[0]) != string(payload) {
			return fmt.Errorf("%w: sent %q, received %s", ErrHeartbeatMismatch, payload, messaging.FramesToString(result.msg.Frames))
		}

		return nil
	}
}

// Statuses returns the IOPub messages received by the client. The channel is closed when the client is.
func (c *KernelClient) Statuses() <-chan *messaging.JupyterMessage {
	return c.statuses
}

// Close closes every socket of the client.
func (c *KernelClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	// Otherwise, the IOPub goroutine closes it once its socket is closed.
	if _, dialed := c.channels[messaging.IOMessage]; !dialed {
		close(c.statuses)
	}

	var errs []error
	for typ, ch := range c.channels {
		if err := ch.socket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%v socket: %w", typ, err))
		}
	}

	return errors.Join(errs...)
}

func (c *KernelClient) channel(typ messaging.MessageType) (*channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	ch, ok := c.channels[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSocketNotConnected, typ)
	}

	return ch, nil
}

// newHeartbeatSocket must be called with c.mu held.
func (c *KernelClient) newHeartbeatSocket() zmq4.Socket {
	c.heartbeats++
	identity := zmq4.SocketIdentity(fmt.Sprintf("client-%s-hb-%d", c.session, c.heartbeats))
	return zmq4.NewReq(c.ctx, zmq4.WithID(identity))
}

// redialHeartbeat closes the heartbeat socket of ch, which stops any pending receive, and dials a new one.
// ch.mu must be held.
func (c *KernelClient) redialHeartbeat(ch *channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	_ = ch.socket.Close()
	ch.socket = c.newHeartbeatSocket()

	address, err := c.info.Address(server.PortFor(c.info, messaging.HBMessage))
	if err != nil {
		return err
	}

	return ch.socket.Dial(address)
}

func (c *KernelClient) poll(ch *channel) {
	defer close(ch.received)

	for {
		msg, err := ch.socket.Recv()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn("Stopped receiving on %v socket: %v", ch.typ, err)
			}
			return
		}

		select {
		case ch.received <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *KernelClient) subscribe(ch *channel) {
	defer close(c.statuses)

	for {
		msg, err := ch.socket.Recv()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn("Stopped receiving on %v socket: %v", ch.typ, err)
			}
			return
		}

		decoded, err := ch.decoder.Decode(msg.Frames)
		if err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Discarding IOPub message that could not be decoded: %v"), err)
			continue
		}

		select {
		case c.statuses <- decoded:
		default:
			c.log.Warn(utils.OrangeStyle.Render("Dropping IOPub %s message %s: buffer is full."), decoded.JupyterMessageType(), decoded.JupyterMessageId())
		}
	}
}

func closeSockets(sockets map[messaging.MessageType]zmq4.Socket) {
	for _, socket := range sockets {
		_ = socket.Close()
	}
}
