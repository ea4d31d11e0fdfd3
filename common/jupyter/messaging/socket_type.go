package messaging

// MessageType identifies the socket (and therefore the channel) that a message travels on.
type MessageType int

const (
	HBMessage MessageType = iota
	ControlMessage
	ShellMessage
	StdinMessage
	IOMessage
)

// SocketTypes lists every socket that a kernel binds, in the order they are started.
var SocketTypes = []MessageType{HBMessage, ControlMessage, ShellMessage, StdinMessage, IOMessage}

func (t MessageType) String() string {
	return [...]string{"heartbeat", "control", "shell", "stdin", "io"}[t]
}
