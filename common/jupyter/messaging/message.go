package messaging

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MessageHeaderDefaultUsername = "kernel"

	// ProtocolVersion is the version of the Jupyter messaging protocol spoken by this kernel.
	ProtocolVersion = "5.3"

	MessageStatusOK = "ok"
)

const (
	MessageTypeKernelInfoRequest JupyterMessageType = "kernel_info_request"
	MessageTypeKernelInfoReply   JupyterMessageType = "kernel_info_reply"
	MessageTypeCommOpen          JupyterMessageType = "comm_open"
	MessageTypeCommMsg           JupyterMessageType = "comm_msg"
	MessageTypeCommClose         JupyterMessageType = "comm_close"
	MessageTypeCommInfoRequest   JupyterMessageType = "comm_info_request"
	MessageTypeCommInfoReply     JupyterMessageType = "comm_info_reply"
	MessageTypeExecuteRequest    JupyterMessageType = "execute_request"
	MessageTypeExecuteReply      JupyterMessageType = "execute_reply"
	MessageTypeIsCompleteRequest JupyterMessageType = "is_complete_request"
	MessageTypeIsCompleteReply   JupyterMessageType = "is_complete_reply"
	MessageTypeShutdownRequest   JupyterMessageType = "shutdown_request"
	MessageTypeShutdownReply     JupyterMessageType = "shutdown_reply"
	MessageTypeInterruptRequest  JupyterMessageType = "interrupt_request"
	MessageTypeInterruptReply    JupyterMessageType = "interrupt_reply"
	MessageTypeStatus            JupyterMessageType = "status"
)

var (
	ErrInvalidJupyterMessage       = fmt.Errorf("invalid jupyter message")
	ErrMissingDelimiter            = fmt.Errorf("%w: no <IDS|MSG> delimiter frame", ErrInvalidJupyterMessage)
	ErrTruncatedEnvelope           = fmt.Errorf("%w: truncated envelope", ErrInvalidJupyterMessage)
	ErrInvalidUTF8                 = fmt.Errorf("%w: frame is not valid UTF-8", ErrInvalidJupyterMessage)
	ErrInvalidMetadata             = fmt.Errorf("%w: metadata frame is not valid JSON", ErrInvalidJupyterMessage)
	ErrDecode                      = errors.New("failed to decode received message")
	ErrNotSupportedSignatureScheme = errors.New("not supported signature scheme")
	ErrInvalidJupyterSignature     = errors.New("invalid jupyter signature")
	ErrUnrecognizedMessageType     = errors.New("unrecognized message type")
	ErrContentDecode               = errors.New("failed to decode message content")
	ErrMissingHeader               = errors.New("message has no decodable header")
	ErrNoReplyForMessageType       = errors.New("no reply is defined for message type")
)

// knownMessageTypes is the closed set of message types this kernel understands.
var knownMessageTypes = map[JupyterMessageType]struct{}{
	MessageTypeKernelInfoRequest: {}, MessageTypeKernelInfoReply: {},
	MessageTypeCommOpen: {}, MessageTypeCommMsg: {}, MessageTypeCommClose: {},
	MessageTypeCommInfoRequest: {}, MessageTypeCommInfoReply: {},
	MessageTypeExecuteRequest: {}, MessageTypeExecuteReply: {},
	MessageTypeIsCompleteRequest: {}, MessageTypeIsCompleteReply: {},
	MessageTypeShutdownRequest: {}, MessageTypeShutdownReply: {},
	MessageTypeInterruptRequest: {}, MessageTypeInterruptReply: {},
	MessageTypeStatus: {},
}

// JupyterMessageType is the "msg_type" tag of a Jupyter message header.
type JupyterMessageType string

// ParseJupyterMessageType converts the given tag into one of the declared message types.
func ParseJupyterMessageType(tag string) (JupyterMessageType, error) {
	t := JupyterMessageType(tag)
	if !t.IsKnown() {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedMessageType, tag)
	}
	return t, nil
}

func (t JupyterMessageType) String() string {
	return string(t)
}

// IsKnown returns true if t is one of the declared message types.
func (t JupyterMessageType) IsKnown() bool {
	_, ok := knownMessageTypes[t]
	return ok
}

// GetBaseMessageType returns the base portion of the Jupyter message type.
// The "base part" is best defined through an example:
//
// If the message type is "kernel_info_request", then this returns "kernel_info_" and true.
//
// If the message type is not of the form "{action}_request" or "{action}_reply", then this
// returns the empty string and false.
func (t JupyterMessageType) GetBaseMessageType() (string, bool) {
	if strings.HasSuffix(t.String(), "request") {
		return t.String()[0 : len(t.String())-7], true
	} else if strings.HasSuffix(t.String(), "reply") {
		return t.String()[0 : len(t.String())-5], true
	}

	return "", false
}

// ReplyType returns the "_reply" counterpart of a "_request" message type.
func (t JupyterMessageType) ReplyType() (JupyterMessageType, bool) {
	base, ok := t.GetBaseMessageType()
	if !ok || !strings.HasSuffix(t.String(), "request") {
		return "", false
	}

	reply := JupyterMessageType(base + "reply")
	return reply, reply.IsKnown()
}

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type MessageHeader struct {
	MsgID    string             `json:"msg_id"`
	Username string             `json:"username"`
	Session  string             `json:"session"`
	Date     string             `json:"date,omitempty"`
	MsgType  JupyterMessageType `json:"msg_type"`
	Version  string             `json:"version"`
}

// NewMessageHeader creates a header for a new message originating from this kernel.
func NewMessageHeader(msgType JupyterMessageType, session string) *MessageHeader {
	return &MessageHeader{
		MsgID:    uuid.NewString(),
		Username: MessageHeaderDefaultUsername,
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

func (header *MessageHeader) Clone() *MessageHeader {
	return &MessageHeader{
		MsgID:    header.MsgID,
		Username: header.Username,
		Session:  header.Session,
		Date:     header.Date,
		MsgType:  header.MsgType,
		Version:  header.Version,
	}
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// IsEmpty returns true for the "{}" header that Jupyter sends as the parent of top-level requests.
func (header *MessageHeader) IsEmpty() bool {
	return header.MsgID == "" && header.MsgType == ""
}

// JupyterMessage is one decoded logical message. A JupyterMessage is only ever produced by a successful
// decode of a complete envelope and is never reused.
type JupyterMessage struct {
	// Identities are the routing frames that preceded the delimiter, in order. They are required to
	// address a reply back to the sender.
	Identities [][]byte

	Signature string

	// Header is nil if the header frame could not be parsed.
	Header *MessageHeader

	// ParentHeader is nil if the parent header frame was empty or could not be parsed.
	ParentHeader *MessageHeader

	Metadata json.RawMessage

	// Content is nil if Header is nil.
	Content Content

	Buffers [][]byte
}

// Identity returns the originating identity (the first routing frame) as a hex string.
func (m *JupyterMessage) Identity() string {
	if len(m.Identities) == 0 {
		return ""
	}
	return hex.EncodeToString(m.Identities[0])
}

// JupyterMessageType returns the message type, or the empty string if there is no header.
func (m *JupyterMessage) JupyterMessageType() JupyterMessageType {
	if m.Header == nil {
		return ""
	}
	return m.Header.MsgType
}

// JupyterMessageId returns the message ID, or the empty string if there is no header.
func (m *JupyterMessage) JupyterMessageId() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.MsgID
}

// JupyterSession returns the session of the message, or the empty string if there is no header.
func (m *JupyterMessage) JupyterSession() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Session
}

func (m *JupyterMessage) String() string {
	return fmt.Sprintf("JupyterMessage[Identity=%s,MsgId=%s,MsgTyp=%s,Session=%s,NumBuffers=%d]",
		m.Identity(), m.JupyterMessageId(), m.JupyterMessageType(), m.JupyterSession(), len(m.Buffers))
}
