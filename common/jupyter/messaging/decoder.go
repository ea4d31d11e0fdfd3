package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/go-zeromq/zmq4"
)

type decoderState int

const (
	decoderStart decoderState = iota
	decoderGetDelimiter
	decoderGetSignature
	decoderGetHeader
	decoderGetParentHeader
	decoderGetMetadata
	decoderGetContent
	decoderFinish

	// decoderFailed swallows the remaining frames of a message after one of its frames was rejected.
	decoderFailed
)

func (s decoderState) String() string {
	return [...]string{"Start", "GetDelimiter", "GetSignature", "GetHeader", "GetParentHeader", "GetMetadata", "GetContent", "Finish", "Failed"}[s]
}

// FrameReceiver is the part of a zmq4.Socket that the Decoder reads from.
type FrameReceiver interface {
	Recv() (zmq4.Msg, error)
}

// Decoder reassembles one JupyterMessage at a time from the frames of a multipart message:
//
//	[identity]* <IDS|MSG> signature header parent_header metadata content [buffer]*
//
// Any number of identity frames may precede the delimiter. A Decoder is not safe for concurrent use;
// each endpoint owns its own.
type Decoder struct {
	// SignatureScheme and Key are used to verify inbound signatures. An empty Key disables verification.
	SignatureScheme string
	Key             []byte

	state decoderState
	err   error

	identities   [][]byte
	signature    []byte
	header       []byte
	parentHeader []byte
	metadata     []byte
	content      []byte
	buffers      [][]byte
}

func NewDecoder(signatureScheme string, key []byte) *Decoder {
	return &Decoder{SignatureScheme: signatureScheme, Key: key}
}

// State returns the current state of the decoder.
func (d *Decoder) State() string {
	return d.state.String()
}

// Reset discards any partially decoded message.
func (d *Decoder) Reset() {
	*d = Decoder{SignatureScheme: d.SignatureScheme, Key: d.Key}
}

// Feed advances the state machine by one frame. Once a frame is rejected, the rest of the message is
// ignored until Complete, which returns the error.
func (d *Decoder) Feed(frame []byte) error {
	if d.state == decoderFailed {
		return nil
	}

	if d.state == decoderStart {
		d.state = decoderGetDelimiter
	}

	switch d.state {
	case decoderGetDelimiter:
		if bytes.Equal(frame, JupyterFrameIDSMSG) {
			d.state = decoderGetSignature
		} else {
			d.identities = append(d.identities, frame)
		}
		return nil
	case decoderFinish:
		d.buffers = append(d.buffers, frame)
		return nil
	}

	if !utf8.Valid(frame) {
		d.err = fmt.Errorf("%w (%s)", ErrInvalidUTF8, d.state)
		d.state = decoderFailed
		return d.err
	}

	switch d.state {
	case decoderGetSignature:
		d.signature = frame
		d.state = decoderGetHeader
	case decoderGetHeader:
		d.header = frame
		d.state = decoderGetParentHeader
	case decoderGetParentHeader:
		d.parentHeader = frame
		d.state = decoderGetMetadata
	case decoderGetMetadata:
		if !json.Valid(frame) {
			d.err = fmt.Errorf("%w: %q", ErrInvalidMetadata, frame)
			d.state = decoderFailed
			return d.err
		}
		d.metadata = frame
		d.state = decoderGetContent
	case decoderGetContent:
		d.content = frame
		d.state = decoderFinish
	}

	return nil
}

// Complete marks the end of the message whose frames were fed and resets the decoder.
// It fails if a frame was rejected, if the envelope is incomplete, if the signature does not
// verify, or if the content cannot be decoded for the message type named by the header.
func (d *Decoder) Complete() (*JupyterMessage, error) {
	defer d.Reset()

	switch d.state {
	case decoderStart, decoderGetDelimiter:
		return nil, ErrMissingDelimiter
	case decoderFailed:
		return nil, d.err
	case decoderFinish:
	default:
		return nil, fmt.Errorf("%w: stopped in state %s", ErrTruncatedEnvelope, d.State())
	}

	frames := &JupyterFrames{
		Frames: [][]byte{JupyterFrameIDSMSG, d.signature, d.header, d.parentHeader, d.metadata, d.content},
	}
	if err := frames.Verify(d.SignatureScheme, d.Key); err != nil {
		return nil, err
	}

	msg := &JupyterMessage{
		Identities:   d.identities,
		Signature:    string(d.signature),
		Header:       decodeHeader(frames.DecodeHeader),
		ParentHeader: decodeHeader(frames.DecodeParentHeader),
		Metadata:     json.RawMessage(frames.MetadataFrame()),
		Buffers:      d.buffers,
	}

	content, err := ParseContent(msg.Header, d.content)
	if err != nil {
		return nil, err
	}
	msg.Content = content

	return msg, nil
}

// Decode feeds every frame of one multipart message through the decoder and completes it.
func (d *Decoder) Decode(frames [][]byte) (*JupyterMessage, error) {
	d.Reset()
	for _, frame := range frames {
		// A rejected frame is reported by Complete.
		_ = d.Feed(frame)
	}
	return d.Complete()
}

// ReadMessage blocks until one multipart message is received from the socket and decodes it.
// Errors of a message that was received but could not be decoded wrap ErrDecode. Transport errors
// are returned as they are.
func (d *Decoder) ReadMessage(socket FrameReceiver) (*JupyterMessage, error) {
	received, err := socket.Recv()
	if err != nil {
		return nil, err
	}

	msg, err := d.Decode(received.Frames)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return msg, nil
}

// decodeHeader returns nil if the frame does not hold a usable header.
func decodeHeader(decode func(out any) error) *MessageHeader {
	var header MessageHeader
	if err := decode(&header); err != nil {
		return nil
	}
	if header.IsEmpty() {
		return nil
	}
	return &header
}
