package messaging

import (
	"fmt"
)

// Encoder builds signed outbound envelopes.
type Encoder struct {
	SignatureScheme string
	Key             []byte
}

func NewEncoder(signatureScheme string, key []byte) *Encoder {
	return &Encoder{SignatureScheme: signatureScheme, Key: key}
}

// Encode serializes a message from this kernel addressed to the given identities.
// The content must already be serialized.
func (e *Encoder) Encode(identities [][]byte, header *MessageHeader, parent *MessageHeader, content []byte) ([][]byte, error) {
	frames := NewJupyterFrames(identities)

	if err := frames.EncodeHeader(header); err != nil {
		return nil, err
	}

	if err := frames.EncodeParentHeader(parent); err != nil {
		return nil, err
	}

	frames.SetContent(content)

	if err := frames.Sign(e.SignatureScheme, e.Key); err != nil {
		return nil, err
	}

	return frames.Frames, nil
}

// EncodeReply serializes the reply to the given request. The reply is addressed to the identities of the
// request, carries the request's header as its parent header, and shares the request's session.
func (e *Encoder) EncodeReply(request *JupyterMessage, reply Reply) ([][]byte, error) {
	if request.Header == nil {
		return nil, ErrMissingHeader
	}

	content, err := reply.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", reply.MessageType(), err)
	}

	header := NewMessageHeader(reply.MessageType(), request.Header.Session)
	return e.Encode(request.Identities, header, request.Header, content)
}

// EncodeStatus serializes an IOPub "status" message. The first frame is the topic.
func (e *Encoder) EncodeStatus(topic string, status KernelStatus) ([][]byte, error) {
	var session string
	if status.ParentHeader != nil {
		session = status.ParentHeader.Session
	}

	frames := NewJupyterFrames([][]byte{[]byte(topic)})

	if err := frames.EncodeHeader(NewMessageHeader(MessageTypeStatus, session)); err != nil {
		return nil, err
	}

	if err := frames.EncodeParentHeader(status.ParentHeader); err != nil {
		return nil, err
	}

	if err := frames.EncodeContent(&MessageKernelStatus{Status: status.State}); err != nil {
		return nil, err
	}

	if err := frames.Sign(e.SignatureScheme, e.Key); err != nil {
		return nil, err
	}

	return frames.Frames, nil
}
