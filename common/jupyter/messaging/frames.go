package messaging

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const (
	JupyterSignatureScheme = "hmac-sha256"
)

// Frame offsets relative to the <IDS|MSG> delimiter.
const (
	JupyterFrameStart int = iota
	JupyterFrameSignature
	JupyterFrameHeader
	JupyterFrameParentHeader
	JupyterFrameMetadata
	JupyterFrameContent
	JupyterFrameBuffers
)

var (
	JupyterFrameIDSMSG = []byte("<IDS|MSG>")
	JupyterFrameEmpty  = []byte("{}")
)

// JupyterFrames provides a simple way to access the frames of a Jupyter message.
// Offset is the index of the <IDS|MSG> frame; the frames before it are routing identities.
// 0: <IDS|MSG>, 1: Signature, 2: Header, 3: ParentHeader, 4: Metadata, 5: Content[, 6...: Buffers]
type JupyterFrames struct {
	Frames [][]byte
	Offset int
}

// NewJupyterFrames creates the frames of an outbound message addressed to the given identities.
// All JSON frames are initialized to "{}" and the signature is left empty.
func NewJupyterFrames(identities [][]byte) *JupyterFrames {
	frames := make([][]byte, 0, len(identities)+JupyterFrameBuffers)
	frames = append(frames, identities...)
	offset := len(frames)
	frames = append(frames,
		JupyterFrameIDSMSG,
		[]byte{},
		JupyterFrameEmpty,
		JupyterFrameEmpty,
		JupyterFrameEmpty,
		JupyterFrameEmpty)

	return &JupyterFrames{Frames: frames, Offset: offset}
}

// NewJupyterFramesFromBytes wraps the given frames, locating the delimiter automatically.
// Offset is -1 if there is no delimiter.
func NewJupyterFramesFromBytes(frames [][]byte) *JupyterFrames {
	offset := -1
	for i, frame := range frames {
		if bytes.Equal(frame, JupyterFrameIDSMSG) {
			offset = i
			break
		}
	}
	return &JupyterFrames{Frames: frames, Offset: offset}
}

func (frames *JupyterFrames) Len() int {
	return len(frames.Frames) - frames.Offset
}

// Identities returns the routing frames that precede the delimiter.
func (frames *JupyterFrames) Identities() [][]byte {
	if frames.Offset <= 0 {
		return nil
	}
	return frames.Frames[:frames.Offset]
}

func (frames *JupyterFrames) Validate() error {
	if frames.Offset < 0 {
		return ErrMissingDelimiter
	}
	if frames.Len() < JupyterFrameBuffers {
		return ErrTruncatedEnvelope
	}
	return nil
}

func (frames *JupyterFrames) frame(role int) []byte {
	return frames.Frames[frames.Offset+role]
}

func (frames *JupyterFrames) SignatureFrame() []byte {
	return frames.frame(JupyterFrameSignature)
}

func (frames *JupyterFrames) HeaderFrame() []byte {
	return frames.frame(JupyterFrameHeader)
}

func (frames *JupyterFrames) ParentHeaderFrame() []byte {
	return frames.frame(JupyterFrameParentHeader)
}

func (frames *JupyterFrames) MetadataFrame() []byte {
	return frames.frame(JupyterFrameMetadata)
}

func (frames *JupyterFrames) ContentFrame() []byte {
	return frames.frame(JupyterFrameContent)
}

// BuffersFrames returns the extra buffers that follow the content frame, if any.
func (frames *JupyterFrames) BuffersFrames() [][]byte {
	if frames.Len() > JupyterFrameBuffers {
		return frames.Frames[frames.Offset+JupyterFrameBuffers:]
	}
	return nil
}

func (frames *JupyterFrames) encode(role int, in any) (err error) {
	frames.Frames[frames.Offset+role], err = json.Marshal(in)
	return err
}

func (frames *JupyterFrames) EncodeHeader(header *MessageHeader) error {
	return frames.encode(JupyterFrameHeader, header)
}

// EncodeParentHeader encodes the parent header. A nil parent header is encoded as "{}".
func (frames *JupyterFrames) EncodeParentHeader(header *MessageHeader) error {
	if header == nil {
		frames.Frames[frames.Offset+JupyterFrameParentHeader] = JupyterFrameEmpty
		return nil
	}
	return frames.encode(JupyterFrameParentHeader, header)
}

func (frames *JupyterFrames) EncodeContent(in any) error {
	return frames.encode(JupyterFrameContent, in)
}

// SetContent sets an already-serialized content frame.
func (frames *JupyterFrames) SetContent(content []byte) {
	frames.Frames[frames.Offset+JupyterFrameContent] = content
}

func (frames *JupyterFrames) DecodeHeader(out any) error {
	return json.Unmarshal(frames.HeaderFrame(), out)
}

func (frames *JupyterFrames) DecodeParentHeader(out any) error {
	return json.Unmarshal(frames.ParentHeaderFrame(), out)
}

// Sign computes the signature of the frames and stores it in the signature frame.
// An empty key disables signing, in which case the signature frame is left empty.
func (frames *JupyterFrames) Sign(signatureScheme string, key []byte) error {
	if err := frames.Validate(); err != nil {
		return err
	}
	if len(key) == 0 {
		frames.Frames[frames.Offset+JupyterFrameSignature] = []byte{}
		return nil
	}
	if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	}

	signature := frames.sign(key)
	encoded := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(encoded, signature)
	frames.Frames[frames.Offset+JupyterFrameSignature] = encoded
	return nil
}

// Verify checks the signature frame against the given key. An empty key disables verification.
func (frames *JupyterFrames) Verify(signatureScheme string, key []byte) error {
	if err := frames.Validate(); err != nil {
		return err
	}
	if len(key) == 0 {
		return nil
	}
	if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	}
	if !frames.verify(key) {
		return ErrInvalidJupyterSignature
	}
	return nil
}

func (frames *JupyterFrames) verify(signkey []byte) bool {
	expect := frames.sign(signkey)
	signature := make([]byte, hex.DecodedLen(len(frames.SignatureFrame())))
	if _, err := hex.Decode(signature, frames.SignatureFrame()); err != nil {
		return false
	}
	return hmac.Equal(expect, signature)
}

// sign covers header, parent header, metadata and content. Buffers are not signed.
func (frames *JupyterFrames) sign(signkey []byte) []byte {
	mac := hmac.New(sha256.New, signkey)
	for _, msgpart := range frames.Frames[frames.Offset+JupyterFrameHeader : frames.Offset+JupyterFrameBuffers] {
		mac.Write(msgpart)
	}
	return mac.Sum(nil)
}

func (frames *JupyterFrames) String() string {
	return FramesToString(frames.Frames)
}

// FramesToString returns a string of the given frames.
func FramesToString(frames [][]byte) string {
	if len(frames) == 0 {
		return "[]"
	}

	s := "["
	for i, frame := range frames {
		s += "\"" + string(frame) + "\""

		if i+1 < len(frames) {
			s += ", "
		}
	}

	s += "]"

	return s
}
