package messaging

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

const (
	ImplementationName    = "gokernel"
	ImplementationVersion = "0.1.0"
)

// Reply is the content of a reply that this kernel sends in response to a request.
type Reply interface {
	Content

	// ToJSON serializes the reply, including the "status" discriminator.
	ToJSON() ([]byte, error)
}

type LanguageInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Mimetype          string `json:"mimetype"`
	FileExtension     string `json:"file_extension"`
	PygmentsLexer     string `json:"pygments_lexer"`
	CodemirrorMode    string `json:"codemirror_mode"`
	NbconvertExporter string `json:"nbconvert_exporter"`
}

type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type KernelInfoReply struct {
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	HelpLinks             []HelpLink   `json:"help_links"`
}

func (*KernelInfoReply) MessageType() JupyterMessageType { return MessageTypeKernelInfoReply }

func (r *KernelInfoReply) ToJSON() ([]byte, error) {
	type kernelInfoReply KernelInfoReply
	return json.Marshal(&struct {
		Status string `json:"status"`
		*kernelInfoReply
	}{
		Status:          MessageStatusOK,
		kernelInfoReply: (*kernelInfoReply)(r),
	})
}

func (r *KernelInfoReply) Clone() *KernelInfoReply {
	clone := *r
	clone.HelpLinks = append([]HelpLink(nil), r.HelpLinks...)
	return &clone
}

// DefaultKernelInfo returns the kernel_info_reply content describing this kernel.
func DefaultKernelInfo() *KernelInfoReply {
	goVersion := strings.TrimPrefix(runtime.Version(), "go")

	return &KernelInfoReply{
		ProtocolVersion:       ProtocolVersion,
		Implementation:        ImplementationName,
		ImplementationVersion: ImplementationVersion,
		LanguageInfo: LanguageInfo{
			Name:              "go",
			Version:           goVersion,
			Mimetype:          "text/x-go",
			FileExtension:     ".go",
			PygmentsLexer:     "go",
			CodemirrorMode:    "go",
			NbconvertExporter: "script",
		},
		Banner: fmt.Sprintf("%s %s (Jupyter protocol %s, go %s)", ImplementationName, ImplementationVersion, ProtocolVersion, goVersion),
		HelpLinks: []HelpLink{
			{Text: "Go Documentation", URL: "https://go.dev/doc/"},
			{Text: "Jupyter Messaging", URL: "https://jupyter-client.readthedocs.io/en/latest/messaging.html"},
		},
	}
}

type CommInfo struct {
	TargetName string `json:"target_name"`
}

type CommInfoReply struct {
	Comms map[string]CommInfo `json:"comms"`
}

func (*CommInfoReply) MessageType() JupyterMessageType { return MessageTypeCommInfoReply }

func (r *CommInfoReply) ToJSON() ([]byte, error) {
	comms := r.Comms
	if comms == nil {
		comms = map[string]CommInfo{}
	}

	return json.Marshal(&struct {
		Status string              `json:"status"`
		Comms  map[string]CommInfo `json:"comms"`
	}{
		Status: MessageStatusOK,
		Comms:  comms,
	})
}

// Dispatcher produces the canned reply for a request.
type Dispatcher struct {
	KernelInfo *KernelInfoReply
}

// NewDispatcher creates a Dispatcher that answers kernel_info_request with the given info.
// A nil info is replaced by DefaultKernelInfo.
func NewDispatcher(info *KernelInfoReply) *Dispatcher {
	if info == nil {
		info = DefaultKernelInfo()
	}
	return &Dispatcher{KernelInfo: info}
}

// Reply returns the reply to the given request content. Requests without a reply are an error, as is a
// nil content (i.e., a message whose header could not be decoded).
func (d *Dispatcher) Reply(content Content) (Reply, error) {
	switch content.(type) {
	case nil:
		return nil, ErrMissingHeader
	case *KernelInfoRequest:
		return d.KernelInfo.Clone(), nil
	case *CommInfoRequest:
		// No comms are ever opened by this kernel.
		return &CommInfoReply{Comms: map[string]CommInfo{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoReplyForMessageType, content.MessageType().String())
	}
}
