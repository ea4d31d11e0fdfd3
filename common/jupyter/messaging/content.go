package messaging

import (
	"encoding/json"
	"fmt"
)

// Content is the decoded content of a Jupyter message. The concrete type is selected by the "msg_type"
// of the message header and never by the shape of the JSON itself.
type Content interface {
	MessageType() JupyterMessageType
}

type KernelInfoRequest struct{}

func (*KernelInfoRequest) MessageType() JupyterMessageType { return MessageTypeKernelInfoRequest }

// CommOpen is the content of a "comm_open" message, which is sent by either side to open a comm.
type CommOpen struct {
	CommID     string                 `json:"comm_id"`
	TargetName string                 `json:"target_name"`
	Data       map[string]interface{} `json:"data"`
}

func (*CommOpen) MessageType() JupyterMessageType { return MessageTypeCommOpen }

type CommMsg struct {
	CommID string                 `json:"comm_id"`
	Data   map[string]interface{} `json:"data"`
}

func (*CommMsg) MessageType() JupyterMessageType { return MessageTypeCommMsg }

type CommClose struct {
	CommID string                 `json:"comm_id"`
	Data   map[string]interface{} `json:"data"`
}

func (*CommClose) MessageType() JupyterMessageType { return MessageTypeCommClose }

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

func (*CommInfoRequest) MessageType() JupyterMessageType { return MessageTypeCommInfoRequest }

type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

func (*ExecuteRequest) MessageType() JupyterMessageType { return MessageTypeExecuteRequest }

type ExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

func (*ExecuteReply) MessageType() JupyterMessageType { return MessageTypeExecuteReply }

type IsCompleteRequest struct {
	Code string `json:"code"`
}

func (*IsCompleteRequest) MessageType() JupyterMessageType { return MessageTypeIsCompleteRequest }

type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

func (*IsCompleteReply) MessageType() JupyterMessageType { return MessageTypeIsCompleteReply }

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

func (*ShutdownRequest) MessageType() JupyterMessageType { return MessageTypeShutdownRequest }

type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

func (*ShutdownReply) MessageType() JupyterMessageType { return MessageTypeShutdownReply }

type InterruptRequest struct{}

func (*InterruptRequest) MessageType() JupyterMessageType { return MessageTypeInterruptRequest }

type InterruptReply struct {
	Status string `json:"status"`
}

func (*InterruptReply) MessageType() JupyterMessageType { return MessageTypeInterruptReply }

// MessageKernelStatus is the content of an IOPub "status" message.
type MessageKernelStatus struct {
	Status ExecutionState `json:"execution_state"`
}

func (*MessageKernelStatus) MessageType() JupyterMessageType { return MessageTypeStatus }

// newContent returns an empty content value for the given message type. Every declared message type
// has a case; anything else is rejected.
func newContent(typ JupyterMessageType) (Content, error) {
	switch typ {
	case MessageTypeKernelInfoRequest:
		return &KernelInfoRequest{}, nil
	case MessageTypeKernelInfoReply:
		return &KernelInfoReply{}, nil
	case MessageTypeCommOpen:
		return &CommOpen{}, nil
	case MessageTypeCommMsg:
		return &CommMsg{}, nil
	case MessageTypeCommClose:
		return &CommClose{}, nil
	case MessageTypeCommInfoRequest:
		return &CommInfoRequest{}, nil
	case MessageTypeCommInfoReply:
		return &CommInfoReply{}, nil
	case MessageTypeExecuteRequest:
		return &ExecuteRequest{}, nil
	case MessageTypeExecuteReply:
		return &ExecuteReply{}, nil
	case MessageTypeIsCompleteRequest:
		return &IsCompleteRequest{}, nil
	case MessageTypeIsCompleteReply:
		return &IsCompleteReply{}, nil
	case MessageTypeShutdownRequest:
		return &ShutdownRequest{}, nil
	case MessageTypeShutdownReply:
		return &ShutdownReply{}, nil
	case MessageTypeInterruptRequest:
		return &InterruptRequest{}, nil
	case MessageTypeInterruptReply:
		return &InterruptReply{}, nil
	case MessageTypeStatus:
		return &MessageKernelStatus{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedMessageType, typ.String())
	}
}

// ParseContent decodes raw content using the message type named by header.
//
// A nil header yields nil content and no error: the caller decides what to do with a message whose
// header could not be decoded.
func ParseContent(header *MessageHeader, raw []byte) (Content, error) {
	if header == nil {
		return nil, nil
	}

	content, err := newContent(header.MsgType)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, content); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrContentDecode, header.MsgType.String(), err)
	}

	return content, nil
}

// Dispatch decodes raw content for the given message-type tag.
func Dispatch(tag string, raw []byte) (Content, error) {
	typ, err := ParseJupyterMessageType(tag)
	if err != nil {
		return nil, err
	}

	return ParseContent(&MessageHeader{MsgType: typ}, raw)
}
