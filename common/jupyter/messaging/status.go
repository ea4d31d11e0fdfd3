package messaging

import "fmt"

// ExecutionState is the "execution_state" of a kernel as broadcast on IOPub.
type ExecutionState string

const (
	MessageKernelStatusIdle ExecutionState = "idle"
	MessageKernelStatusBusy ExecutionState = "busy"
)

// KernelStatus is a change of the kernel's execution state caused by handling the request whose header is
// ParentHeader.
type KernelStatus struct {
	State        ExecutionState
	ParentHeader *MessageHeader
}

func NewKernelStatus(state ExecutionState, parent *MessageHeader) KernelStatus {
	return KernelStatus{State: state, ParentHeader: parent}
}

// ParentMessageId returns the ID of the request that caused the status change.
func (s KernelStatus) ParentMessageId() string {
	if s.ParentHeader == nil {
		return ""
	}
	return s.ParentHeader.MsgID
}

func (s KernelStatus) String() string {
	return fmt.Sprintf("KernelStatus[%s, parent=%s]", s.State, s.ParentMessageId())
}
