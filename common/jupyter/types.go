package jupyter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	TransportTCP = "tcp"
	TransportIPC = "ipc"
)

// requiredConnectionFields lists the keys that must appear in every connection file.
var requiredConnectionFields = []string{
	"control_port",
	"shell_port",
	"transport",
	"signature_scheme",
	"stdin_port",
	"hb_port",
	"ip",
	"iopub_port",
	"key",
}

// ConnectionInfo stores the contents of the kernel connection info.
// The definition is compatible with github.com/Scusemua/go-utils/config.Options, so that the same
// fields may also be supplied on the command line.
type ConnectionInfo struct {
	IP              string `json:"ip" name:"ip" description:"The IP address of the kernel."`
	ControlPort     int    `json:"control_port" name:"control-port" description:"The port for control messages."`
	ShellPort       int    `json:"shell_port" name:"shell-port" description:"The port for shell messages."`
	StdinPort       int    `json:"stdin_port" name:"stdin-port" description:"The port for stdin messages."`
	HBPort          int    `json:"hb_port" name:"hb-port" description:"The port for heartbeat messages."`
	IOPubPort       int    `json:"iopub_port" name:"iopub-port" description:"The port for iopub messages."`
	Transport       string `json:"transport" name:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
}

// LoadConnectionInfo reads and decodes the connection file at the given path.
func LoadConnectionInfo(path string) (*ConnectionInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConnectionFile, "open %q: %v", path, err)
	}
	defer f.Close()

	info, err := ConnectionInfoFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "connection file %q", path)
	}

	return info, nil
}

// ConnectionInfoFromReader decodes a connection file. Every field is required; keys that this kernel
// does not know about (e.g., "kernel_name") are ignored.
func ConnectionInfoFromReader(r io.Reader) (*ConnectionInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(ErrConnectionFile, err.Error())
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(ErrConnectionFileDecode, err.Error())
	}

	for _, key := range requiredConnectionFields {
		if raw, ok := fields[key]; !ok || string(raw) == "null" {
			return nil, errors.Wrapf(ErrMissingConnectionField, "%q", key)
		}
	}

	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(ErrConnectionFileDecode, err.Error())
	}

	return &info, nil
}

// Address returns the endpoint that a socket listening on the given port should bind to.
func (info *ConnectionInfo) Address(port int) (string, error) {
	switch info.Transport {
	case TransportTCP:
		return fmt.Sprintf("%s://%s:%d", info.Transport, info.IP, port), nil
	case TransportIPC:
		// jupyter_client names IPC endpoints "<ip>-<port>".
		return fmt.Sprintf("%s://%s-%d", info.Transport, info.IP, port), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedTransport, "%q", info.Transport)
	}
}

func (info *ConnectionInfo) String() string {
	m, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
// The key is redacted.
func (info *ConnectionInfo) PrettyString(indentSize int) string {
	redacted := *info
	if redacted.Key != "" {
		redacted.Key = "<redacted>"
	}

	m, err := json.MarshalIndent(&redacted, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}
