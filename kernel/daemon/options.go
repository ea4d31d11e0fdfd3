package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/scusemua/gokernel/common/jupyter/server"
)

const (
	// DisabledPrometheusPort is the default prometheus port. Metrics are then recorded but not served.
	DisabledPrometheusPort = -1
)

// KernelDaemonOptions configure a KernelDaemon.
type KernelDaemonOptions struct {
	ConnectionFile            string `name:"f" json:"connection_file" yaml:"connection_file" description:"Path to the Jupyter connection file. May also be given as the first positional argument."`
	KernelId                  string `name:"kernel-id" json:"kernel_id" yaml:"kernel_id" description:"ID of the kernel, used in IOPub topics and metric labels. A random ID is generated if empty."`
	PrometheusPort            int    `name:"prometheus-port" json:"prometheus_port" yaml:"prometheus_port" description:"Port on which Prometheus metrics are served. 0 selects a free port; a negative value disables the HTTP server."`
	StatusBufferSize          int    `name:"status-buffer" json:"status_buffer" yaml:"status_buffer" description:"Number of kernel statuses that may be queued for IOPub before request handling blocks."`
	SkipSignatureVerification bool   `name:"skip-signature-verification" json:"skip_signature_verification" yaml:"skip_signature_verification" description:"Accept inbound messages without verifying their HMAC signature. Outbound messages are still signed."`
}

// DefaultKernelDaemonOptions returns the options used when no flag overrides them.
func DefaultKernelDaemonOptions() KernelDaemonOptions {
	return KernelDaemonOptions{
		PrometheusPort:   DisabledPrometheusPort,
		StatusBufferSize: server.DefaultStatusBufferSize,
	}
}

// Validate fills in the defaults of unset options.
func (o *KernelDaemonOptions) Validate() error {
	if o.KernelId == "" {
		o.KernelId = uuid.NewString()
	}

	if o.StatusBufferSize <= 0 {
		o.StatusBufferSize = server.DefaultStatusBufferSize
	}

	return nil
}

func (o *KernelDaemonOptions) String() string {
	return fmt.Sprintf("KernelDaemonOptions[KernelId=%s, ConnectionFile=%s, PrometheusPort=%d, StatusBufferSize=%d, SkipSignatureVerification=%v]",
		o.KernelId, o.ConnectionFile, o.PrometheusPort, o.StatusBufferSize, o.SkipSignatureVerification)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *KernelDaemonOptions) PrettyString(indentSize int) string {
	indentBuffer := make([]byte, indentSize)
	for i := 0; i < indentSize; i++ {
		indentBuffer[i] = ' '
	}

	m, err := json.MarshalIndent(o, "", string(indentBuffer))
	if err != nil {
		panic(err)
	}

	return string(m)
}
