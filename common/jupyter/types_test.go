package jupyter_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/gokernel/common/jupyter"
)

const connectionFile = `{
  "shell_port": 53794,
  "iopub_port": 53795,
  "stdin_port": 53796,
  "control_port": 53797,
  "hb_port": 53798,
  "ip": "127.0.0.1",
  "key": "a0436f6c-1916-498b-8eb9-e81ab9368e84",
  "transport": "tcp",
  "signature_scheme": "hmac-sha256",
  "kernel_name": "gokernel"
}`

var _ = Describe("ConnectionInfo", func() {
	It("will load a connection file from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "kernel.json")
		Expect(os.WriteFile(path, []byte(connectionFile), 0600)).To(Succeed())

		info, err := jupyter.LoadConnectionInfo(path)
		Expect(err).To(BeNil())
		Expect(info.ShellPort).To(Equal(53794))
		Expect(info.IOPubPort).To(Equal(53795))
		Expect(info.StdinPort).To(Equal(53796))
		Expect(info.ControlPort).To(Equal(53797))
		Expect(info.HBPort).To(Equal(53798))
		Expect(info.IP).To(Equal("127.0.0.1"))
		Expect(info.Key).To(Equal("a0436f6c-1916-498b-8eb9-e81ab9368e84"))
		Expect(info.Transport).To(Equal(jupyter.TransportTCP))
		Expect(info.SignatureScheme).To(Equal("hmac-sha256"))
	})

	It("will fail if the file does not exist", func() {
		_, err := jupyter.LoadConnectionInfo(filepath.Join(GinkgoT().TempDir(), "missing.json"))
		Expect(errors.Is(err, jupyter.ErrConnectionFile)).To(BeTrue())
	})

	It("will fail if the file is not a JSON object", func() {
		_, err := jupyter.ConnectionInfoFromReader(strings.NewReader("[1, 2, 3]"))
		Expect(errors.Is(err, jupyter.ErrConnectionFileDecode)).To(BeTrue())
	})

	DescribeTable("will fail if a required field is absent",
		func(field string) {
			lines := strings.Split(connectionFile, "\n")
			kept := make([]string, 0, len(lines))
			for _, line := range lines {
				if !strings.Contains(line, `"`+field+`"`) {
					kept = append(kept, line)
				}
			}

			_, err := jupyter.ConnectionInfoFromReader(strings.NewReader(strings.Join(kept, "\n")))
			Expect(errors.Is(err, jupyter.ErrMissingConnectionField)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(field))
		},
		Entry(nil, "control_port"),
		Entry(nil, "shell_port"),
		Entry(nil, "transport"),
		Entry(nil, "signature_scheme"),
		Entry(nil, "stdin_port"),
		Entry(nil, "hb_port"),
		Entry(nil, "ip"),
		Entry(nil, "iopub_port"),
		Entry(nil, "key"),
	)

	It("will fail if a field has the wrong type", func() {
		_, err := jupyter.ConnectionInfoFromReader(strings.NewReader(strings.Replace(connectionFile, "53794", `"53794"`, 1)))
		Expect(errors.Is(err, jupyter.ErrConnectionFileDecode)).To(BeTrue())
	})

	It("will fail if a field is null", func() {
		_, err := jupyter.ConnectionInfoFromReader(strings.NewReader(strings.Replace(connectionFile, `"tcp"`, "null", 1)))
		Expect(errors.Is(err, jupyter.ErrMissingConnectionField)).To(BeTrue())
	})

	Context("Address", func() {
		It("will build TCP addresses", func() {
			info := &jupyter.ConnectionInfo{IP: "127.0.0.1", Transport: jupyter.TransportTCP}
			Expect(info.Address(5555)).To(Equal("tcp://127.0.0.1:5555"))
		})

		It("will build IPC addresses", func() {
			info := &jupyter.ConnectionInfo{IP: "/tmp/kernel", Transport: jupyter.TransportIPC}
			Expect(info.Address(1)).To(Equal("ipc:///tmp/kernel-1"))
		})

		It("will reject unknown transports", func() {
			info := &jupyter.ConnectionInfo{IP: "127.0.0.1", Transport: "udp"}
			_, err := info.Address(1)
			Expect(errors.Is(err, jupyter.ErrUnsupportedTransport)).To(BeTrue())
		})
	})

	It("will redact the key when pretty-printing", func() {
		info := &jupyter.ConnectionInfo{IP: "127.0.0.1", Key: "secret"}
		Expect(info.PrettyString(2)).ToNot(ContainSubstring("secret"))
		Expect(info.String()).To(ContainSubstring("secret"))
	})
})
