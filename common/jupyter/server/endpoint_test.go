package server_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/gokernel/common/jupyter"
	"github.com/scusemua/gokernel/common/jupyter/messaging"
	"github.com/scusemua/gokernel/common/jupyter/mock_server"
	"github.com/scusemua/gokernel/common/jupyter/server"
	"github.com/scusemua/gokernel/common/metrics"
)

var _ = Describe("Endpoints", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		sc     *server.SocketContext
		info   *jupyter.ConnectionInfo
		opts   *server.EndpointOptions
		served []<-chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		sc = server.NewSocketContext(ctx)
		info = newConnectionInfo()
		opts = &server.EndpointOptions{KernelId: uuid.NewString(), ConnectionInfo: info}
		served = nil
	})

	AfterEach(func() {
		cancel()
		for _, done := range served {
			Eventually(done, time.Second*5).Should(Receive(BeNil()))
		}
		_ = sc.Close()
	})

	serve := func(endpoint server.Endpoint) {
		served = append(served, startEndpoint(ctx, endpoint))
	}

	Context("Heartbeat", func() {
		It("will echo every request byte for byte", func() {
			heartbeat, err := server.NewHeartbeatEndpoint(sc, opts)
			Expect(err).To(BeNil())
			serve(heartbeat)

			client := zmq4.NewReq(ctx)
			defer client.Close()
			Expect(client.Dial(address(heartbeat.Port()))).To(Succeed())

			for i := 0; i < 1000; i++ {
				payload := make([]byte, 1+i%64)
				_, err := rand.Read(payload)
				Expect(err).To(BeNil())

				Expect(client.Send(zmq4.NewMsg(payload))).To(Succeed())

				reply := recvWithTimeout(client, time.Second*5)
				Expect(reply.Frames).To(HaveLen(1))
				Expect(reply.Frames[0]).To(Equal(payload))
			}
		})
	})

	Context("Shell", func() {
		var (
			shell  *server.RouterEndpoint
			status *server.StatusChannel
		)

		BeforeEach(func() {
			status = server.NewStatusChannel(1024)

			var err error
			shell, err = server.NewShellEndpoint(sc, opts, messaging.NewDispatcher(nil), status)
			Expect(err).To(BeNil())
			Expect(shell.Type()).To(Equal(messaging.ShellMessage))
			serve(shell)
		})

		It("will reply to kernel_info_request on the same socket", func() {
			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			request, header := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			msg := recvWithTimeout(dealer, time.Second*5)
			reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
			Expect(err).To(BeNil())

			Expect(reply.JupyterMessageType()).To(Equal(messaging.MessageTypeKernelInfoReply))
			Expect(reply.JupyterSession()).To(Equal(header.Session))
			Expect(reply.ParentHeader.MsgID).To(Equal(header.MsgID))
			Expect(reply.Content).To(Equal(messaging.DefaultKernelInfo()))
		})

		It("will route N concurrent replies to their own senders", func() {
			const numClients = 16

			requests := make([][][]byte, numClients)
			headers := make([]*messaging.MessageHeader, numClients)
			for i := 0; i < numClients; i++ {
				requests[i], headers[i] = newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			}

			var wg sync.WaitGroup
			wg.Add(numClients)
			for i := 0; i < numClients; i++ {
				go func(idx int) {
					defer GinkgoRecover()
					defer wg.Done()

					dealer := newDealer(ctx, fmt.Sprintf("client-%d", idx), shell.Port())
					defer dealer.Close()

					Expect(dealer.Send(zmq4.NewMsgFrom(requests[idx]...))).To(Succeed())

					msg := recvWithTimeout(dealer, time.Second*10)
					reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
					Expect(err).To(BeNil())
					Expect(reply.ParentHeader).ToNot(BeNil())
					Expect(reply.ParentHeader.MsgID).To(Equal(headers[idx].MsgID))

					for other, header := range headers {
						if other == idx {
							continue
						}
						for _, frame := range msg.Frames {
							Expect(bytes.Contains(frame, []byte(header.MsgID))).To(BeFalse())
						}
					}
				}(i)
			}

			wg.Wait()
			Eventually(status.Len).Should(Equal(2 * numClients))
		})

		It("will publish a busy and an idle status for every request, in order", func() {
			const numRequests = 25

			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			headers := make([]*messaging.MessageHeader, 0, numRequests)
			for i := 0; i < numRequests; i++ {
				request, header := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
				headers = append(headers, header)
				Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())
				recvWithTimeout(dealer, time.Second*5)
			}

			for _, header := range headers {
				var busy, idle messaging.KernelStatus
				Eventually(status.Statuses()).Should(Receive(&busy))
				Eventually(status.Statuses()).Should(Receive(&idle))

				Expect(busy.State).To(Equal(messaging.MessageKernelStatusBusy))
				Expect(busy.ParentMessageId()).To(Equal(header.MsgID))
				Expect(idle.State).To(Equal(messaging.MessageKernelStatusIdle))
				Expect(idle.ParentMessageId()).To(Equal(header.MsgID))
			}

			Consistently(status.Statuses(), time.Millisecond*100).ShouldNot(Receive())
		})

		It("will drop messages it cannot decode and keep serving", func() {
			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			Expect(dealer.Send(zmq4.NewMsgFrom([]byte("not"), []byte("a"), []byte("jupyter message")))).To(Succeed())

			badSignature, _ := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			badSignature[messaging.JupyterFrameSignature] = []byte(strings.Repeat("0", 64))
			Expect(dealer.Send(zmq4.NewMsgFrom(badSignature...))).To(Succeed())

			unknown, _ := newRequest(info, messaging.JupyterMessageType("bogus_type"), "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(unknown...))).To(Succeed())

			request, header := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			msg := recvWithTimeout(dealer, time.Second*5)
			reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
			Expect(err).To(BeNil())
			Expect(reply.ParentHeader.MsgID).To(Equal(header.MsgID))

			// Only the valid request produced statuses.
			Eventually(status.Len).Should(Equal(2))
		})

		It("will not reply to requests that have no canned reply, but will still report busy and idle", func() {
			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			execute, executeHeader := newRequest(info, messaging.MessageTypeExecuteRequest, `{"code":"1+1"}`)
			Expect(dealer.Send(zmq4.NewMsgFrom(execute...))).To(Succeed())

			request, header := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			msg := recvWithTimeout(dealer, time.Second*5)
			reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
			Expect(err).To(BeNil())
			Expect(reply.ParentHeader.MsgID).To(Equal(header.MsgID))

			var first messaging.KernelStatus
			Eventually(status.Statuses()).Should(Receive(&first))
			Expect(first.ParentMessageId()).To(Equal(executeHeader.MsgID))
			Expect(first.State).To(Equal(messaging.MessageKernelStatusBusy))
		})

		It("will answer comm_info_request with no comms", func() {
			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			request, _ := newRequest(info, messaging.MessageTypeCommInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			msg := recvWithTimeout(dealer, time.Second*5)
			reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
			Expect(err).To(BeNil())
			Expect(reply.JupyterMessageType()).To(Equal(messaging.MessageTypeCommInfoReply))
			Expect(reply.Content).To(Equal(&messaging.CommInfoReply{Comms: map[string]messaging.CommInfo{}}))
		})
	})

	Context("Control", func() {
		It("will serve kernel_info_request just like Shell", func() {
			control, err := server.NewControlEndpoint(sc, opts, nil, nil)
			Expect(err).To(BeNil())
			Expect(control.Type()).To(Equal(messaging.ControlMessage))
			serve(control)

			dealer := newDealer(ctx, "client", control.Port())
			defer dealer.Close()

			request, header := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			msg := recvWithTimeout(dealer, time.Second*5)
			reply, err := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key)).Decode(msg.Frames)
			Expect(err).To(BeNil())
			Expect(reply.ParentHeader.MsgID).To(Equal(header.MsgID))
		})
	})

	Context("IOPub", func() {
		It("will publish every status under the status topic of the kernel", func() {
			status := server.NewStatusChannel(0)
			Expect(status.Cap()).To(Equal(server.DefaultStatusBufferSize))

			iopub, err := server.NewIOPubEndpoint(sc, opts, status)
			Expect(err).To(BeNil())
			Expect(iopub.Topic()).To(Equal(fmt.Sprintf("kernel.%s.status", opts.KernelId)))
			Expect(server.IOTopicStatusRecognizer.FindStringSubmatch(iopub.Topic())).To(Equal([]string{iopub.Topic(), opts.KernelId, server.IOTopicStatus}))
			serve(iopub)

			sub := zmq4.NewSub(ctx)
			defer sub.Close()
			Expect(sub.SetOption(zmq4.OptionSubscribe, "kernel.")).To(Succeed())
			Expect(sub.Dial(address(iopub.Port()))).To(Succeed())

			received := make(chan zmq4.Msg, 1024)
			go func() {
				for {
					msg, err := sub.Recv()
					if err != nil {
						return
					}
					received <- msg
				}
			}()

			decoder := messaging.NewDecoder(info.SignatureScheme, []byte(info.Key))
			warmup := messaging.NewMessageHeader(messaging.MessageTypeKernelInfoRequest, "warmup")

			// PUB drops messages until the subscription has propagated.
			Eventually(func() bool {
				Expect(status.Publish(ctx, messaging.NewKernelStatus(messaging.MessageKernelStatusIdle, warmup))).To(Succeed())
				select {
				case <-received:
					return true
				case <-time.After(time.Millisecond * 50):
					return false
				}
			}, time.Second*5).Should(BeTrue())

			const numRequests = 50
			headers := make([]*messaging.MessageHeader, 0, numRequests)
			for i := 0; i < numRequests; i++ {
				header := messaging.NewMessageHeader(messaging.MessageTypeKernelInfoRequest, "session")
				headers = append(headers, header)
				Expect(status.Publish(ctx, messaging.NewKernelStatus(messaging.MessageKernelStatusBusy, header))).To(Succeed())
				Expect(status.Publish(ctx, messaging.NewKernelStatus(messaging.MessageKernelStatusIdle, header))).To(Succeed())
			}

			observed := make([]*messaging.JupyterMessage, 0, 2*numRequests)
			for len(observed) < 2*numRequests {
				var msg zmq4.Msg
				Eventually(received, time.Second*5).Should(Receive(&msg))
				Expect(string(msg.Frames[0])).To(Equal(iopub.Topic()))

				decoded, err := decoder.Decode(msg.Frames)
				Expect(err).To(BeNil())
				Expect(decoded.JupyterMessageType()).To(Equal(messaging.MessageTypeStatus))

				if decoded.ParentHeader.MsgID == warmup.MsgID {
					continue
				}
				observed = append(observed, decoded)
			}

			for i, header := range headers {
				busy, idle := observed[2*i], observed[2*i+1]
				Expect(busy.ParentHeader.MsgID).To(Equal(header.MsgID))
				Expect(busy.Content).To(Equal(&messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusBusy}))
				Expect(idle.ParentHeader.MsgID).To(Equal(header.MsgID))
				Expect(idle.Content).To(Equal(&messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusIdle}))
			}
		})
	})

	Context("Stdin", func() {
		It("will bind and drop whatever it receives", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			provider := mock_server.NewMockMessagingMetricsProvider(mockCtrl)
			opts.MessagingMetricsProvider = provider

			dropped := make(chan string, 2)
			provider.EXPECT().DroppedMessage(opts.KernelId, metrics.JupyterKernel, messaging.StdinMessage, gomock.Any()).
				DoAndReturn(func(_ string, _ metrics.NodeType, _ messaging.MessageType, reason string) error {
					dropped <- reason
					return nil
				}).Times(1)

			stdin, err := server.NewStdinEndpoint(sc, opts)
			Expect(err).To(BeNil())
			serve(stdin)

			dealer := newDealer(ctx, "client", stdin.Port())
			defer dealer.Close()
			Expect(dealer.Send(zmq4.NewMsgFrom([]byte("garbage")))).To(Succeed())

			Eventually(dropped, time.Second*5).Should(Receive(Equal(server.DropReasonDecode)))
		})
	})

	Context("Metrics", func() {
		It("will record received, sent and dropped messages", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			provider := mock_server.NewMockMessagingMetricsProvider(mockCtrl)
			opts.MessagingMetricsProvider = provider

			latencyObserved := make(chan struct{}, 1)
			provider.EXPECT().DroppedMessage(opts.KernelId, metrics.JupyterKernel, messaging.ShellMessage, server.DropReasonDecode).Return(nil).Times(1)
			provider.EXPECT().ReceivedMessage(opts.KernelId, metrics.JupyterKernel, messaging.ShellMessage, "kernel_info_request").Return(nil).Times(1)
			provider.EXPECT().SentMessage(opts.KernelId, gomock.Any(), metrics.JupyterKernel, messaging.ShellMessage, "kernel_info_reply").Return(nil).Times(1)
			provider.EXPECT().AddMessageE2ELatencyObservation(gomock.Any(), opts.KernelId, metrics.JupyterKernel, messaging.ShellMessage, "kernel_info_request").
				DoAndReturn(func(time.Duration, string, metrics.NodeType, messaging.MessageType, string) error {
					latencyObserved <- struct{}{}
					return nil
				}).Times(1)

			shell, err := server.NewShellEndpoint(sc, opts, nil, nil)
			Expect(err).To(BeNil())
			serve(shell)

			dealer := newDealer(ctx, "client", shell.Port())
			defer dealer.Close()

			Expect(dealer.Send(zmq4.NewMsgFrom([]byte("garbage")))).To(Succeed())
			request, _ := newRequest(info, messaging.MessageTypeKernelInfoRequest, "{}")
			Expect(dealer.Send(zmq4.NewMsgFrom(request...))).To(Succeed())

			recvWithTimeout(dealer, time.Second*5)
			Eventually(latencyObserved, time.Second*5).Should(Receive())
		})
	})

	Context("Binding", func() {
		It("will fail to bind a port that is already in use", func() {
			first, err := server.NewHeartbeatEndpoint(sc, opts)
			Expect(err).To(BeNil())
			Expect(first.Listen()).To(Succeed())

			info.HBPort = first.Port()
			second, err := server.NewHeartbeatEndpoint(sc, opts)
			Expect(err).To(BeNil())

			err = second.Listen()
			Expect(errors.Is(err, server.ErrBind)).To(BeTrue())
		})

		It("will fail to bind with an unsupported transport", func() {
			info.Transport = "udp"
			shell, err := server.NewShellEndpoint(sc, opts, nil, nil)
			Expect(err).To(BeNil())

			err = shell.Listen()
			Expect(errors.Is(err, server.ErrBind)).To(BeTrue())
			Expect(errors.Is(err, jupyter.ErrUnsupportedTransport)).To(BeTrue())
		})

		It("will stop serving when closed", func() {
			heartbeat, err := server.NewHeartbeatEndpoint(sc, opts)
			Expect(err).To(BeNil())

			done := startEndpoint(ctx, heartbeat)
			_ = heartbeat.Close()
			Eventually(done, time.Second*5).Should(Receive(BeNil()))
		})
	})
})

var _ = Describe("SocketContext", func() {
	It("will create sockets from many goroutines at once", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sc := server.NewSocketContext(ctx)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(idx int) {
				defer GinkgoRecover()
				defer wg.Done()

				typ := messaging.SocketTypes[idx%len(messaging.SocketTypes)]
				socket, err := sc.NewSocket(typ, 0, fmt.Sprintf("socket-%d", idx))
				Expect(err).To(BeNil())
				Expect(socket.Type).To(Equal(typ))
			}(i)
		}
		wg.Wait()

		Expect(sc.NumSockets()).To(Equal(32))
		Expect(sc.Close()).To(Succeed())

		_, err := sc.NewSocket(messaging.ShellMessage, 0, "late")
		Expect(errors.Is(err, server.ErrSocketContextClosed)).To(BeTrue())
	})
})

var _ = Describe("StatusChannel", func() {
	It("will not block producers forever when it is full", func() {
		status := server.NewStatusChannel(1)
		header := messaging.NewMessageHeader(messaging.MessageTypeKernelInfoRequest, "s")

		Expect(status.Publish(context.Background(), messaging.NewKernelStatus(messaging.MessageKernelStatusBusy, header))).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()

		err := status.Publish(ctx, messaging.NewKernelStatus(messaging.MessageKernelStatusIdle, header))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(status.Len()).To(Equal(1))
	})

	It("will deliver statuses from several producers without losing any", func() {
		const numProducers, numPerProducer = 8, 100

		status := server.NewStatusChannel(4)

		var wg sync.WaitGroup
		for p := 0; p < numProducers; p++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				header := messaging.NewMessageHeader(messaging.MessageTypeKernelInfoRequest, "s")
				for i := 0; i < numPerProducer; i++ {
					Expect(status.Publish(context.Background(), messaging.NewKernelStatus(messaging.MessageKernelStatusBusy, header))).To(Succeed())
				}
			}()
		}

		counts := map[string]int{}
		for i := 0; i < numProducers*numPerProducer; i++ {
			var s messaging.KernelStatus
			Eventually(status.Statuses(), time.Second*5).Should(Receive(&s))
			counts[s.ParentMessageId()]++
		}
		wg.Wait()

		Expect(counts).To(HaveLen(numProducers))
		for _, count := range counts {
			Expect(count).To(Equal(numPerProducer))
		}
	})
})
