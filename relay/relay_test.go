package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/reducer"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
	"github.com/papercomputeco/chatrelay/relay/header"
)

var helloFrames = []string{
	"data: {\"type\":\"conversation_id\",\"conversation_id\":\"c-1\"}\n\n",
	"data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n",
	"data: {\"type\":\"token\",\"content\":\"lo\"}\n\n",
	"data: {\"type\":\"done\"}\n\n",
}

// startGateway serves a Gateway for upstreamURL on a loopback listener and
// returns its base URL.
func startGateway(upstreamURL string) (*Gateway, string) {
	g, err := New(Config{UpstreamURL: upstreamURL}, logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	go func() {
		_ = g.RunWithListener(ln)
	}()
	DeferCleanup(func() {
		_ = g.Close()
	})

	return g, "http://" + ln.Addr().String()
}

func chatBody(req chat.Request) io.Reader {
	body, err := json.Marshal(req)
	Expect(err).NotTo(HaveOccurred())
	return bytes.NewReader(body)
}

func postChat(ctx context.Context, baseURL string, req chat.Request) *http.Response {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/stream", chatBody(req))
	Expect(err).NotTo(HaveOccurred())
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Gateway", func() {
	var upstream *httptest.Server

	AfterEach(func() {
		if upstream != nil {
			upstream.Close()
		}
	})

	Describe("New", func() {
		It("requires an upstream URL", func() {
			_, err := New(Config{}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("upstream URL is required")))
		})

		It("rejects an invalid upstream URL", func() {
			_, err := New(Config{UpstreamURL: "localhost:8000"}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GET /ping", func() {
		It("answers ok", func() {
			g, err := New(Config{UpstreamURL: "http://127.0.0.1:1"}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer g.Close()

			resp, err := g.server.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("request validation", func() {
		var (
			g     *Gateway
			calls int
		)

		BeforeEach(func() {
			calls = 0
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.WriteHeader(http.StatusOK)
			}))

			var err error
			g, err = New(Config{UpstreamURL: upstream.URL}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = g.Close() })
		})

		DescribeTable("rejects bad requests with 400 before calling upstream",
			func(body string, wantErr string) {
				req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/json")

				resp, err := g.server.Test(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var er chat.ErrorResponse
				Expect(json.NewDecoder(resp.Body).Decode(&er)).To(Succeed())
				Expect(er.Error).To(Equal(wantErr))
				Expect(calls).To(BeZero())
			},
			Entry("not JSON", `{"message":`, "invalid request body"),
			Entry("empty message", `{"message":"  ","user_id":"u1"}`, chat.ErrEmptyMessage.Error()),
			Entry("missing user id", `{"message":"hi"}`, chat.ErrMissingUserID.Error()),
		)
	})

	Describe("POST /chat/stream", func() {
		Context("when the upstream streams a complete answer", func() {
			var received chan *http.Request

			BeforeEach(func() {
				received = make(chan *http.Request, 1)
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					body, _ := io.ReadAll(r.Body)
					r.Body = io.NopCloser(bytes.NewReader(body))
					received <- r

					w.Header().Set("Content-Type", "text/event-stream")
					w.Header().Set("X-Upstream", "yes")
					flusher := w.(http.Flusher)
					for _, frame := range helloFrames {
						fmt.Fprint(w, frame)
						flusher.Flush()
					}
				}))
			})

			It("passes the upstream bytes through unchanged", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "Say hello"))
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
				Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
				Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))
				Expect(resp.Header.Get("X-Upstream")).To(Equal("yes"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(strings.Join(helloFrames, "")))
			})

			It("forwards the request with a correlation id", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "c-9", "Say hello"))
				defer resp.Body.Close()
				_, _ = io.Copy(io.Discard, resp.Body)

				var r *http.Request
				Eventually(received).Should(Receive(&r))

				requestID := resp.Header.Get(header.RequestIDHeader)
				Expect(requestID).NotTo(BeEmpty())
				Expect(r.Header.Get(header.RequestIDHeader)).To(Equal(requestID))
				Expect(r.Header.Get("Accept")).To(Equal("text/event-stream"))

				var forwarded chat.Request
				Expect(json.NewDecoder(r.Body).Decode(&forwarded)).To(Succeed())
				Expect(forwarded.Message).To(Equal("Say hello"))
				Expect(forwarded.UserID).To(Equal("u1"))
				Expect(forwarded.Conversation()).To(Equal("c-9"))
			})

			It("produces a stream the reducer folds into the answer", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "Say hello"))
				defer resp.Body.Close()

				t := transcript.New()
				r := reducer.New(t, nil)
				Expect(r.Run(context.Background(), resp.Body)).To(Equal(reducer.StateCompleted))

				last, _ := t.Last()
				Expect(last.Content).To(Equal("Hello"))
				Expect(r.ConversationID()).To(Equal("c-1"))
			})
		})

		Context("when the upstream streams slowly", func() {
			var release chan struct{}

			BeforeEach(func() {
				release = make(chan struct{})
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "text/event-stream")
					flusher := w.(http.Flusher)

					fmt.Fprint(w, helloFrames[1])
					flusher.Flush()

					select {
					case <-release:
					case <-r.Context().Done():
						return
					}

					fmt.Fprint(w, helloFrames[3])
					flusher.Flush()
				}))
			})

			It("forwards each chunk before the upstream finished", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "hi"))
				defer resp.Body.Close()

				br := bufio.NewReader(resp.Body)
				line, err := br.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(line).To(Equal(strings.TrimSuffix(helloFrames[1], "\n")))

				close(release)

				rest, err := io.ReadAll(br)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(rest)).To(Equal("\n" + helloFrames[3]))
			})
		})

		Context("when the upstream refuses the request", func() {
			BeforeEach(func() {
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					http.Error(w, "overloaded", http.StatusServiceUnavailable)
				}))
			})

			It("fails fast with 502 and no event stream", func() {
				g, err := New(Config{UpstreamURL: upstream.URL}, logger.Nop())
				Expect(err).NotTo(HaveOccurred())
				defer g.Close()

				req := httptest.NewRequest(http.MethodPost, "/chat/stream", chatBody(chat.NewRequest("u1", "", "hi")))
				resp, err := g.server.Test(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))

				var er struct {
					Error   string         `json:"error"`
					Details map[string]int `json:"details"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&er)).To(Succeed())
				Expect(er.Error).To(Equal("upstream unavailable"))
				Expect(er.Details).To(HaveKeyWithValue("upstream_status", http.StatusServiceUnavailable))
			})
		})

		Context("when the upstream is unreachable", func() {
			It("fails fast with 502", func() {
				dead := httptest.NewServer(http.NotFoundHandler())
				dead.Close()

				g, err := New(Config{UpstreamURL: dead.URL}, logger.Nop())
				Expect(err).NotTo(HaveOccurred())
				defer g.Close()

				req := httptest.NewRequest(http.MethodPost, "/chat/stream", chatBody(chat.NewRequest("u1", "", "hi")))
				resp, err := g.server.Test(req, -1)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		Context("when the upstream connection drops mid-stream", func() {
			BeforeEach(func() {
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "text/event-stream")
					fmt.Fprint(w, helloFrames[1])
					w.(http.Flusher).Flush()

					conn, _, err := w.(http.Hijacker).Hijack()
					if err == nil {
						conn.Close()
					}
				}))
			})

			It("aborts the downstream so the client sees a transport error", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "hi"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body, err := io.ReadAll(resp.Body)
				Expect(err).To(HaveOccurred())
				Expect(string(body)).To(Equal(helloFrames[1]))
			})

			It("fails the reducer with the partial answer replaced", func() {
				_, baseURL := startGateway(upstream.URL)

				resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "hi"))
				defer resp.Body.Close()

				t := transcript.New()
				r := reducer.New(t, nil)
				Expect(r.Run(context.Background(), resp.Body)).To(Equal(reducer.StateFailed))

				last, _ := t.Last()
				Expect(last.Content).To(Equal(reducer.DefaultFailureNotice))
			})
		})

		Context("when the client disconnects", func() {
			var cancelled chan struct{}

			BeforeEach(func() {
				cancelled = make(chan struct{})
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "text/event-stream")
					flusher := w.(http.Flusher)

					fmt.Fprint(w, helloFrames[1])
					flusher.Flush()

					ticker := time.NewTicker(20 * time.Millisecond)
					defer ticker.Stop()

					for {
						select {
						case <-r.Context().Done():
							close(cancelled)
							return
						case <-ticker.C:
							fmt.Fprint(w, ": keep-alive\n\n")
							flusher.Flush()
						}
					}
				}))
			})

			It("cancels the upstream request", func() {
				_, baseURL := startGateway(upstream.URL)

				ctx, cancel := context.WithCancel(context.Background())
				resp := postChat(ctx, baseURL, chat.NewRequest("u1", "", "hi"))

				line, err := bufio.NewReader(resp.Body).ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(line).To(HavePrefix("data: "))

				cancel()
				resp.Body.Close()

				Eventually(cancelled, 5*time.Second).Should(BeClosed())
			})
		})

		Context("when the client disconnects while the upstream is silent", func() {
			var cancelled chan struct{}

			BeforeEach(func() {
				cancelled = make(chan struct{})
				upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "text/event-stream")
					fmt.Fprint(w, helloFrames[1])
					w.(http.Flusher).Flush()

					<-r.Context().Done()
					close(cancelled)
				}))
			})

			It("cancels the upstream request without waiting for another chunk", func() {
				_, baseURL := startGateway(upstream.URL)
				before := relayVars(baseURL)

				ctx, cancel := context.WithCancel(context.Background())
				resp := postChat(ctx, baseURL, chat.NewRequest("u1", "", "hi"))

				line, err := bufio.NewReader(resp.Body).ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(line).To(HavePrefix("data: "))

				cancel()
				resp.Body.Close()

				Eventually(cancelled, 5*time.Second).Should(BeClosed())
				Eventually(func() int64 {
					return relayVars(baseURL)[statClientDisconnects]
				}).Should(Equal(before[statClientDisconnects] + 1))
			})
		})

		It("closes the client connection after the stream", func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, strings.Join(helloFrames, ""))
			}))
			_, baseURL := startGateway(upstream.URL)

			resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "hi"))
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(strings.Join(helloFrames, "")))
			Expect(resp.Close).To(BeTrue())
		})
	})

	Describe("Close", func() {
		It("aborts open streams", func() {
			stop := make(chan struct{})
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, helloFrames[1])
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-stop:
				}
			}))
			DeferCleanup(func() { close(stop) })

			g, baseURL := startGateway(upstream.URL)

			resp := postChat(context.Background(), baseURL, chat.NewRequest("u1", "", "hi"))
			defer resp.Body.Close()

			br := bufio.NewReader(resp.Body)
			_, err := br.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())

			closed := make(chan error, 1)
			go func() { closed <- g.Close() }()

			_, err = io.ReadAll(br)
			Expect(err).To(HaveOccurred())
			Eventually(closed, 5*time.Second).Should(Receive())
		})
	})
})

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

var _ = Describe("forward", func() {
	It("copies until the end of the source", func() {
		var dst bytes.Buffer
		n, err := forward(&dst, strings.NewReader("data: x\n\n"))

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(9))
		Expect(dst.String()).To(Equal("data: x\n\n"))
	})

	It("reports a rejected write as a downstream error", func() {
		gone := errors.New("broken pipe")
		_, err := forward(failingWriter{err: gone}, strings.NewReader("data: x\n\n"))

		var downstream *downstreamError
		Expect(errors.As(err, &downstream)).To(BeTrue())
		Expect(errors.Is(err, gone)).To(BeTrue())
	})

	It("returns the read error unchanged", func() {
		reset := errors.New("connection reset")
		var dst bytes.Buffer
		n, err := forward(&dst, &failingReader{data: []byte("data: "), err: reset})

		Expect(err).To(MatchError(reset))
		Expect(n).To(BeEquivalentTo(6))

		var downstream *downstreamError
		Expect(errors.As(err, &downstream)).To(BeFalse())
	})
})
