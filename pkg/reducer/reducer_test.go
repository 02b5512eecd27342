package reducer_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/reducer"
	"github.com/papercomputeco/chatrelay/pkg/sse"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
)

const helloStream = "data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n" +
	"data: {\"type\":\"token\",\"content\":\"lo\"}\n\n" +
	"data: {\"type\":\"done\"}\n\n"

func frame(ev chat.Event) string {
	payload, err := chat.EncodeEvent(ev)
	Expect(err).NotTo(HaveOccurred())

	var buf bytes.Buffer
	Expect(sse.WriteData(&buf, payload)).To(Succeed())
	return buf.String()
}

var _ = Describe("Reducer", func() {
	var (
		t   *transcript.Transcript
		rec *recorder
		r   *reducer.Reducer
	)

	BeforeEach(func() {
		t = transcript.New()
		_, err := t.AppendUser("Say hello")
		Expect(err).NotTo(HaveOccurred())
		rec = &recorder{}
		r = reducer.New(t, rec)
	})

	Describe("the end-to-end hello stream", func() {
		It("yields Hello and Completed when fed in one chunk", func() {
			r.Feed([]byte(helloStream))

			Expect(r.State()).To(Equal(reducer.StateCompleted))
			last, _ := t.Last()
			Expect(last.Role).To(Equal(chat.RoleAssistant))
			Expect(last.Content).To(Equal("Hello"))
			Expect(last.Open).To(BeFalse())
		})

		It("yields Hello for every split into two or three chunks", func() {
			input := []byte(helloStream)
			for i := 1; i < len(input); i++ {
				for j := i; j < len(input); j++ {
					cuts := []int{i}
					if j > i {
						cuts = append(cuts, j)
					}

					tr := transcript.New()
					rd := reducer.New(tr, nil)
					for _, chunk := range splitAt(input, cuts) {
						rd.Feed(chunk)
					}

					Expect(rd.State()).To(Equal(reducer.StateCompleted), "cuts %v", cuts)
					last, _ := tr.Last()
					Expect(last.Content).To(Equal("Hello"), "cuts %v", cuts)
				}
			}
		})

		It("yields Hello for random splits into four and five chunks", func() {
			rng := rand.New(rand.NewPCG(7, 11))
			input := []byte(helloStream)

			for _, n := range []int{4, 5} {
				for range 500 {
					chunks := randomSplit(rng, input, n)

					tr := transcript.New()
					rd := reducer.New(tr, nil)
					for _, chunk := range chunks {
						rd.Feed(chunk)
					}

					Expect(rd.State()).To(Equal(reducer.StateCompleted))
					last, _ := tr.Last()
					Expect(last.Content).To(Equal("Hello"))
				}
			}
		})
	})

	Describe("chunking invariance", func() {
		It("produces the same transcript and notifications for any chunking", func() {
			input := []byte(frame(chat.ConversationAssigned{ConversationID: "c-42"}) +
				": keep-alive\n\n" +
				frame(chat.TokenAppended{Text: "Grüße, "}) +
				"data: not-json\n\n" +
				frame(chat.TokenAppended{Text: "wörld 🌍"}) +
				"event: ignored\r\n\r\n" +
				frame(chat.TokenAppended{Text: "!"}) +
				frame(chat.StreamCompleted{}))

			baseline := &recorder{}
			bt := transcript.New()
			reducer.New(bt, baseline).Feed(input)

			rng := rand.New(rand.NewPCG(1, 2))
			for n := 1; n <= 12; n++ {
				for range 50 {
					var chunks [][]byte
					if n == 1 {
						chunks = [][]byte{input}
					} else {
						chunks = randomSplit(rng, input, n)
					}

					got := &recorder{}
					tr := transcript.New()
					rd := reducer.New(tr, got)
					for _, chunk := range chunks {
						rd.Feed(chunk)
					}

					Expect(untimed(tr.Turns())).To(Equal(untimed(bt.Turns())))
					Expect(untimedMutations(got.mutations)).To(Equal(untimedMutations(baseline.mutations)))
					Expect(rd.ConversationID()).To(Equal("c-42"))
				}
			}

			last, _ := bt.Last()
			Expect(last.Content).To(Equal("Grüße, wörld 🌍!"))
		})
	})

	Describe("state machine", func() {
		It("starts idle and enters receiving on the first byte", func() {
			Expect(r.State()).To(Equal(reducer.StateIdle))

			r.Feed([]byte("d"))
			Expect(r.State()).To(Equal(reducer.StateReceiving))
			Expect(rec.mutations).To(BeEmpty())
		})

		It("stays idle on empty chunks", func() {
			r.Feed(nil)
			Expect(r.State()).To(Equal(reducer.StateIdle))
		})

		It("discards events after completion", func() {
			r.Feed([]byte(helloStream))
			applied := r.Feed([]byte(frame(chat.TokenAppended{Text: " again"})))
			Expect(applied).To(BeEmpty())

			Expect(r.Apply(chat.StreamFailed{Message: "late"})).To(BeEmpty())
			Expect(r.Fail(errors.New("late"))).To(BeEmpty())

			Expect(r.State()).To(Equal(reducer.StateCompleted))
			last, _ := t.Last()
			Expect(last.Content).To(Equal("Hello"))
		})

		It("discards events that follow done within the same chunk", func() {
			r.Feed([]byte(frame(chat.StreamCompleted{}) + frame(chat.TokenAppended{Text: "late"})))

			last, _ := t.Last()
			Expect(last.Content).To(BeEmpty())
			Expect(rec.kinds()).To(Equal([]reducer.MutationKind{
				reducer.MutationTurnClosed,
				reducer.MutationPreviewRefreshed,
			}))
		})
	})

	Describe("token events", func() {
		It("notifies exactly once per token", func() {
			r.Feed([]byte(frame(chat.TokenAppended{Text: "a"}) +
				frame(chat.TokenAppended{Text: "b"}) +
				frame(chat.TokenAppended{Text: "c"})))

			Expect(rec.kinds()).To(Equal([]reducer.MutationKind{
				reducer.MutationTurnOpened,
				reducer.MutationTurnUpdated,
				reducer.MutationTurnUpdated,
			}))
			Expect(rec.mutations[2].Turn.Content).To(Equal("abc"))
			Expect(rec.mutations[2].Turn.Open).To(BeTrue())
		})

		It("keeps the open turn last", func() {
			r.Feed([]byte(frame(chat.TokenAppended{Text: "x"})))

			open, ok := t.Open()
			Expect(ok).To(BeTrue())
			last, _ := t.Last()
			Expect(open.ID).To(Equal(last.ID))
			Expect(t.Len()).To(Equal(2))
		})
	})

	Describe("a stream without tokens", func() {
		It("closes an empty assistant turn on done", func() {
			r.Feed([]byte(frame(chat.StreamCompleted{})))

			Expect(r.State()).To(Equal(reducer.StateCompleted))
			last, _ := t.Last()
			Expect(last.Role).To(Equal(chat.RoleAssistant))
			Expect(last.Content).To(BeEmpty())
			Expect(last.Open).To(BeFalse())
		})
	})

	Describe("conversation ids", func() {
		It("notifies conversation created once, only after done", func() {
			r.Feed([]byte(frame(chat.ConversationAssigned{ConversationID: "new-id"}) +
				frame(chat.TokenAppended{Text: "hi"})))

			Expect(rec.count(reducer.MutationConversationCreated)).To(BeZero())
			Expect(r.ConversationID()).To(BeEmpty())

			r.Feed([]byte(frame(chat.ConversationAssigned{ConversationID: "other-id"}) +
				frame(chat.StreamCompleted{})))

			Expect(rec.count(reducer.MutationConversationCreated)).To(Equal(1))
			Expect(rec.count(reducer.MutationPreviewRefreshed)).To(BeZero())

			last := rec.mutations[len(rec.mutations)-1]
			Expect(last.Kind).To(Equal(reducer.MutationConversationCreated))
			Expect(last.ConversationID).To(Equal("new-id"))
			Expect(r.ConversationID()).To(Equal("new-id"))
		})

		It("refreshes the preview when no id was assigned", func() {
			r = reducer.New(t, rec, reducer.WithConversationID("existing"))
			r.Feed([]byte(helloStream))

			Expect(rec.count(reducer.MutationConversationCreated)).To(BeZero())
			Expect(rec.count(reducer.MutationPreviewRefreshed)).To(Equal(1))
			Expect(rec.mutations[len(rec.mutations)-1].ConversationID).To(Equal("existing"))
		})

		It("notifies conversation created for any recorded id, even the requested one", func() {
			r = reducer.New(t, rec, reducer.WithConversationID("same"))
			r.Feed([]byte(frame(chat.ConversationAssigned{ConversationID: "same"}) + helloStream))

			Expect(rec.count(reducer.MutationConversationCreated)).To(Equal(1))
			Expect(rec.count(reducer.MutationPreviewRefreshed)).To(BeZero())
			Expect(rec.mutations[len(rec.mutations)-1].ConversationID).To(Equal("same"))
		})

		It("never notifies conversation created for a failed stream", func() {
			r.Feed([]byte(frame(chat.ConversationAssigned{ConversationID: "new-id"}) +
				frame(chat.StreamFailed{Message: "quota"})))

			Expect(rec.count(reducer.MutationConversationCreated)).To(BeZero())
			Expect(r.ConversationID()).To(BeEmpty())
		})
	})

	Describe("malformed frames", func() {
		It("skips a bad line without disturbing its neighbours", func() {
			var logs bytes.Buffer
			r = reducer.New(t, rec, reducer.WithLogger(logger.New(logger.WithWriter(&logs))))

			r.Feed([]byte(frame(chat.TokenAppended{Text: "Hel"}) +
				"data: not-json\n\n" +
				frame(chat.TokenAppended{Text: "lo"}) +
				"data: {\"type\":\"mystery\"}\n\n" +
				frame(chat.StreamCompleted{})))

			Expect(r.State()).To(Equal(reducer.StateCompleted))
			last, _ := t.Last()
			Expect(last.Content).To(Equal("Hello"))
			Expect(rec.count(reducer.MutationTurnUpdated)).To(Equal(1))
			Expect(logs.String()).To(ContainSubstring("skipping malformed stream event"))
			Expect(logs.String()).To(ContainSubstring("not-json"))
		})
	})

	Describe("upstream error events", func() {
		It("replaces the answer with the notice and keeps the raw message out of it", func() {
			var logs bytes.Buffer
			r = reducer.New(t, rec, reducer.WithLogger(logger.New(logger.WithWriter(&logs))))

			r.Feed([]byte(frame(chat.TokenAppended{Text: "partial"}) +
				frame(chat.StreamFailed{Message: "internal: db password rejected"})))

			Expect(r.State()).To(Equal(reducer.StateFailed))
			last, _ := t.Last()
			Expect(last.Content).To(Equal(reducer.DefaultFailureNotice))
			Expect(last.Open).To(BeFalse())
			Expect(last.Content).NotTo(ContainSubstring("password"))

			Expect(logs.String()).To(ContainSubstring("db password rejected"))
			Expect(r.Err()).To(MatchError(ContainSubstring("db password rejected")))
			Expect(rec.mutations[len(rec.mutations)-1].Kind).To(Equal(reducer.MutationTurnFailed))
		})

		It("opens a turn for the notice when no token arrived", func() {
			r = reducer.New(t, rec, reducer.WithFailureNotice("try later"))
			r.Feed([]byte(frame(chat.StreamFailed{Message: "x"})))

			last, _ := t.Last()
			Expect(last.Role).To(Equal(chat.RoleAssistant))
			Expect(last.Content).To(Equal("try later"))
			Expect(rec.kinds()).To(Equal([]reducer.MutationKind{reducer.MutationTurnFailed}))
		})
	})

	Describe("transport failures", func() {
		It("replaces the partial answer and records the cause", func() {
			var logs bytes.Buffer
			r = reducer.New(t, rec, reducer.WithLogger(logger.New(logger.WithWriter(&logs))))

			fragments := []string{"The ", "answer ", "is "}
			for _, f := range fragments {
				r.Feed([]byte(frame(chat.TokenAppended{Text: f})))
			}

			open, ok := t.Open()
			Expect(ok).To(BeTrue())
			Expect(open.Content).To(Equal(strings.Join(fragments, "")))

			cause := errors.New("connection reset by peer")
			r.Fail(cause)

			Expect(r.State()).To(Equal(reducer.StateFailed))
			last, _ := t.Last()
			Expect(last.Content).To(Equal(reducer.DefaultFailureNotice))
			Expect(last.Open).To(BeFalse())

			var streamErr *chat.UpstreamStreamError
			Expect(errors.As(r.Err(), &streamErr)).To(BeTrue())
			Expect(errors.Is(r.Err(), cause)).To(BeTrue())

			Expect(logs.String()).To(ContainSubstring("connection reset by peer"))
			Expect(logs.String()).To(ContainSubstring("The answer is"))
		})

		It("is idempotent", func() {
			r.Feed([]byte(frame(chat.TokenAppended{Text: "x"})))
			r.Fail(errors.New("first"))
			r.Fail(errors.New("second"))

			Expect(rec.count(reducer.MutationTurnFailed)).To(Equal(1))
			Expect(r.Err()).To(MatchError(ContainSubstring("first")))
		})
	})

	Describe("Cancel", func() {
		It("abandons the stream without notifications", func() {
			r.Feed([]byte(frame(chat.TokenAppended{Text: "half"})))
			before := len(rec.mutations)

			r.Cancel()
			r.Cancel()

			Expect(r.State()).To(Equal(reducer.StateCancelled))
			Expect(rec.mutations).To(HaveLen(before))

			last, _ := t.Last()
			Expect(last.Content).To(Equal("half"))
			Expect(last.Open).To(BeFalse())

			Expect(r.Feed([]byte(frame(chat.StreamCompleted{})))).To(BeEmpty())
			Expect(r.Fail(errors.New("late"))).To(BeEmpty())
			Expect(rec.mutations).To(HaveLen(before))
		})

		It("has no effect after completion", func() {
			r.Feed([]byte(helloStream))
			r.Cancel()
			Expect(r.State()).To(Equal(reducer.StateCompleted))
		})
	})

	Describe("Run", func() {
		It("drives a chunked body to completion", func() {
			body := &chunkReader{chunks: splitAt([]byte(helloStream), []int{3, 40, 41, 70})}

			state := r.Run(context.Background(), body)
			Expect(state).To(Equal(reducer.StateCompleted))

			last, _ := t.Last()
			Expect(last.Content).To(Equal("Hello"))
		})

		It("fails when the body ends before done", func() {
			body := &chunkReader{chunks: [][]byte{[]byte(frame(chat.TokenAppended{Text: "Hel"}) + "data: {\"ty")}}

			state := r.Run(context.Background(), body)
			Expect(state).To(Equal(reducer.StateFailed))
			Expect(errors.Is(r.Err(), chat.ErrStreamInterrupted)).To(BeTrue())

			last, _ := t.Last()
			Expect(last.Content).To(Equal(reducer.DefaultFailureNotice))
		})

		It("fails with the read error", func() {
			cause := errors.New("unexpected EOF from upstream")
			body := &chunkReader{
				chunks: [][]byte{[]byte(frame(chat.TokenAppended{Text: "Hel"}))},
				err:    cause,
			}

			Expect(r.Run(context.Background(), body)).To(Equal(reducer.StateFailed))
			Expect(errors.Is(r.Err(), cause)).To(BeTrue())
		})

		It("cancels when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan reducer.State)
			go func() {
				defer GinkgoRecover()
				done <- r.Run(ctx, blockingReader{ctx: ctx})
			}()

			cancel()
			Eventually(done).Should(Receive(Equal(reducer.StateCancelled)))
			Expect(rec.mutations).To(BeEmpty())
			Expect(t.Len()).To(Equal(1))
		})

		It("stops reading once the stream is complete", func() {
			body := &chunkReader{chunks: [][]byte{[]byte(helloStream), []byte(frame(chat.TokenAppended{Text: "!"}))}}

			Expect(r.Run(context.Background(), body)).To(Equal(reducer.StateCompleted))
			Expect(body.chunks).To(HaveLen(1))
		})
	})
})
