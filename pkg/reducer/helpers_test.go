package reducer_test

import (
	"context"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/papercomputeco/chatrelay/pkg/reducer"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
)

// recorder is a Notifier that keeps every mutation it receives.
type recorder struct {
	mutations []reducer.Mutation
}

func (r *recorder) Notify(m reducer.Mutation) {
	r.mutations = append(r.mutations, m)
}

func (r *recorder) kinds() []reducer.MutationKind {
	kinds := make([]reducer.MutationKind, len(r.mutations))
	for i, m := range r.mutations {
		kinds[i] = m.Kind
	}
	return kinds
}

func (r *recorder) count(kind reducer.MutationKind) int {
	n := 0
	for _, m := range r.mutations {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// splitAt cuts input at the given sorted offsets.
func splitAt(input []byte, cuts []int) [][]byte {
	chunks := make([][]byte, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		chunks = append(chunks, input[prev:c])
		prev = c
	}
	return append(chunks, input[prev:])
}

// randomSplit cuts input into n non-empty chunks.
func randomSplit(rng *rand.Rand, input []byte, n int) [][]byte {
	picked := map[int]bool{}
	for len(picked) < n-1 {
		picked[1+rng.IntN(len(input)-1)] = true
	}

	cuts := make([]int, 0, n-1)
	for c := range picked {
		cuts = append(cuts, c)
	}
	sort.Ints(cuts)

	return splitAt(input, cuts)
}

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err == nil {
			return 0, io.EOF
		}
		return 0, c.err
	}

	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

// blockingReader blocks until ctx is done, like an HTTP body bound to a
// request context.
type blockingReader struct {
	ctx context.Context
}

func (b blockingReader) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

// untimed clears timestamps so runs started in different seconds compare equal.
func untimed(turns []transcript.Turn) []transcript.Turn {
	out := make([]transcript.Turn, len(turns))
	for i, t := range turns {
		t.Timestamp = ""
		out[i] = t
	}
	return out
}

func untimedMutations(ms []reducer.Mutation) []reducer.Mutation {
	out := make([]reducer.Mutation, len(ms))
	for i, m := range ms {
		m.Turn.Timestamp = ""
		out[i] = m
	}
	return out
}
