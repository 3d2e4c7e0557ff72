package dialogue

import (
	"errors"
	"iter"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchTranscript = "Thought: who are the users?\n" +
	"Question: Who logs in?\n" +
	"Answer: Registered customers.\n" +
	"Thought: which credentials?\n" +
	"Question: Email or username?\n" +
	"Answer: Email.\n" +
	"Thought: what about failures?\n" +
	"Question: What happens after three wrong passwords?\n" +
	"Answer: The account is locked.\n" +
	"Thought: I know enough to explain the user story\n" +
	"Scenarios:\n" +
	"Given a user\n" +
	"When they submit valid credentials\n" +
	"Then they are logged in\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fragments(parts ...string) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		for _, p := range parts {
			if !yield(Fragment{Text: p}, nil) {
				return
			}
		}
	}
}

func chunked(s string, size int) []string {
	var parts []string
	for len(s) > size {
		parts = append(parts, s[:size])
		s = s[size:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func collect(t *testing.T, seq iter.Seq2[string, error]) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

func TestBatchForwardsWholeTranscript(t *testing.T) {
	p := NewParser(Batch, quietLogger())
	got, err := collect(t, p.Transform(fragments(chunked(batchTranscript, 7)...)))
	require.NoError(t, err)

	assert.Equal(t, batchTranscript, got)
	assert.Equal(t, 1, strings.Count(got, LabelScenarios))
	assert.Greater(t, strings.Index(got, LabelScenarios), strings.LastIndex(got, LabelAnswer))
	assert.Equal(t, Done, p.State())
	assert.False(t, p.Stopped())
	assert.Empty(t, p.Violations())
}

func TestChunkBoundaryIndependence(t *testing.T) {
	for _, mode := range []Mode{Batch, Interactive} {
		t.Run(mode.String(), func(t *testing.T) {
			small, err := collect(t, NewParser(mode, quietLogger()).Transform(fragments(chunked(batchTranscript, 1)...)))
			require.NoError(t, err)
			large, err := collect(t, NewParser(mode, quietLogger()).Transform(fragments(chunked(batchTranscript, 1000)...)))
			require.NoError(t, err)
			assert.Equal(t, large, small)
		})
	}
}

func TestInteractiveStopsAtAnswerBoundary(t *testing.T) {
	p := NewParser(Interactive, quietLogger())
	got, err := collect(t, p.Transform(fragments(
		"Thought: unclear auth method\n",
		"Question: which auth?\n",
		"Answer",
	)))
	require.NoError(t, err)

	assert.Equal(t, "Thought: unclear auth method\nQuestion: which auth?\n", got)
	assert.True(t, p.Stopped())
	assert.Equal(t, Done, p.State())
}

func TestInteractiveNeverForwardsAnswerContent(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 8, 13, 1000} {
		p := NewParser(Interactive, quietLogger())
		got, err := collect(t, p.Transform(fragments(chunked(batchTranscript, size)...)))
		require.NoError(t, err)
		assert.Equal(t, "Thought: who are the users?\nQuestion: Who logs in?\n", got, "chunk size %d", size)
		assert.NotContains(t, got, "Answer")
	}
}

func TestInteractiveAbandonsSourceAfterStop(t *testing.T) {
	pulled := 0
	src := func(yield func(Fragment, error) bool) {
		for _, s := range []string{"Thought: a\n", "Question: b\n", "Answer: c\n", "Thought: d\n"} {
			pulled++
			if !yield(Fragment{Text: s}, nil) {
				return
			}
		}
	}
	_, err := collect(t, NewParser(Interactive, quietLogger()).Transform(src))
	require.NoError(t, err)
	assert.Equal(t, 3, pulled)
}

func TestSplitLabelIsDetected(t *testing.T) {
	p := NewParser(Interactive, quietLogger())
	out1, stop := p.Feed("Question: which auth?\nAns")
	assert.False(t, stop)
	assert.Equal(t, "Question: which auth?\n", out1)

	out2, stop := p.Feed("wer: OAuth")
	assert.True(t, stop)
	assert.Empty(t, out2)
}

func TestHeldPrefixIsReleasedWhenNotALabel(t *testing.T) {
	p := NewParser(Interactive, quietLogger())
	out, _ := p.Feed("Thought: x\nQue")
	assert.Equal(t, "Thought: x\n", out)

	out, _ = p.Feed("ue is long\n")
	assert.Equal(t, "Queue is long\n", out)
}

func TestFlushReleasesTrailingPrefix(t *testing.T) {
	p := NewParser(Batch, quietLogger())
	out, _ := p.Feed("Thought: x\nScen")
	assert.Equal(t, "Thought: x\n", out)
	assert.Equal(t, "Scen", p.Flush())
	assert.Equal(t, Done, p.State())
}

func TestEmptyFragmentsAreIgnored(t *testing.T) {
	p := NewParser(Batch, quietLogger())
	got, err := collect(t, p.Transform(fragments("", "Thought:", "", " a\n", "")))
	require.NoError(t, err)
	assert.Equal(t, "Thought: a\n", got)
	assert.Equal(t, []Segment{{Kind: Thought, Text: "Thought: a\n"}}, p.Segments())
}

func TestLabelsOnlyMatchAtLineStart(t *testing.T) {
	p := NewParser(Interactive, quietLogger())
	got, err := collect(t, p.Transform(fragments("Thought: the Answer: is unclear\n", "Question: ok?\n")))
	require.NoError(t, err)
	assert.Equal(t, "Thought: the Answer: is unclear\nQuestion: ok?\n", got)
	assert.False(t, p.Stopped())
}

func TestSourceErrorDiscardsState(t *testing.T) {
	boom := errors.New("connection reset")
	src := func(yield func(Fragment, error) bool) {
		if !yield(Fragment{Text: "Thought: a\n"}, nil) {
			return
		}
		yield(Fragment{}, boom)
	}

	p := NewParser(Batch, quietLogger())
	got, err := collect(t, p.Transform(src))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Thought: a\n", got)
	assert.Empty(t, p.Segments())
	assert.Equal(t, AwaitingLabel, p.State())
}

func TestDoneFragmentEndsStream(t *testing.T) {
	src := func(yield func(Fragment, error) bool) {
		if !yield(Fragment{Text: "Thought: a\nScenarios:\nGiven", Done: true}, nil) {
			return
		}
		yield(Fragment{Text: "ignored"}, nil)
	}
	got, err := collect(t, NewParser(Batch, quietLogger()).Transform(src))
	require.NoError(t, err)
	assert.Equal(t, "Thought: a\nScenarios:\nGiven", got)
}

func TestUnexpectedLabelOrderIsRecorded(t *testing.T) {
	p := NewParser(Batch, quietLogger())
	p.Feed("Question: first?\nAnswer: y\nThought: x\nScenarios:\nGiven\nThought: again\n")
	p.Flush()

	v := p.Violations()
	require.Len(t, v, 2)
	assert.Equal(t, LabelQuestion, v[0].Label)
	assert.Equal(t, AwaitingLabel, v[0].State)
	assert.Equal(t, 0, v[0].Offset)
	assert.Equal(t, LabelThought, v[1].Label)
	assert.Equal(t, InScenarios, v[1].State)
	assert.Contains(t, v[1].Error(), "unexpected label")
}

func TestClassify(t *testing.T) {
	segs := Classify("intro\nThought: t\nQuestion: q\nAnswer: a\nScenarios:\nGiven x\n")
	kinds := make([]Kind, len(segs))
	for i, s := range segs {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []Kind{Unclassified, Thought, Question, Answer, Scenarios}, kinds)
	assert.Equal(t, "Scenarios:\nGiven x\n", segs[4].Text)
}

func TestFeedAfterStopIsNoop(t *testing.T) {
	p := NewParser(Interactive, quietLogger())
	_, stop := p.Feed("Answer")
	require.True(t, stop)
	out, stop := p.Feed("more text")
	assert.Empty(t, out)
	assert.True(t, stop)
	assert.Empty(t, p.Flush())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("batch")
	require.NoError(t, err)
	assert.Equal(t, Batch, m)

	_, err = ParseMode("eager")
	assert.Error(t, err)
}
