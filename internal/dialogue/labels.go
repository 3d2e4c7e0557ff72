package dialogue

import "fmt"

// Section labels. The prompt template and the parser share these; change
// them together.
const (
	LabelThought   = "Thought:"
	LabelQuestion  = "Question:"
	LabelAnswer    = "Answer:"
	LabelScenarios = "Scenarios:"
)

// StopSequence is sent to backends in Interactive mode so generation halts
// before the model answers its own question.
const StopSequence = "\nAnswer"

// stopWord is StopSequence without the leading newline, matched at line start.
const stopWord = "Answer"

var labels = []string{LabelThought, LabelQuestion, LabelAnswer, LabelScenarios}

// maxLabelLen bounds the lookback window used for label detection.
var maxLabelLen = func() int {
	n := 0
	for _, l := range labels {
		if len(l) > n {
			n = len(l)
		}
	}
	return n
}()

// Mode controls the stop condition of a single stream.
type Mode int

const (
	// Interactive stops at the Answer boundary so the human can reply.
	Interactive Mode = iota
	// Batch lets generation run to natural completion.
	Batch
)

func (m Mode) String() string {
	switch m {
	case Interactive:
		return "interactive"
	case Batch:
		return "batch"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "interactive" or "batch".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "interactive":
		return Interactive, nil
	case "batch":
		return Batch, nil
	}
	return 0, fmt.Errorf("unknown mode: %s", s)
}

// Kind classifies a segment of the transcript.
type Kind int

const (
	Unclassified Kind = iota
	Thought
	Question
	Answer
	Scenarios
)

func (k Kind) String() string {
	switch k {
	case Thought:
		return "thought"
	case Question:
		return "question"
	case Answer:
		return "answer"
	case Scenarios:
		return "scenarios"
	default:
		return "unclassified"
	}
}

func kindOf(label string) Kind {
	switch label {
	case LabelThought:
		return Thought
	case LabelQuestion:
		return Question
	case LabelAnswer:
		return Answer
	case LabelScenarios:
		return Scenarios
	}
	return Unclassified
}

// State is the parser position in the Thought/Question/Answer/Scenarios grammar.
type State int

const (
	AwaitingLabel State = iota
	InThought
	InQuestion
	InAnswer
	InScenarios
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingLabel:
		return "awaiting_label"
	case InThought:
		return "in_thought"
	case InQuestion:
		return "in_question"
	case InAnswer:
		return "in_answer"
	case InScenarios:
		return "in_scenarios"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateFor(k Kind) State {
	switch k {
	case Thought:
		return InThought
	case Question:
		return InQuestion
	case Answer:
		return InAnswer
	case Scenarios:
		return InScenarios
	}
	return AwaitingLabel
}

// expected reports whether entering k from s follows the template grammar.
func expected(s State, k Kind) bool {
	switch s {
	case AwaitingLabel:
		return k == Thought
	case InThought:
		return k == Question || k == Scenarios
	case InQuestion:
		return k == Answer
	case InAnswer:
		return k == Thought
	}
	return false
}

// Fragment is one raw piece of streamed model output with any transport
// wrapping already removed by the backend.
type Fragment struct {
	Text string
	// Done marks the provider's final chunk; it may still carry text.
	Done bool
}

// Segment is a labelled slice of accumulated text.
type Segment struct {
	Kind Kind
	Text string
}

// UnexpectedLabelOrderError describes a label that arrived out of the
// expected order. The parser records it and continues.
type UnexpectedLabelOrderError struct {
	Label  string
	State  State
	Offset int
}

func (e *UnexpectedLabelOrderError) Error() string {
	return fmt.Sprintf("unexpected label %q in state %s at offset %d", e.Label, e.State, e.Offset)
}
