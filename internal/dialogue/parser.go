// Package dialogue turns a raw model token stream into the structured
// Thought/Question/Answer/Scenarios transcript and enforces the
// mode-dependent stop rule.
package dialogue

import (
	"iter"
	"log/slog"
	"strings"
)

// Parser is a synchronous, per-request state machine over streamed text.
// It forwards bytes as soon as they cannot start a section label and holds
// back at most one label's worth of text at the start of a line.
type Parser struct {
	mode   Mode
	logger *slog.Logger

	state       State
	atLineStart bool
	head        []byte
	offset      int
	stopped     bool

	curKind  Kind
	cur      strings.Builder
	segments []Segment

	violations []*UnexpectedLabelOrderError
}

// NewParser returns a parser for one stream. The mode is fixed for the
// parser's lifetime.
func NewParser(mode Mode, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		mode:        mode,
		logger:      logger,
		atLineStart: true,
	}
}

// Mode returns the stop mode chosen at construction.
func (p *Parser) Mode() Mode { return p.mode }

// State returns the current grammar state.
func (p *Parser) State() State { return p.state }

// Stopped reports whether the Interactive stop rule fired.
func (p *Parser) Stopped() bool { return p.stopped }

// Violations returns the out-of-order labels seen so far.
func (p *Parser) Violations() []*UnexpectedLabelOrderError {
	return append([]*UnexpectedLabelOrderError(nil), p.violations...)
}

// Segments returns the classified view of everything forwarded so far.
func (p *Parser) Segments() []Segment {
	segs := append([]Segment(nil), p.segments...)
	if p.cur.Len() > 0 {
		segs = append(segs, Segment{Kind: p.curKind, Text: p.cur.String()})
	}
	return segs
}

// Feed consumes one fragment and returns the text that may be forwarded
// now. stop is true once generation must end; after that Feed is a no-op.
func (p *Parser) Feed(text string) (out string, stop bool) {
	if p.stopped || p.state == Done {
		return "", p.stopped
	}

	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		p.offset++

		if !p.atLineStart {
			p.write(&b, string(c))
			if c == '\n' {
				p.atLineStart = true
			}
			continue
		}

		p.head = append(p.head, c)
		h := string(p.head)

		if p.mode == Interactive && h == stopWord {
			p.stop()
			return b.String(), true
		}
		if kindOf(h) != Unclassified {
			p.enter(h)
			p.write(&b, h)
			p.head = p.head[:0]
			p.atLineStart = false
			continue
		}
		if isLabelPrefix(h) {
			continue
		}

		p.write(&b, h)
		p.head = p.head[:0]
		p.atLineStart = c == '\n'
	}
	return b.String(), false
}

// Flush ends the stream and returns any held-back text.
func (p *Parser) Flush() string {
	if p.stopped || p.state == Done {
		return ""
	}
	var b strings.Builder
	if len(p.head) > 0 {
		p.write(&b, string(p.head))
		p.head = p.head[:0]
	}
	p.closeSegment()
	p.state = Done
	return b.String()
}

// Reset discards all state so the parser can be reused for a new stream
// with the same mode.
func (p *Parser) Reset() {
	*p = Parser{mode: p.mode, logger: p.logger, atLineStart: true}
}

// Transform drives the parser over src, yielding normalized increments.
// It stops pulling from src when the stop rule fires. A source error is
// yielded once and the partial state is discarded.
func (p *Parser) Transform(src iter.Seq2[Fragment, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for frag, err := range src {
			if err != nil {
				p.Reset()
				yield("", err)
				return
			}
			out, stop := p.Feed(frag.Text)
			if out != "" && !yield(out, nil) {
				return
			}
			if stop || frag.Done {
				break
			}
		}
		if rest := p.Flush(); rest != "" {
			yield(rest, nil)
		}
	}
}

// Classify splits finished text into segments.
func Classify(text string) []Segment {
	p := NewParser(Batch, slog.New(slog.DiscardHandler))
	p.Feed(text)
	p.Flush()
	return p.Segments()
}

func (p *Parser) write(b *strings.Builder, s string) {
	b.WriteString(s)
	p.cur.WriteString(s)
}

func (p *Parser) enter(label string) {
	k := kindOf(label)
	p.checkOrder(label, k)
	p.closeSegment()
	p.curKind = k
	p.state = stateFor(k)
}

func (p *Parser) stop() {
	p.checkOrder(LabelAnswer, Answer)
	p.head = p.head[:0]
	p.closeSegment()
	p.stopped = true
	p.state = Done
	p.logger.Debug("stop sequence reached", "offset", p.offset)
}

func (p *Parser) checkOrder(label string, k Kind) {
	if expected(p.state, k) {
		return
	}
	v := &UnexpectedLabelOrderError{Label: label, State: p.state, Offset: p.offset - len(p.head)}
	p.violations = append(p.violations, v)
	p.logger.Warn("unexpected label order", "label", label, "state", p.state.String(), "offset", v.Offset)
}

func (p *Parser) closeSegment() {
	if p.cur.Len() == 0 {
		return
	}
	p.segments = append(p.segments, Segment{Kind: p.curKind, Text: p.cur.String()})
	p.cur.Reset()
}

func isLabelPrefix(s string) bool {
	if len(s) >= maxLabelLen {
		return false
	}
	for _, l := range labels {
		if strings.HasPrefix(l, s) {
			return true
		}
	}
	return false
}
