// Package chunker splits document text into overlapping, size-bounded
// segments for embedding.
//
// Text is split recursively on the largest boundary present (paragraph,
// line, sentence end, word) and the resulting pieces are merged greedily up
// to the target size. Each segment after the first begins with up to the
// overlap size of its predecessor's tail, cut at the finest boundary needed
// when a single piece is longer than the overlap. Lengths are measured in
// runes. Segmentation is deterministic because chunk IDs are derived from
// segment position.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultTargetSize is the maximum segment length in runes.
	DefaultTargetSize = 1000
	// DefaultOverlap is the number of runes shared by consecutive segments.
	DefaultOverlap = 200
)

// separators are tried in order, largest boundary first. Separators within
// one level are equivalent. Text that still exceeds the target size after
// the last level is cut between runes.
var separators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// Segment is one chunk of the input. Start and End are byte offsets into the
// original text; Text is the trimmed content of text[Start:End].
type Segment struct {
	Text  string
	Start int
	End   int
}

// Config sets the segmentation parameters.
type Config struct {
	// TargetSize is the maximum segment length in runes. Zero means DefaultTargetSize.
	TargetSize int
	// Overlap is the shared length between consecutive segments. Negative
	// means none; values not smaller than TargetSize are reduced to a fifth
	// of it.
	Overlap int
}

// Chunker splits text with a fixed configuration. The zero value is not
// usable; construct with New.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker for cfg with defaults applied.
func New(cfg Config) *Chunker {
	size := cfg.TargetSize
	if size <= 0 {
		size = DefaultTargetSize
	}
	overlap := cfg.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split is shorthand for New(Config{targetSize, overlap}).Chunk(text).
func Split(text string, targetSize, overlap int) []string {
	return New(Config{TargetSize: targetSize, Overlap: overlap}).Chunk(text)
}

// Chunk returns the segment texts for text. Empty or whitespace-only input
// yields no segments.
func (c *Chunker) Chunk(text string) []string {
	segs := c.Segments(text)
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

// Segments returns the segments of text with their byte offsets.
func (c *Chunker) Segments(text string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := c.pieces(text, 0, len(text), 0, nil)
	return c.merge(text, pieces)
}

// span is an atomic piece of the input: text[lo:hi] holding n runes.
type span struct {
	lo, hi, n int
}

// pieces splits text[lo:hi] into spans no longer than the target size,
// descending through the separator levels as needed. The spans tile the
// input exactly: separators stay attached to the piece they end.
func (c *Chunker) pieces(text string, lo, hi, level int, out []span) []span {
	n := utf8.RuneCountInString(text[lo:hi])
	if n <= c.size {
		return append(out, span{lo: lo, hi: hi, n: n})
	}
	if level >= len(separators) {
		for i := lo; i < hi; {
			_, w := utf8.DecodeRuneInString(text[i:hi])
			out = append(out, span{lo: i, hi: i + w, n: 1})
			i += w
		}
		return out
	}

	cuts := cutAfter(text, lo, hi, separators[level])
	if len(cuts) == 1 {
		return c.pieces(text, lo, hi, level+1, out)
	}
	for _, cut := range cuts {
		out = c.pieces(text, cut.lo, cut.hi, level+1, out)
	}
	return out
}

// cutAfter splits text[lo:hi] immediately after every occurrence of any of
// seps. The returned spans carry no rune counts.
func cutAfter(text string, lo, hi int, seps []string) []span {
	var out []span
	start := lo
	pos := lo
	for pos < hi {
		idx, width := -1, 0
		for _, sep := range seps {
			i := strings.Index(text[pos:hi], sep)
			if i >= 0 && (idx < 0 || i < idx) {
				idx, width = i, len(sep)
			}
		}
		if idx < 0 {
			break
		}
		end := pos + idx + width
		out = append(out, span{lo: start, hi: end})
		start, pos = end, end
	}
	if start < hi {
		out = append(out, span{lo: start, hi: hi})
	}
	return out
}

// merge combines consecutive pieces into segments of at most c.size runes,
// carrying up to c.overlap trailing runes into the next segment.
func (c *Chunker) merge(text string, pieces []span) []Segment {
	var (
		out    []Segment
		window []span
		total  int
	)
	emit := func() {
		lo, hi := window[0].lo, window[len(window)-1].hi
		if t := strings.TrimSpace(text[lo:hi]); t != "" {
			out = append(out, Segment{Text: t, Start: lo, End: hi})
		}
	}

	for _, p := range pieces {
		if total+p.n > c.size && len(window) > 0 {
			emit()
			window = tail(text, window, min(c.overlap, c.size-p.n), 0)
			total = 0
			for _, s := range window {
				total += s.n
			}
		}
		window = append(window, p)
		total += p.n
	}
	if len(window) > 0 {
		emit()
	}
	return out
}

// tail returns the trailing spans holding at most budget runes. Whole spans
// are kept while they fit; if that uses less than half the budget, the span
// that did not fit is split at a finer separator and its own tail kept.
func tail(text string, spans []span, budget, level int) []span {
	if budget <= 0 {
		return nil
	}
	start, used := len(spans), 0
	for start > 0 && used+spans[start-1].n <= budget {
		start--
		used += spans[start].n
	}
	kept := spans[start:]
	if start > 0 && used < budget/2 {
		kept = append(tailOf(text, spans[start-1], budget-used, level), kept...)
	}
	return kept
}

// tailOf returns the trailing part of s holding at most budget runes, cut at
// the largest separator from level down that splits s, else between runes.
func tailOf(text string, s span, budget, level int) []span {
	for ; level < len(separators); level++ {
		cuts := cutAfter(text, s.lo, s.hi, separators[level])
		if len(cuts) < 2 {
			continue
		}
		for i := range cuts {
			cuts[i].n = utf8.RuneCountInString(text[cuts[i].lo:cuts[i].hi])
		}
		return tail(text, cuts, budget, level+1)
	}
	lo, n := s.hi, 0
	for ; n < budget && lo > s.lo; n++ {
		_, w := utf8.DecodeLastRuneInString(text[s.lo:lo])
		lo -= w
	}
	if n == 0 {
		return nil
	}
	return []span{{lo: lo, hi: s.hi, n: n}}
}
