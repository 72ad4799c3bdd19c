package brain

import "strings"

// Segmentation defaults. The first segment is deliberately short so the
// caller hears audio quickly; later segments are longer to give the
// synthesizer full sentences to work with.
const (
	DefaultSegmentMinChars  = 40
	DefaultSegmentNextChars = 160
)

// Segmenter slices a streamed reply into TTS-sized segments. The first
// segment flushes as soon as it reaches the minimum length or a sentence
// terminator appears; subsequent segments flush at the larger threshold,
// preferring sentence boundaries as cut points.
//
// Segmenter is not safe for concurrent use; each call session owns one.
type Segmenter struct {
	minFirst int
	minNext  int

	buf     strings.Builder
	flushed bool
}

// NewSegmenter creates a Segmenter. Non-positive thresholds get defaults.
func NewSegmenter(minFirst, minNext int) *Segmenter {
	if minFirst <= 0 {
		minFirst = DefaultSegmentMinChars
	}
	if minNext <= 0 {
		minNext = DefaultSegmentNextChars
	}
	return &Segmenter{minFirst: minFirst, minNext: minNext}
}

// Push appends streamed text and returns any segments that are ready for
// synthesis, in order. It may return zero segments.
func (s *Segmenter) Push(text string) []string {
	s.buf.WriteString(text)

	var out []string
	for {
		seg := s.cut()
		if seg == "" {
			return out
		}
		out = append(out, seg)
	}
}

// Flush drains any remaining buffered text as a final segment.
func (s *Segmenter) Flush() string {
	seg := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if seg != "" {
		s.flushed = true
	}
	return seg
}

// cut removes and returns one ready segment from the buffer, or "" when no
// segment is ready yet.
func (s *Segmenter) cut() string {
	text := s.buf.String()

	if !s.flushed {
		// First segment: a sentence terminator flushes immediately.
		if idx := terminatorIndex(text); idx >= 0 {
			return s.take(idx + 1)
		}
		if len(text) >= s.minFirst {
			if idx := lastSpaceBefore(text, s.minFirst); idx > 0 {
				return s.take(idx)
			}
			return s.take(len(text))
		}
		return ""
	}

	if len(text) < s.minNext {
		return ""
	}
	// Prefer the last sentence boundary inside the threshold window, then
	// fall back to a word boundary.
	if idx := lastTerminatorBefore(text, s.minNext); idx >= 0 {
		return s.take(idx + 1)
	}
	if idx := lastSpaceBefore(text, s.minNext); idx > 0 {
		return s.take(idx)
	}
	return s.take(len(text))
}

// take removes the first n bytes from the buffer and returns them trimmed.
// Whitespace following the cut is dropped.
func (s *Segmenter) take(n int) string {
	text := s.buf.String()
	seg := strings.TrimSpace(text[:n])
	rest := strings.TrimLeft(text[n:], " \t\n")
	s.buf.Reset()
	s.buf.WriteString(rest)
	if seg != "" {
		s.flushed = true
	}
	return seg
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

// terminatorIndex returns the index of the first sentence terminator that
// ends a word (end of text or followed by a space), or -1.
func terminatorIndex(text string) int {
	for i := 0; i < len(text); i++ {
		if isTerminator(text[i]) && (i+1 >= len(text) || text[i+1] == ' ') {
			return i
		}
	}
	return -1
}

// lastTerminatorBefore returns the index of the last word-ending terminator
// at or before limit, or -1.
func lastTerminatorBefore(text string, limit int) int {
	if limit > len(text) {
		limit = len(text)
	}
	for i := limit - 1; i >= 0; i-- {
		if isTerminator(text[i]) && (i+1 >= len(text) || text[i+1] == ' ') {
			return i
		}
	}
	return -1
}

// lastSpaceBefore returns the index of the last space at or before limit, or
// -1.
func lastSpaceBefore(text string, limit int) int {
	if limit > len(text) {
		limit = len(text)
	}
	return strings.LastIndexByte(text[:limit], ' ')
}
