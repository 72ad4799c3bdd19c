package brain

import (
	"strings"
	"testing"
)

func TestSegmenter_FirstSegmentFlushesOnTerminator(t *testing.T) {
	s := NewSegmenter(40, 160)
	segs := s.Push("One moment. Let me check that for you")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1: %v", len(segs), segs)
	}
	if segs[0] != "One moment." {
		t.Errorf("segment = %q; want %q", segs[0], "One moment.")
	}
}

func TestSegmenter_FirstSegmentFlushesAtMinChars(t *testing.T) {
	s := NewSegmenter(20, 160)
	var segs []string
	segs = append(segs, s.Push("our service area covers ")...)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1: %v", len(segs), segs)
	}
	if len(segs[0]) > 20 {
		t.Errorf("first segment length %d exceeds threshold 20: %q", len(segs[0]), segs[0])
	}
	// The cut must land on a word boundary.
	if strings.Contains(segs[0], "  ") || strings.HasSuffix(segs[0], " ") {
		t.Errorf("segment not trimmed: %q", segs[0])
	}
}

func TestSegmenter_ShortTextDoesNotFlushEarly(t *testing.T) {
	s := NewSegmenter(40, 160)
	if segs := s.Push("We open"); len(segs) != 0 {
		t.Fatalf("got %d segments before threshold, want 0: %v", len(segs), segs)
	}
	if got := s.Flush(); got != "We open" {
		t.Errorf("Flush = %q; want %q", got, "We open")
	}
}

func TestSegmenter_SubsequentSegmentsUseLargerThreshold(t *testing.T) {
	s := NewSegmenter(10, 60)
	segs := s.Push("First part here. ")
	if len(segs) != 1 {
		t.Fatalf("expected first segment, got %v", segs)
	}

	// 40 more chars: below the 60-char follow-up threshold, no flush.
	if more := s.Push(strings.Repeat("word ", 8)); len(more) != 0 {
		t.Fatalf("flushed below follow-up threshold: %v", more)
	}
	// Crossing 60 chars flushes.
	more := s.Push(strings.Repeat("word ", 8))
	if len(more) == 0 {
		t.Fatal("expected a segment after crossing the follow-up threshold")
	}
}

func TestSegmenter_SubsequentCutPrefersSentenceBoundary(t *testing.T) {
	s := NewSegmenter(5, 40)
	first := s.Push("Okay. ")
	if len(first) != 1 || first[0] != "Okay." {
		t.Fatalf("first = %v; want [Okay.]", first)
	}

	segs := s.Push("We close at five on weekdays. On weekends we are shut entirely.")
	if len(segs) == 0 {
		t.Fatal("expected a segment")
	}
	if segs[0] != "We close at five on weekdays." {
		t.Errorf("segment = %q; want cut at the sentence boundary", segs[0])
	}
}

func TestSegmenter_FlushDrainsRemainder(t *testing.T) {
	s := NewSegmenter(40, 160)
	s.Push("Sure thing. And one more")
	if got := s.Flush(); got != "And one more" {
		t.Errorf("Flush = %q; want %q", got, "And one more")
	}
	if got := s.Flush(); got != "" {
		t.Errorf("second Flush = %q; want empty", got)
	}
}

func TestSegmenter_WholeTextReassembles(t *testing.T) {
	text := "Thanks for calling Acme. We offer drain cleaning and hydro jetting. Our hours are nine to five, Monday through Friday. Anything else I can help with?"
	s := NewSegmenter(40, 60)

	var parts []string
	// Feed in small streamed fragments.
	for i := 0; i < len(text); i += 7 {
		end := min(i+7, len(text))
		parts = append(parts, s.Push(text[i:end])...)
	}
	if tail := s.Flush(); tail != "" {
		parts = append(parts, tail)
	}

	if len(parts) < 3 {
		t.Fatalf("expected several segments, got %d: %v", len(parts), parts)
	}
	got := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if got != want {
		t.Errorf("reassembled text differs:\n got %q\nwant %q", got, want)
	}
}
