package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// DefaultFillerPhrases are synthesized at startup and played while the brain
// is thinking.
var DefaultFillerPhrases = []string{
	"One moment.",
	"Let me check that for you.",
	"Just a second.",
}

// FillerCache holds pre-synthesized filler segments, conditioned per playback
// profile so narrowband and HD calls each get audio shaped for their
// transport. Warm each profile once at startup; Pick is lock-cheap and safe
// from every session.
type FillerCache struct {
	phrases []string

	mu      sync.Mutex
	entries map[Profile][]tts.Audio
	next    map[Profile]int
	warmed  map[Profile]bool
}

// NewFillerCache creates a cache for the given phrases, or
// [DefaultFillerPhrases] when none are given.
func NewFillerCache(phrases ...string) *FillerCache {
	if len(phrases) == 0 {
		phrases = DefaultFillerPhrases
	}
	return &FillerCache{
		phrases: phrases,
		entries: make(map[Profile][]tts.Audio),
		next:    make(map[Profile]int),
		warmed:  make(map[Profile]bool),
	}
}

// Warm synthesizes every phrase with synth and conditions it through pipe,
// caching the result under pipe's profile. Warming is idempotent per
// profile: repeated calls after a successful pass are no-ops. A phrase that
// fails to synthesize is logged and omitted; fillers are an optimization,
// not a dependency.
func (c *FillerCache) Warm(ctx context.Context, synth tts.Synthesizer, voiceID string, pipe *Pipeline) {
	profile := pipe.Profile()
	c.mu.Lock()
	if c.warmed[profile] {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var entries []tts.Audio
	for _, phrase := range c.phrases {
		a, err := synth.Synthesize(ctx, tts.Request{Text: phrase, VoiceID: voiceID})
		if err != nil {
			slog.Warn("filler phrase synthesis failed, omitting",
				"phrase", phrase, "profile", profile, "err", err)
			continue
		}
		entries = append(entries, pipe.Prepare(a))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warmed[profile] {
		return
	}
	c.entries[profile] = entries
	c.warmed[profile] = true
	slog.Info("filler cache warmed",
		"profile", profile, "phrases", len(c.phrases), "cached", len(entries))
}

// Pick returns the next filler segment for the profile, round-robin. ok is
// false when that profile is cold or every phrase failed to synthesize.
func (c *FillerCache) Pick(profile Profile) (a tts.Audio, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[profile]
	if len(entries) == 0 {
		return tts.Audio{}, false
	}
	a = entries[c.next[profile]%len(entries)]
	c.next[profile]++
	return a, true
}

// Len reports the number of segments cached for the profile.
func (c *FillerCache) Len(profile Profile) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[profile])
}
