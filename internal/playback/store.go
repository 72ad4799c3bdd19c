package playback

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ringline-ai/ringline/pkg/audio"
)

// Store stages conditioned audio as WAV files the carrier fetches by URL.
// Files are written under a local directory and served read-only from
// [Store.Handler]; Put returns the public URL to hand to the carrier's
// playback command.
type Store struct {
	dir     string
	baseURL string
}

// NewStore creates the storage directory if needed. baseURL is the public
// prefix under which [Store.Handler] is mounted, e.g.
// "https://runtime.example.com/audio".
func NewStore(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("playback: storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create storage dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes one conditioned segment as a mono WAV file and returns its
// public URL.
func (s *Store) Put(pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("playback: empty segment")
	}
	name := uuid.NewString() + ".wav"
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, sampleRate, 1), 0o644); err != nil {
		return "", fmt.Errorf("playback: write segment: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Remove deletes a staged segment by its public URL. Unknown URLs are a
// no-op; segments for dead calls may already be gone.
func (s *Store) Remove(publicURL string) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || !strings.HasSuffix(name, ".wav") {
		return
	}
	os.Remove(filepath.Join(s.dir, name))
}

// Handler serves the staged audio files.
func (s *Store) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
