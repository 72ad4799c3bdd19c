package kokoro_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
	"github.com/ringline-ai/ringline/pkg/provider/tts/kokoro"
)

// makePCM returns n 16-bit samples of a ramp so byte-level comparisons catch
// reordering.
func makePCM(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i))
	}
	return buf
}

// newWAVServer responds to POST /tts with the given PCM wrapped in a WAV
// container at the given rate, capturing the request body.
func newWAVServer(t *testing.T, pcm []byte, rate int, lastReq *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if lastReq != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			*lastReq = body
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(pcm, rate, 1))
	}))
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := kokoro.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestSynthesize_ReturnsPCMAndRate(t *testing.T) {
	pcm := makePCM(160)
	srv := newWAVServer(t, pcm, 16000, nil)
	defer srv.Close()

	c, _ := kokoro.New(srv.URL)
	out, err := c.Synthesize(context.Background(), tts.Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("SampleRate = %d; want 16000", out.SampleRate)
	}
	if len(out.PCM) != len(pcm) {
		t.Errorf("len(PCM) = %d; want %d", len(out.PCM), len(pcm))
	}
}

func TestSynthesize_SendsShapedTextAndDefaults(t *testing.T) {
	var lastReq map[string]any
	srv := newWAVServer(t, makePCM(16), 16000, &lastReq)
	defer srv.Close()

	c, _ := kokoro.New(srv.URL, kokoro.WithVoice("bf_emma"), kokoro.WithLanguage("en"))
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "  hello   there  "}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got := lastReq["text"]; got != "hello there." {
		t.Errorf("text = %v; want %q (shaped)", got, "hello there.")
	}
	if got := lastReq["voice_id"]; got != "bf_emma" {
		t.Errorf("voice_id = %v; want bf_emma", got)
	}
	if got := lastReq["format"]; got != "wav" {
		t.Errorf("format = %v; want wav", got)
	}
	if got := lastReq["sample_rate"]; got != float64(16000) {
		t.Errorf("sample_rate = %v; want 16000", got)
	}
}

func TestSynthesize_RequestVoiceOverridesDefault(t *testing.T) {
	var lastReq map[string]any
	srv := newWAVServer(t, makePCM(16), 16000, &lastReq)
	defer srv.Close()

	c, _ := kokoro.New(srv.URL, kokoro.WithVoice("af_heart"))
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "am_adam"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := lastReq["voice_id"]; got != "am_adam" {
		t.Errorf("voice_id = %v; want am_adam", got)
	}
}

func TestSynthesize_EmptyText_NoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, _ := kokoro.New(srv.URL)
	out, err := c.Synthesize(context.Background(), tts.Request{Text: "   "})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out.PCM) != 0 {
		t.Errorf("len(PCM) = %d; want 0", len(out.PCM))
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d time(s) for empty text; want 0", n)
	}
}

func TestSynthesize_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	pcm := makePCM(16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(pcm, 16000, 1))
	}))
	defer srv.Close()

	c, _ := kokoro.New(srv.URL)
	out, err := c.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out.PCM) != len(pcm) {
		t.Errorf("len(PCM) = %d; want %d", len(out.PCM), len(pcm))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d time(s); want 2", n)
	}
}

func TestSynthesize_NonWAVResponse_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not audio"))
	}))
	defer srv.Close()

	c, _ := kokoro.New(srv.URL)
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for non-WAV response")
	}
}

func TestSynthesize_StereoResponse_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(makePCM(32), 16000, 2))
	}))
	defer srv.Close()

	c, _ := kokoro.New(srv.URL)
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for stereo response")
	}
}
