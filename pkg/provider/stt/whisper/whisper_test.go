package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ringline-ai/ringline/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

// makeSpeechPCM generates a 440 Hz sine-wave buffer of `samples` 16-bit
// little-endian signed samples at 16 kHz.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- construction -------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	c, err := whisper.New("http://localhost:9000",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithPrompt("Acme Plumbing"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil Client")
	}
}

// ---- transcription ------------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	const wantText = "my sink is clogged"
	srv := newMockServer(t, wantText, nil)
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	res, err := c.Transcribe(context.Background(), makeSpeechPCM(1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != wantText {
		t.Errorf("Text = %q; want %q", res.Text, wantText)
	}
}

func TestTranscribe_EmptyPCM_ReturnsEmptyResultWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls)
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	res, err := c.Transcribe(context.Background(), nil, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q; want empty", res.Text)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d time(s) for empty PCM; want 0", n)
	}
}

func TestTranscribe_InvalidSampleRate_ReturnsError(t *testing.T) {
	c, _ := whisper.New("http://localhost:9000")
	if _, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestTranscribe_ForwardsHintFields(t *testing.T) {
	var gotLanguage, gotPrompt, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL,
		whisper.WithLanguage("de"),
		whisper.WithPrompt("Eldrinax"),
		whisper.WithModel("base.en"),
	)
	if _, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLanguage != "de" {
		t.Errorf("language = %q; want %q", gotLanguage, "de")
	}
	if gotPrompt != "Eldrinax" {
		t.Errorf("prompt = %q; want %q", gotPrompt, "Eldrinax")
	}
	if gotModel != "base.en" {
		t.Errorf("model = %q; want %q", gotModel, "base.en")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	var gotRIFF bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		header := make([]byte, 4)
		if _, err := f.Read(header); err == nil {
			gotRIFF = string(header) == "RIFF"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !gotRIFF {
		t.Error("uploaded file is not a RIFF/WAV container")
	}
}

// ---- error handling -----------------------------------------------------------

func TestTranscribe_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "recovered"})
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	res, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q; want %q", res.Text, "recovered")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d time(s); want 2", n)
	}
}

func TestTranscribe_DoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 16000); err == nil {
		t.Fatal("expected error on 422")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d time(s); want 1 (no retry of 4xx)", n)
	}
}

func TestTranscribe_PersistentServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), makeSpeechPCM(160), 16000); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}
