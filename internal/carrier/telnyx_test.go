package carrier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type recorded struct {
	path string
	auth string
	body map[string]any
}

func newTestClient(t *testing.T, status int, rec *[]recorded) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		*rec = append(*rec, recorded{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "key-123", WithStreamURL("wss://runtime.example.com/media"), WithCodec("PCMA"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnswer_SendsStreamParams(t *testing.T) {
	var rec []recorded
	c := newTestClient(t, http.StatusOK, &rec)

	if err := c.Answer(context.Background(), "cc-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(rec) != 1 {
		t.Fatalf("got %d requests; want 1", len(rec))
	}
	if rec[0].path != "/v2/calls/cc-1/actions/answer" {
		t.Errorf("path = %s", rec[0].path)
	}
	if rec[0].auth != "Bearer key-123" {
		t.Errorf("auth = %q", rec[0].auth)
	}
	if rec[0].body["stream_url"] != "wss://runtime.example.com/media" {
		t.Errorf("stream_url = %v", rec[0].body["stream_url"])
	}
	if rec[0].body["stream_bidirectional_codec"] != "PCMA" {
		t.Errorf("codec = %v", rec[0].body["stream_bidirectional_codec"])
	}
}

func TestPlay_SendsAudioURL(t *testing.T) {
	var rec []recorded
	c := newTestClient(t, http.StatusOK, &rec)

	if err := c.Play(context.Background(), "cc-1", "https://runtime.example.com/audio/x.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if rec[0].path != "/v2/calls/cc-1/actions/playback_start" {
		t.Errorf("path = %s", rec[0].path)
	}
	if rec[0].body["audio_url"] != "https://runtime.example.com/audio/x.wav" {
		t.Errorf("audio_url = %v", rec[0].body["audio_url"])
	}
}

func TestCommand_NotFoundIsNotRetried(t *testing.T) {
	var rec []recorded
	c := newTestClient(t, http.StatusNotFound, &rec)

	if err := c.Hangup(context.Background(), "cc-gone"); err == nil {
		t.Fatal("Hangup on missing call succeeded")
	}
	if len(rec) != 1 {
		t.Errorf("got %d requests; want 1 (no retry on 404)", len(rec))
	}
}

func TestCommand_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "", WithAttempts(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Transfer(context.Background(), "cc-1", "+15550199"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("got %d attempts; want 2", got)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("New with empty url succeeded")
	}
}
