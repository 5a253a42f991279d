package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if body["text"] != "market brief text" {
			t.Errorf("unexpected text %q", body["text"])
		}
		w.Write([]byte("fake-audio-bytes"))
	}))
	defer srv.Close()

	s := NewHTTPSynthesizer(srv.URL)
	audio, err := s.Synthesize(context.Background(), "market brief text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fake-audio-bytes" {
		t.Errorf("unexpected audio %q", audio)
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tts down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSynthesizer(srv.URL)
	if _, err := s.Synthesize(context.Background(), "text"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := NewHTTPSynthesizer(srv.URL)
	if _, err := s.Synthesize(context.Background(), "text"); err == nil {
		t.Error("expected error for empty audio body")
	}
}

func TestSynthesizeNoEndpoint(t *testing.T) {
	s := NewHTTPSynthesizer("")
	if _, err := s.Synthesize(context.Background(), "text"); err == nil {
		t.Error("expected error without endpoint")
	}
}
