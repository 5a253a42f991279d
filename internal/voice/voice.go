// Package voice renders a brief's text as audio through an external TTS
// service. Voice synthesis is strictly downstream: a failure here never
// invalidates an already-produced brief.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer converts text into an audio payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// HTTPSynthesizer posts text to a TTS endpoint and returns the audio bytes.
type HTTPSynthesizer struct {
	Endpoint string
	client   *http.Client
}

// NewHTTPSynthesizer creates a synthesizer for the given TTS endpoint.
func NewHTTPSynthesizer(endpoint string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		Endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize sends the text and returns the audio response body.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.Endpoint == "" {
		return nil, fmt.Errorf("TTS endpoint not configured")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS service returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("TTS service returned no audio")
	}
	return audio, nil
}
