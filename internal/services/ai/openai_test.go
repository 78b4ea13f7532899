package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/outbound"
)

func allowLoopback(netip.Addr) string { return "" }

func newTestProvider(t *testing.T, srv *httptest.Server, policy outbound.AddressPolicy) *OpenAIProvider {
	t.Helper()
	cfg := config.LLMConfig{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/v1",
		Model:        "test-model",
		Temperature:  0.2,
		TTSModel:     "tts-1",
		TTSVoice:     "alloy",
		TextTimeout:  2 * time.Second,
		AudioTimeout: 2 * time.Second,
	}
	opts := []outbound.GuardOption{}
	if policy != nil {
		opts = append(opts, outbound.WithAddressPolicy(policy))
	}
	client := outbound.NewClient(outbound.NewGuard(zap.NewNop(), opts...), zap.NewNop())
	return NewOpenAIProvider(cfg, client, zap.NewNop(), true)
}

func TestOpenAIProviderComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		rf, ok := body["response_format"].(map[string]any)
		if !ok || rf["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", body["response_format"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, allowLoopback)
	out, err := p.Complete(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, true)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("Complete() = %q", out)
	}
}

func TestOpenAIProviderUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, allowLoopback)
	_, err := p.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, false)

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Complete() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", upstream.StatusCode)
	}
	if !IsRetryable(err) {
		t.Error("upstream errors should be retryable")
	}
}

func TestOpenAIProviderBlockedEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("loopback backend should never be contacted")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, nil)
	_, err := p.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, false)
	if !errors.Is(err, outbound.ErrSSRFBlocked) {
		t.Fatalf("Complete() error = %v, want ErrSSRFBlocked", err)
	}
	if IsRetryable(err) {
		t.Error("blocked destinations must not be retried")
	}

	if _, err := p.Speech(context.Background(), "hello"); !errors.Is(err, outbound.ErrSSRFBlocked) {
		t.Errorf("Speech() error = %v, want ErrSSRFBlocked", err)
	}
}

func TestOpenAIProviderSpeech(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %s, want /v1/audio/speech", r.URL.Path)
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "tts-1" || req.Voice != "alloy" || req.ResponseFormat != "mp3" || req.Input != "hello" {
			t.Errorf("unexpected speech request %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, allowLoopback)
	audio, err := p.Speech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speech() error = %v", err)
	}
	if string(audio) != "ID3fake" {
		t.Errorf("Speech() = %q", audio)
	}
}

func TestOpenAIProviderSpeechHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, allowLoopback)
	_, err := p.Speech(context.Background(), "hello")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusBadRequest {
		t.Errorf("Speech() error = %v, want UpstreamError 400", err)
	}
}
