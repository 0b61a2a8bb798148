package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const okResponse = `{
	"candidates": [{
		"content": {"role": "model", "parts": [
			{"text": "thinking about shoes", "thought": true},
			{"text": "Size 42 is available."}
		]},
		"finishReason": "STOP"
	}]
}`

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := New(context.Background(), Config{
		APIKey:      "test-key",
		Model:       "gemini-2.5-flash",
		VoicePrompt: "Summarise the order.",
		BaseURL:     srv.URL + "/",
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{APIKey: "k", Model: "gemini-2.5-flash"}},
		{name: "missing key", cfg: Config{Model: "gemini-2.5-flash"}, wantErr: true},
		{name: "missing model", cfg: Config{APIKey: "k"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(context.Background(), tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m.Name() != tt.cfg.Model {
				t.Errorf("Name() = %v", m.Name())
			}
		})
	}
}

func TestModel_Complete(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okResponse)
	})

	reply, err := m.Complete(context.Background(), "Do you have size 42?", "You sell shoes.")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "Size 42 is available." {
		t.Errorf("Complete() = %q", reply)
	}

	raw, _ := json.Marshal(body)
	for _, want := range []string{"Do you have size 42?", "You sell shoes.", "systemInstruction"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request %s missing %q", raw, want)
		}
	}
}

func TestModel_Transcribe(t *testing.T) {
	audio := []byte("ID3 fake mp3 payload")
	path := filepath.Join(t.TempDir(), "voice.mp3")
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		t.Fatal(err)
	}

	var raw []byte
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okResponse)
	})

	reply, err := m.Transcribe(context.Background(), path, "You sell shoes.")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if reply != "Size 42 is available." {
		t.Errorf("Transcribe() = %q", reply)
	}

	for _, want := range []string{AudioMIMEType, base64.StdEncoding.EncodeToString(audio), "Summarise the order."} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request %s missing %q", raw, want)
		}
	}
}

func TestModel_APIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`)
	})
	if _, err := m.Complete(context.Background(), "hi", ""); err == nil {
		t.Fatal("Complete() expected error")
	}
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name   string
		result *genai.GenerateContentResponse
		want   string
	}{
		{name: "nil", result: nil, want: ""},
		{name: "no candidates", result: &genai.GenerateContentResponse{}, want: ""},
		{
			name: "joins text parts",
			result: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "Hello "}, {Text: "there"}}},
			}}},
			want: "Hello there",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := responseText(tt.result); got != tt.want {
				t.Errorf("responseText() = %q, want %q", got, tt.want)
			}
		})
	}
}
