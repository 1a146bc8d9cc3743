package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFakeAIServer(t *testing.T, chatReply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/media/talk.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fakeaudio"))
	})
	mux.HandleFunc("/media/missing.mp3", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("model"); got != "whisper-large-v3-turbo" {
			http.Error(w, "unexpected model "+got, http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "ID3fakeaudio" {
			http.Error(w, "unexpected audio body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello from the video"}`))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ResponseFormat.Type != "json_object" {
			http.Error(w, "json mode not requested", http.StatusBadRequest)
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": chatReply}, "finish_reason": "stop"}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *AIClient {
	return NewAIClient(AIClientConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL + "/v1",
		TranscribeModel: "whisper-large-v3-turbo",
		GenerateModel:   "llama3-8b-8192",
		HTTPClient:      srv.Client(),
	})
}

func TestTranscribe(t *testing.T) {
	srv := newFakeAIServer(t, "{}")
	defer srv.Close()

	text, err := newTestClient(srv).Transcribe(context.Background(), srv.URL+"/media/talk.mp3")
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "hello from the video" {
		t.Errorf("Transcribe = %q", text)
	}
}

func TestTranscribeMissingAudio(t *testing.T) {
	srv := newFakeAIServer(t, "{}")
	defer srv.Close()

	if _, err := newTestClient(srv).Transcribe(context.Background(), srv.URL+"/media/missing.mp3"); err == nil {
		t.Fatal("expected error for missing audio")
	}
}

func TestGenerateSocial(t *testing.T) {
	reply := `{"title":"Big Day","description":"A video.","twitter":["one","two","three"],"linkedin":"post","instagram":"caption #go"}`
	srv := newFakeAIServer(t, reply)
	defer srv.Close()

	content, err := newTestClient(srv).GenerateSocial(context.Background(), "hello from the video")
	if err != nil {
		t.Fatalf("GenerateSocial error: %v", err)
	}
	if content.Title != "Big Day" || len(content.Twitter) != 3 || content.Instagram != "caption #go" {
		t.Errorf("unexpected content: %+v", content)
	}
}

func TestGenerateSocialMalformedReply(t *testing.T) {
	srv := newFakeAIServer(t, "Sure! Here is your content: title=Big Day")
	defer srv.Close()

	if _, err := newTestClient(srv).GenerateSocial(context.Background(), "text"); err == nil {
		t.Fatal("expected error for malformed reply")
	}
}

func TestRateLimitHonoursDeadline(t *testing.T) {
	reply := `{"title":"t"}`
	srv := newFakeAIServer(t, reply)
	defer srv.Close()

	client := NewAIClient(AIClientConfig{
		APIKey:        "test-key",
		BaseURL:       srv.URL + "/v1",
		GenerateModel: "llama3-8b-8192",
		RatePerMinute: 1,
		HTTPClient:    srv.Client(),
	})

	if _, err := client.GenerateSocial(context.Background(), "first"); err != nil {
		t.Fatalf("first call error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.GenerateSocial(ctx, "second"); err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestParseSocialContent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain json", `{"title":"t","twitter":["a"]}`, false},
		{"fenced json", "```json\n{\"title\":\"t\"}\n```", false},
		{"not json", "hello", true},
		{"empty object", "{}", true},
		{"wrong type", `{"title":"t","twitter":"not a list"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSocialContent(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSocialContent(%q) error = %v, wantErr %v", strings.TrimSpace(tt.raw), err, tt.wantErr)
			}
		})
	}
}
