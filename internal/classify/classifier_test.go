package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
)

func answering(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "msg_1",
			"type": "message",
			"content": []map[string]string{
				{"type": "text", "text": text},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClassifier(srv *httptest.Server, timeout time.Duration) *Classifier {
	return New(Config{
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Timeout:  timeout,
	}, srv.Client(), nil)
}

func TestClassifyRequest(t *testing.T) {
	body := strings.Repeat("x", 500)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, strings.Repeat("x", SnippetLength))
		assert.NotContains(t, req.Messages[0].Content, strings.Repeat("x", SnippetLength+1))
		assert.Contains(t, req.Messages[0].Content, "Meeting Booked")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Interested"}]}`))
	}))
	t.Cleanup(srv.Close)

	got := newTestClassifier(srv, time.Second).Classify(context.Background(), body)
	assert.Equal(t, model.CategoryInterested, got)
}

func TestClassifySanitizes(t *testing.T) {
	tests := []struct {
		answer string
		want   model.Category
	}{
		{answer: "  \"Meeting Booked.\"\n", want: model.CategoryMeetingBooked},
		{answer: "'Spam'", want: model.CategorySpam},
		{answer: "Out of Office.", want: model.CategoryOutOfOffice},
		{answer: "Not Interested", want: model.CategoryNotInterested},
		{answer: "Definitely interested!", want: model.CategoryInbox},
		{answer: "", want: model.CategoryInbox},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			srv := answering(t, tt.answer)
			got := newTestClassifier(srv, time.Second).Classify(context.Background(), "hello")
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestClassifyFallbackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"overloaded"}}`))
	}))
	t.Cleanup(srv.Close)

	got := newTestClassifier(srv, time.Second).Classify(context.Background(), "hello")
	assert.Equal(t, model.CategoryInbox, got)
}

func TestClassifyFallbackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	start := time.Now()
	got := newTestClassifier(srv, 50*time.Millisecond).Classify(context.Background(), "hello")
	assert.Equal(t, model.CategoryInbox, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDisabled(t *testing.T) {
	c := Disabled()
	assert.False(t, c.Enabled())
	assert.Equal(t, model.CategoryInbox, c.Classify(context.Background(), "anything"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short"))
	assert.Len(t, []rune(Snippet(strings.Repeat("ü", 400))), SnippetLength)
}
