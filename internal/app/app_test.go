package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaturyaganne/ai-agent/internal/config"
	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/llm"
)

func newModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Anton: Sounds restful."}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, modelURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:            "0",
		DBPath:          filepath.Join(dir, "anton.db"),
		DefaultUsername: "default_user",
		AllowedOrigins:  []string{"http://localhost:3000"},
		LogLevel:        slog.LevelInfo,
		MetricsEnabled:  true,
		ShutdownTimeout: 5 * time.Second,
		ResubmitPolicy:  domain.ResubmitOverwrite,
		MemoryCapacity:  20,
		LLM: config.LLMConfig{
			Provider:          "huggingface",
			GenerationTimeout: 5 * time.Second,
			HFToken:           "hf_test",
			HFModel:           "test-model",
			HFBaseURL:         modelURL,
		},
		ConversationLog: config.ConversationLogConfig{
			Enabled:   true,
			Dir:       filepath.Join(dir, "logs"),
			QueueSize: 16,
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, newModelServer(t).URL)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), LockTTL: 5 * time.Second, Prefix: "anton:"}

	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	h := a.Router()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/user/session", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session struct {
		Greeting string `json:"greeting"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	assert.Contains(t, session.Greeting, "Anton")

	w = do(http.MethodPost, "/api/user/message", `{"userInput":"I sleep badly"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply struct {
		Response       string `json:"response"`
		ShowMarkButton bool   `json:"showMarkButton"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reply))
	assert.Equal(t, "Sounds restful.", reply.Response)
	assert.True(t, reply.ShowMarkButton)

	w = do(http.MethodPost, "/api/user/mark-complete", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "**Day 2/7:**")

	w = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anton_messages_total")
	assert.Contains(t, w.Body.String(), "anton_generation_requests_total")

	assert.Empty(t, mr.Keys(), "user locks should be released")
}

func TestServeStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, newModelServer(t).URL), quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewGenerator(t *testing.T) {
	gen, err := NewGenerator(context.Background(), config.LLMConfig{Provider: "huggingface"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "huggingface", gen.Name())

	gen, err = NewGenerator(context.Background(), config.LLMConfig{Provider: "gemini"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "gemini", gen.Name())

	_, err = NewGenerator(context.Background(), config.LLMConfig{Provider: "markov"}, quietLogger())
	assert.Error(t, err)
}

func TestOfflineGeneratorIsUnavailable(t *testing.T) {
	_, err := offlineGenerator{cause: net.ErrClosed}.Generate(context.Background(), llm.Request{Prompt: "hi"})
	assert.Equal(t, llm.OutcomeUnavailable, llm.Classify(err))
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, newModelServer(t).URL)
	cfg.Redis = config.RedisConfig{Addr: "127.0.0.1:1", LockTTL: time.Second}

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"localhost:3000", "example.com"},
		originPatterns([]string{"http://localhost:3000", "https://example.com"}))
	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a.test", "*"}))
}
