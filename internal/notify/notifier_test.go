package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salewatch/internal/config"
	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/resilience"
)

// sink records webhook posts. status decides the response per call (1-based).
type sink struct {
	mu       sync.Mutex
	payloads []webhookPayload
	times    []time.Time
	status   func(call int) int
}

func newSink(t *testing.T, status func(call int) int) (*sink, *httptest.Server) {
	t.Helper()
	s := &sink{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var p webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))

		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.times = append(s.times, time.Now())
		call := len(s.payloads)
		s.mu.Unlock()

		code := http.StatusNoContent
		if s.status != nil {
			code = s.status(call)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func testConfig(url string) config.NotifyConfig {
	return config.NotifyConfig{
		WebhookURL:      url,
		DelayMs:         0,
		MaxAttempts:     3,
		RetryBackoffMs:  1,
		TimeoutSecs:     5,
		ContinueOnError: true,
	}
}

func records(shops ...string) []model.SaleRecord {
	out := make([]model.SaleRecord, 0, len(shops))
	for _, s := range shops {
		out = append(out, model.SaleRecord{Shop: s, Title: "t-" + s})
	}
	return out
}

func TestDeliver_NoSinkIsNoop(t *testing.T) {
	n, err := New(testConfig("")).Deliver(context.Background(), records("A"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeliver_EmptyInput(t *testing.T) {
	s, srv := newSink(t, nil)
	n, err := New(testConfig(srv.URL)).Deliver(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.count())
}

func TestDeliver_InOrder(t *testing.T) {
	s, srv := newSink(t, nil)
	cfg := testConfig(srv.URL)
	cfg.Username = "KALDI Bot"

	n, err := New(cfg).Deliver(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, s.payloads, 3)
	for i, shop := range []string{"A", "B", "C"} {
		assert.Contains(t, s.payloads[i].Content, "📍 "+shop+"\n")
		assert.Equal(t, "KALDI Bot", s.payloads[i].Username)
	}
}

func TestDeliver_PacesConsecutiveSends(t *testing.T) {
	s, srv := newSink(t, nil)
	cfg := testConfig(srv.URL)
	cfg.DelayMs = 60

	start := time.Now()
	n, err := New(cfg).Deliver(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, s.times, 3)
	assert.Less(t, s.times[0].Sub(start), 50*time.Millisecond, "first send is immediate")
	assert.GreaterOrEqual(t, s.times[1].Sub(s.times[0]), 50*time.Millisecond)
	assert.GreaterOrEqual(t, s.times[2].Sub(s.times[1]), 50*time.Millisecond)
}

func TestDeliver_FailSoftContinues(t *testing.T) {
	s, srv := newSink(t, func(call int) int {
		if call == 2 {
			return http.StatusBadRequest
		}
		return http.StatusOK
	})

	n, err := New(testConfig(srv.URL)).Deliver(context.Background(), records("A", "B", "C"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, s.count(), "a 400 is not retried and the batch continues")

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	require.Len(t, nerr.Failures, 1)
	assert.Equal(t, 1, nerr.Failures[0].Index)
	assert.Equal(t, "B", nerr.Failures[0].Record.Shop)
	assert.Contains(t, nerr.Error(), "1 of 3 deliveries failed")
	assert.Contains(t, nerr.Error(), "status 400")
}

func TestDeliver_StopOnError(t *testing.T) {
	s, srv := newSink(t, func(int) int { return http.StatusForbidden })
	cfg := testConfig(srv.URL)
	cfg.ContinueOnError = false

	n, err := New(cfg).Deliver(context.Background(), records("A", "B"))
	assert.Zero(t, n)
	assert.Equal(t, 1, s.count())

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Len(t, nerr.Failures, 1)
}

func TestDeliver_RetriesTransientStatus(t *testing.T) {
	s, srv := newSink(t, func(call int) int {
		if call == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusNoContent
	})

	n, err := New(testConfig(srv.URL)).Deliver(context.Background(), records("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, s.count())
}

func TestDeliver_GivesUpAfterMaxAttempts(t *testing.T) {
	s, srv := newSink(t, func(int) int { return http.StatusBadGateway })

	n, err := New(testConfig(srv.URL)).Deliver(context.Background(), records("A"))
	assert.Zero(t, n)
	assert.Error(t, err)
	assert.Equal(t, 3, s.count())
}

func TestDeliver_UnreachableSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxAttempts = 1
	n, err := New(cfg).Deliver(context.Background(), records("A", "B"))
	assert.Zero(t, n)

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Len(t, nerr.Failures, 2)
}

func TestSend_TruncatesLongContent(t *testing.T) {
	s, srv := newSink(t, nil)
	long := strings.Repeat("あ", MaxContentRunes+100)

	require.NoError(t, New(testConfig(srv.URL)).Send(context.Background(), long))
	require.Len(t, s.payloads, 1)
	assert.Equal(t, MaxContentRunes, utf8.RuneCountInString(s.payloads[0].Content))
	assert.True(t, strings.HasSuffix(s.payloads[0].Content, "…"))
}

func TestSend_WithoutSink(t *testing.T) {
	assert.Error(t, New(testConfig("")).Send(context.Background(), "x"))
}

func TestTruncate_ShortUnchanged(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
}

func TestRetryPolicy(t *testing.T) {
	p := retryPolicy(config.NotifyConfig{})
	def := resilience.DefaultPolicy()
	assert.Equal(t, def.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, def.Backoff, p.Backoff)
	assert.Equal(t, def.MaxBackoff, p.MaxBackoff)
	assert.NotNil(t, p.OnRetry)

	p = retryPolicy(config.NotifyConfig{MaxAttempts: 5, RetryBackoffMs: 200})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.Backoff)
	assert.Equal(t, 2*time.Second, p.MaxBackoff)
	assert.Equal(t, def.Jitter, p.Jitter)
}
