package recgov

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/username/permit-finder/internal/report"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, serverURL string, retries int) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:        serverURL,
		RequestTimeout: 2 * time.Second,
		Retry: RetryPolicy{
			MaxRetries: retries,
			MinWait:    time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
	}, zap.NewNop(), WithSleepFunc(noopSleep))
}

var (
	windowStart = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2099, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestFetchAvailability_BuildsRequest(t *testing.T) {
	var gotPath, gotStart, gotEnd, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStart = r.URL.Query().Get("start_date")
		gotEnd = r.URL.Query().Get("end_date")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"payload": {"2099-01-02": {"166": {"remaining": 3, "total": 60}}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	var out report.Buffer

	resp, err := client.FetchAvailability(context.Background(), &out, 445860, windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, "/api/permitinyo/445860/availability", gotPath)
	assert.Equal(t, "2099-01-01", gotStart)
	assert.Equal(t, "2099-01-31", gotEnd)
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, 1, resp.Days())
	entry := resp.Payload["2099-01-02"]["166"]
	assert.True(t, entry.Valid())
	assert.Equal(t, 3, entry.Remaining)
	assert.Empty(t, out.Lines())
}

func TestAvailabilityURL(t *testing.T) {
	client := NewClient(Options{BaseURL: "https://example.test/"}, nil)

	got := client.AvailabilityURL(233262, windowStart, windowEnd)

	assert.Equal(t, "https://example.test/api/permitinyo/233262/availability?end_date=2099-01-31&start_date=2099-01-01", got)
}

func TestFetchJSON_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	var out report.Buffer

	resp, err := client.FetchAvailability(context.Background(), &out, 1, windowStart, windowEnd)

	assert.Nil(t, resp)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, []string{"Failed to parse JSON response"}, out.Lines())
}

func TestFetchJSON_WrongShapeIsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload": "closed"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	_, err := client.FetchAvailability(context.Background(), &report.Buffer{}, 1, windowStart, windowEnd)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestFetchAvailability_MalformedSiblingTrail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload": {"2098-12-05": {"166": {"remaining": 4}, "999": {"remaining": 1.5}, "465": "closed"}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	var out report.Buffer

	resp, err := client.FetchAvailability(context.Background(), &out, 445860, windowStart, windowEnd)
	require.NoError(t, err)

	day := resp.Payload["2098-12-05"]
	assert.True(t, day["166"].Valid())
	assert.Equal(t, 4, day["166"].Remaining)
	assert.False(t, day["999"].Valid())
	assert.False(t, day["465"].Valid())
	assert.Empty(t, out.Lines())
}

func TestFetchJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"payload": {}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	var out report.Buffer

	resp, err := client.FetchAvailability(context.Background(), &out, 1, windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, resp.Days())
	assert.Empty(t, out.Lines())
}

func TestFetchJSON_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	var out report.Buffer

	_, err := client.FetchAvailability(context.Background(), &out, 1, windowStart, windowEnd)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"Failed to fetch data. Status code: 502", "bad gateway"}, out.Lines())
}

func TestFetchJSON_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)

	_, err := client.FetchAvailability(context.Background(), &report.Buffer{}, 1, windowStart, windowEnd)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.False(t, te.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchJSON_RequestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Options{
		BaseURL:        server.URL,
		RequestTimeout: 20 * time.Millisecond,
	}, zap.NewNop(), WithSleepFunc(noopSleep))
	var out report.Buffer

	_, err := client.FetchAvailability(context.Background(), &out, 1, windowStart, windowEnd)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, out.Lines())
	assert.Equal(t, "Failed to fetch data.", out.Lines()[0])
}

func TestFetchJSON_CallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload": {}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out report.Buffer

	_, err := client.FetchAvailability(ctx, &out, 1, windowStart, windowEnd)

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, out.Lines())
}

type stubDoer struct {
	calls atomic.Int32
	err   error
}

func (d *stubDoer) Do(*http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return nil, d.err
}

func TestFetchJSON_CircuitBreakerOpens(t *testing.T) {
	doer := &stubDoer{err: errors.New("connection refused")}
	client := NewClient(Options{
		BaseURL: "http://permits.invalid",
		Retry:   RetryPolicy{MaxRetries: 0},
	}, zap.NewNop(), WithDoer(doer), WithSleepFunc(noopSleep))

	for i := 0; i < 6; i++ {
		_, err := client.FetchAvailability(context.Background(), &report.Buffer{}, 1, windowStart, windowEnd)
		require.Error(t, err)
	}
	require.Equal(t, int32(6), doer.calls.Load())

	var out report.Buffer
	_, err := client.FetchAvailability(context.Background(), &out, 1, windowStart, windowEnd)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Detail, "circuit breaker is open")
	assert.Equal(t, int32(6), doer.calls.Load(), "open breaker must not reach the transport")
	assert.Equal(t, "Failed to fetch data.", out.Lines()[0])
}

func TestComputeBackoff(t *testing.T) {
	client := newTestClient(t, "http://unused", 3)
	client.retry = RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second}

	assert.Equal(t, 100*time.Millisecond, client.computeBackoff(0, 0))

	for attempt := 1; attempt < 6; attempt++ {
		wait := client.computeBackoff(attempt, 0)
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
		assert.LessOrEqual(t, wait, time.Second)
	}

	assert.Equal(t, 500*time.Millisecond, client.computeBackoff(0, 500*time.Millisecond))
	assert.Equal(t, time.Second, client.computeBackoff(0, time.Minute))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"Empty", "", 0},
		{"Seconds", "7", 7 * time.Second},
		{"HTTP date", now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{"Past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"Garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}

func TestTransportError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want bool
	}{
		{"Network error", &TransportError{Detail: "reset"}, true},
		{"Too many requests", &TransportError{StatusCode: http.StatusTooManyRequests}, true},
		{"Server error", &TransportError{StatusCode: http.StatusInternalServerError}, true},
		{"Bad request", &TransportError{StatusCode: http.StatusBadRequest}, false},
		{"Permanent", &TransportError{permanent: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}
