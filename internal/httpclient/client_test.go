package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestClient(url string, maxRetries int, rec *recorder, auth Authorizer) *Client {
	return New(Options{
		Provider:   "test",
		BaseURL:    url,
		Timeout:    time.Second,
		MaxRetries: maxRetries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		MaxJitter:  250 * time.Millisecond,
		Authorizer: auth,
		Sleep:      rec.sleep,
		Jitter:     func(time.Duration) time.Duration { return 0 },
	})
}

func TestDoRetriesTooManyRequestsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rec := &recorder{}
	c := newTestClient(srv.URL, 3, rec, nil)
	resp, err := c.Do(context.Background(), Request{Path: "/x"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d want=3", got)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 100*time.Millisecond || rec.delays[1] != 200*time.Millisecond {
		t.Fatalf("delays=%v want=[100ms 200ms]", rec.delays)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := newTestClient(srv.URL, 2, rec, nil)
	_, err := c.Do(context.Background(), Request{Path: "/x"})
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err=%v want RetryExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts=%d want=3", exhausted.Attempts)
	}
	if StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503", StatusOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d want=3", got)
	}
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := newTestClient(srv.URL, 3, rec, nil)
	if _, err := c.Do(context.Background(), Request{Path: "/x"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 7*time.Second {
		t.Fatalf("delays=%v want=[7s]", rec.delays)
	}
}

func TestDoFatalClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"title":"bad filter"}]}`))
	}))
	defer srv.Close()

	rec := &recorder{}
	c := newTestClient(srv.URL, 5, rec, nil)
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: map[string]any{"a": 1}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || !strings.Contains(apiErr.Body, "bad filter") {
		t.Fatalf("apiErr=%+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls=%d want=1", got)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("delays=%v want none", rec.delays)
	}
}

type stubAuth struct {
	token     atomic.Value
	refreshes int32
	fail      error
}

func (a *stubAuth) Authorize(context.Context) (string, error) {
	return "Bearer " + a.token.Load().(string), nil
}

func (a *stubAuth) Refresh(context.Context) error {
	atomic.AddInt32(&a.refreshes, 1)
	if a.fail != nil {
		return a.fail
	}
	a.token.Store("fresh")
	return nil
}

func TestDoRefreshesOnceOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	auth := &stubAuth{}
	auth.token.Store("stale")
	rec := &recorder{}
	c := newTestClient(srv.URL, 0, rec, auth)
	if _, err := c.Do(context.Background(), Request{Path: "/x"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if auth.refreshes != 1 {
		t.Fatalf("refreshes=%d want=1", auth.refreshes)
	}
}

func TestDoSecondUnauthorizedIsFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	auth := &stubAuth{}
	auth.token.Store("stale")
	c := newTestClient(srv.URL, 3, &recorder{}, auth)
	_, err := c.Do(context.Background(), Request{Path: "/x"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}
	if auth.refreshes != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("refreshes=%d calls=%d want=1,2", auth.refreshes, calls)
	}
}

func TestDoRefreshFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	revoked := errors.New("revoked")
	auth := &stubAuth{fail: revoked}
	auth.token.Store("stale")
	c := newTestClient(srv.URL, 3, &recorder{}, auth)
	_, err := c.Do(context.Background(), Request{Path: "/x"})
	if !errors.Is(err, revoked) {
		t.Fatalf("err=%v want revoked", err)
	}
}

func TestDoRetriesTransportErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatalf("hijack unsupported")
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := newTestClient(srv.URL, 2, rec, nil)
	if _, err := c.Do(context.Background(), Request{Path: "/x"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(rec.delays) != 1 {
		t.Fatalf("delays=%v want one retry", rec.delays)
	}
}

func TestBackoffBounds(t *testing.T) {
	base := time.Second
	max := 60 * time.Second
	for attempt := 0; attempt < 12; attempt++ {
		d := Backoff(base, max, attempt)
		if d < base || d > max {
			t.Fatalf("attempt=%d delay=%v out of [%v,%v]", attempt, d, base, max)
		}
	}
	if d := Backoff(base, 0, 3); d != 8*time.Second {
		t.Fatalf("uncapped=%v want=8s", d)
	}
	if d := Backoff(base, max, 10); d != max {
		t.Fatalf("capped=%v want=%v", d, max)
	}
}

func TestRandomJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := randomJitter(250 * time.Millisecond)
		if j < 0 || j > 250*time.Millisecond {
			t.Fatalf("jitter=%v", j)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if d := ParseRetryAfter("", now); d != -1 {
		t.Fatalf("empty=%v want=-1", d)
	}
	if d := ParseRetryAfter("3", now); d != 3*time.Second {
		t.Fatalf("seconds=%v want=3s", d)
	}
	date := now.Add(10 * time.Second).Format(http.TimeFormat)
	if d := ParseRetryAfter(date, now); d != 10*time.Second {
		t.Fatalf("date=%v want=10s", d)
	}
	if d := ParseRetryAfter("soon", now); d != -1 {
		t.Fatalf("garbage=%v want=-1", d)
	}
}

func TestParseRetryAfterRejectsNonFiniteAndCaps(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []string{"Inf", "+Inf", "-Inf", "NaN", "-1", "1e400"} {
		if d := ParseRetryAfter(v, now); d != -1 {
			t.Fatalf("%q=%v want=-1", v, d)
		}
	}
	for _, v := range []string{"86400", "1e18", now.Add(48 * time.Hour).Format(http.TimeFormat)} {
		if d := ParseRetryAfter(v, now); d != MaxRetryAfter {
			t.Fatalf("%q=%v want=%v", v, d, MaxRetryAfter)
		}
	}
	if d := ParseRetryAfter("0.5", now); d != 500*time.Millisecond {
		t.Fatalf("fraction=%v want=500ms", d)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	if !breakerSuccess(&APIError{Status: 404}) {
		t.Fatalf("404 should not trip the breaker")
	}
	if breakerSuccess(&APIError{Status: 502}) {
		t.Fatalf("502 should count against the breaker")
	}
	if breakerSuccess(&RetryExhaustedError{Attempts: 3, Err: &APIError{Status: 429}}) {
		t.Fatalf("exhausted 429 should count against the breaker")
	}
}
