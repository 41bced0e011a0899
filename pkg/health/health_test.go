package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string
	Checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	b := body{Checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			b.Status = v
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				b.Checks[name] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return b
}

func serve(fn http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLive_NoChecks(t *testing.T) {
	w := serve(New().LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w).Status)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New()
	h.Add(Liveness, "goroutines", time.Second, fail("too many"))
	c := h.list(Liveness)[0]

	runN(c, 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)

	runN(c, 1)
	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, map[string]string{"goroutines": "too many"}, b.Checks)
}

func TestReady_ManualFlag(t *testing.T) {
	h := New()
	h.Add(Readiness, "postgres", time.Second, pass)

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w).Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
}

func TestReady_OneCheckFailing(t *testing.T) {
	h := New()
	h.Add(Readiness, "postgres", time.Second, pass)
	h.Add(Readiness, "reconcile_backlog", time.Second, fail("backlog 12 exceeds 10"))
	h.SetReady(true)
	runN(h.list(Readiness)[1], defaultFailureThreshold)

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, map[string]string{"reconcile_backlog": "backlog 12 exceeds 10"}, b.Checks)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovers(t *testing.T) {
	var down bool
	h := New()
	h.Add(Liveness, "flaky", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	c := h.list(Liveness)[0]

	down = true
	runN(c, defaultFailureThreshold)
	_, failed := c.failure()
	require.True(t, failed)

	down = false
	runN(c, 1)
	_, failed = c.failure()
	assert.False(t, failed)
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.Add(Readiness, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := h.list(Readiness)[0]
	runN(c, defaultFailureThreshold)

	msg, failed := c.failure()
	require.True(t, failed)
	assert.Contains(t, msg, "deadline exceeded")
}

func TestRun_StopsWithContext(t *testing.T) {
	h := New()
	h.Add(Liveness, "goroutines", time.Second, GoroutineCountCheck(1_000_000))
	h.Add(Readiness, "postgres", time.Second, pass)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Millisecond) }()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "exceeds 0")
}

func TestBacklogCheck(t *testing.T) {
	n := 5
	check := BacklogCheck(10, func(context.Context) (int, error) { return n, nil })
	assert.NoError(t, check(context.Background()))

	n = 11
	assert.EqualError(t, check(context.Background()), "backlog 11 exceeds 10")

	broken := BacklogCheck(10, func(context.Context) (int, error) { return 0, errors.New("conn reset") })
	assert.ErrorContains(t, broken(context.Background()), "conn reset")
}
