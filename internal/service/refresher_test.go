package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-snapshot-service/internal/cache"
	"github.com/kjstillabower/weather-snapshot-service/internal/models"
)

type fetchResult struct {
	body json.RawMessage
	err  error
}

// mockFetcher returns queued results in order, repeating the last one.
type mockFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int32
	called  chan struct{}
	block   bool // if set, Fetch waits for ctx.Done()
}

func (m *mockFetcher) Fetch(ctx context.Context) (json.RawMessage, error) {
	n := atomic.AddInt32(&m.calls, 1)
	if m.called != nil {
		select {
		case m.called <- struct{}{}:
		default:
		}
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := int(n) - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i].body, m.results[i].err
}

type mockMirror struct {
	mu    sync.Mutex
	snaps []models.Snapshot
	err   error
}

func (m *mockMirror) Publish(ctx context.Context, snap models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return m.err
}

// TestRefresher_RunOnce_Success verifies that a successful fetch stores the payload and
// leaves error absent.
func TestRefresher_RunOnce_Success(t *testing.T) {
	store := cache.NewStore()
	fetcher := &mockFetcher{results: []fetchResult{{body: json.RawMessage(`{"temp":20}`)}}}
	r := NewRefresher(fetcher, store, nil, time.Minute, zap.NewNop())
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if !r.RunOnce(context.Background()) {
		t.Fatal("RunOnce() = false, want true")
	}

	snap := store.Snapshot()
	if string(snap.Result) != `{"temp":20}` {
		t.Errorf("Result = %s, want {\"temp\":20}", snap.Result)
	}
	if snap.Error != nil {
		t.Errorf("Error = %q, want nil", *snap.Error)
	}
	if snap.Timestamp == nil || !snap.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", snap.Timestamp, fixed)
	}
}

// TestRefresher_RunOnce_FailureKeepsPreviousResult verifies that exhausted retries record
// the last error while the previous result is retained.
func TestRefresher_RunOnce_FailureKeepsPreviousResult(t *testing.T) {
	store := cache.NewStore()
	fetcher := &mockFetcher{results: []fetchResult{
		{body: json.RawMessage(`{"temp":18}`)},
		{err: errors.New("upstream failure: HTTP 503")},
	}}
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewRefresher(fetcher, store, nil, time.Minute, zap.New(core))

	r.RunOnce(context.Background())
	r.RunOnce(context.Background())

	snap := store.Snapshot()
	if string(snap.Result) != `{"temp":18}` {
		t.Errorf("Result = %s, want previous result retained", snap.Result)
	}
	if snap.Error == nil || *snap.Error != "upstream failure: HTTP 503" {
		t.Errorf("Error = %v, want last failure message", snap.Error)
	}
	if n := logs.FilterMessage("refresh cycle complete").Len(); n != 1 {
		t.Errorf("success summaries logged = %d, want 1", n)
	}
	if n := logs.FilterMessage("refresh cycle failed").Len(); n != 1 {
		t.Errorf("failure summaries logged = %d, want 1", n)
	}
}

// TestRefresher_RunOnce_CanceledDoesNotWrite verifies that a fetch interrupted by shutdown
// leaves the Store untouched.
func TestRefresher_RunOnce_CanceledDoesNotWrite(t *testing.T) {
	store := cache.NewStore()
	fetcher := &mockFetcher{block: true}
	r := NewRefresher(fetcher, store, nil, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if r.RunOnce(ctx) {
		t.Error("RunOnce() = true after cancellation, want false")
	}
	if snap := store.Snapshot(); snap.Timestamp != nil {
		t.Errorf("Store written after cancellation: %+v", snap)
	}
}

// TestRefresher_RunOnce_PublishesToMirror verifies the snapshot is mirrored after each
// cycle and that mirror failures do not affect the Store.
func TestRefresher_RunOnce_PublishesToMirror(t *testing.T) {
	store := cache.NewStore()
	mirror := &mockMirror{err: errors.New("memcache: no servers configured or available")}
	fetcher := &mockFetcher{results: []fetchResult{{body: json.RawMessage(`{"temp":1}`)}}}
	r := NewRefresher(fetcher, store, mirror, time.Minute, nil)

	r.RunOnce(context.Background())

	if len(mirror.snaps) != 1 {
		t.Fatalf("mirror publishes = %d, want 1", len(mirror.snaps))
	}
	if string(mirror.snaps[0].Result) != `{"temp":1}` {
		t.Errorf("mirrored Result = %s", mirror.snaps[0].Result)
	}
	if string(store.Snapshot().Result) != `{"temp":1}` {
		t.Error("Store not updated when mirror fails")
	}
}

// TestRefresher_Run_CancelDuringSleep verifies that cancelling while the loop waits for the
// next interval ends Run promptly with a nil error and no error log.
func TestRefresher_Run_CancelDuringSleep(t *testing.T) {
	store := cache.NewStore()
	fetcher := &mockFetcher{
		results: []fetchResult{{body: json.RawMessage(`{}`)}},
		called:  make(chan struct{}, 1),
	}
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewRefresher(fetcher, store, nil, time.Hour, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-fetcher.called:
	case <-time.After(time.Second):
		t.Fatal("Run did not start a fetch")
	}
	// Wait until the first cycle has been written, so the loop is sleeping.
	deadline := time.Now().Add(time.Second)
	for store.Snapshot().Timestamp == nil {
		if time.Now().After(deadline) {
			t.Fatal("first cycle not recorded")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if logs.Len() != 0 {
		t.Errorf("error-level logs on cancellation: %v", logs.All())
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

// TestRefresher_Run_CancelDuringFetch verifies that Run returns nil when cancelled mid-fetch.
func TestRefresher_Run_CancelDuringFetch(t *testing.T) {
	fetcher := &mockFetcher{block: true, called: make(chan struct{}, 1)}
	r := NewRefresher(fetcher, cache.NewStore(), nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-fetcher.called
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestRefresher_Run_RepeatsOnInterval verifies that the loop fetches again after the interval.
func TestRefresher_Run_RepeatsOnInterval(t *testing.T) {
	fetcher := &mockFetcher{results: []fetchResult{{body: json.RawMessage(`{}`)}}}
	r := NewRefresher(fetcher, cache.NewStore(), nil, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fetcher.calls) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("fetch calls = %d after 2s, want >= 3", atomic.LoadInt32(&fetcher.calls))
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
