package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

type closeRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *closeRecorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *closeRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type mockComponent struct {
	name       string
	closeDelay time.Duration
	closeError error
	recorder   *closeRecorder
}

func (mc *mockComponent) Close() error {
	if mc.closeDelay > 0 {
		time.Sleep(mc.closeDelay)
	}
	mc.recorder.add(mc.name)
	return mc.closeError
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}
	if config.DrainTime != 10*time.Second {
		t.Errorf("Expected drain time 10s, got %v", config.DrainTime)
	}
	if config.Logger == nil {
		t.Error("Expected a logger")
	}
}

func TestManager_ClosesInReverseOrder(t *testing.T) {
	recorder := &closeRecorder{}
	m := NewManager(Config{Timeout: time.Second, DrainTime: 100 * time.Millisecond})

	m.Register("client", &mockComponent{name: "client", recorder: recorder})
	m.Register("publisher", &mockComponent{name: "publisher", recorder: recorder})
	m.Register("consumer", &mockComponent{name: "consumer", recorder: recorder})

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := recorder.names()
	want := []string{"consumer", "publisher", "client"}
	if len(got) != len(want) {
		t.Fatalf("closed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closed %v, want %v", got, want)
		}
	}
	if !m.IsShutdown() {
		t.Error("Expected IsShutdown to be true")
	}
}

func TestManager_ShutdownWithError(t *testing.T) {
	recorder := &closeRecorder{}
	m := NewManager(Config{Timeout: time.Second, DrainTime: 100 * time.Millisecond})
	boom := errors.New("close failed")

	m.Register("good", &mockComponent{name: "good", recorder: recorder})
	m.Register("bad", &mockComponent{name: "bad", recorder: recorder, closeError: boom})

	err := m.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Shutdown() error = %v, want %v", err, boom)
	}
	if len(recorder.names()) != 2 {
		t.Errorf("Expected every component to be closed, got %v", recorder.names())
	}
}

func TestManager_Timeout(t *testing.T) {
	recorder := &closeRecorder{}
	m := NewManager(Config{Timeout: 50 * time.Millisecond, DrainTime: 10 * time.Millisecond})

	m.Register("skipped", &mockComponent{name: "skipped", recorder: recorder})
	m.Register("slow", &mockComponent{name: "slow", recorder: recorder, closeDelay: 100 * time.Millisecond})

	err := m.Shutdown(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if names := recorder.names(); len(names) != 1 || names[0] != "slow" {
		t.Errorf("closed %v, want only the slow component", names)
	}
}

func TestManager_RegisterFuncReceivesDeadline(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second, DrainTime: 10 * time.Millisecond})

	var hasDeadline bool
	m.RegisterFunc("http", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !hasDeadline {
		t.Error("Expected the close function to receive a context with a deadline")
	}
}

func TestManager_OnceGuarantee(t *testing.T) {
	recorder := &closeRecorder{}
	m := NewManager(Config{Timeout: time.Second, DrainTime: 10 * time.Millisecond})
	m.Register("client", &mockComponent{name: "client", recorder: recorder, closeDelay: 20 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	if n := len(recorder.names()); n != 1 {
		t.Errorf("Expected a single close, got %d", n)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Expected Done to be closed")
	}
}

func TestManager_TrackWaitsForInFlightHandler(t *testing.T) {
	recorder := &closeRecorder{}
	m := NewManager(Config{Timeout: time.Second, DrainTime: time.Second})
	m.Register("consumer", &mockComponent{name: "consumer", recorder: recorder})

	started := make(chan struct{})
	release := make(chan struct{})
	handler := m.Track(func(ctx context.Context, d *rabbitmq.Delivery) error {
		close(started)
		<-release
		recorder.add("handler")
		return nil
	})

	go handler(context.Background(), &rabbitmq.Delivery{})
	<-started

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := handler(context.Background(), &rabbitmq.Delivery{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected new deliveries to be refused, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := recorder.names()
	if len(got) != 2 || got[0] != "handler" || got[1] != "consumer" {
		t.Errorf("Expected the handler to finish before the consumer closes, got %v", got)
	}
}

func TestInFlightTracker(t *testing.T) {
	tracker := NewInFlightTracker()

	if !tracker.Start() {
		t.Fatal("Expected Start to succeed on an open tracker")
	}
	tracker.Done()

	if err := tracker.CloseWithTimeout(100 * time.Millisecond); err != nil {
		t.Errorf("CloseWithTimeout() error = %v", err)
	}
	if !tracker.IsClosed() {
		t.Error("Expected tracker to be closed")
	}
	if tracker.Start() {
		t.Error("Expected Start to fail after close")
	}
}

func TestInFlightTracker_CloseWithTimeout(t *testing.T) {
	tracker := NewInFlightTracker()
	tracker.Start()
	defer tracker.Done()

	if err := tracker.CloseWithTimeout(20 * time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
