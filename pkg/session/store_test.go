package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestStore(t *testing.T, b Backend) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), b)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreSetAndGet(t *testing.T) {
	b := NewMemoryBackend()
	s := newTestStore(t, b)
	ctx := context.Background()

	if s.IsAuthenticated() {
		t.Fatal("new store should not be authenticated")
	}

	if err := s.Set(ctx, Session{Username: "a", Token: "t1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.IsAuthenticated() {
		t.Fatal("expected authenticated after Set")
	}
	if got := s.Get(); got.Token != "t1" || got.Username != "a" {
		t.Fatalf("Get = %+v", got)
	}
	persisted, _ := b.Load(ctx)
	if persisted != (Session{Username: "a", Token: "t1"}) {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestStoreRejectsPartialSession(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	tests := []Session{
		{Username: "a"},
		{Token: "t"},
		{},
	}
	for _, sess := range tests {
		if err := s.Set(ctx, sess); !errors.Is(err, ErrPartialSession) {
			t.Errorf("Set(%+v) err = %v, want ErrPartialSession", sess, err)
		}
	}
	if s.Generation() != 0 {
		t.Errorf("generation changed on rejected Set")
	}
}

func TestNewStoreWipesPartialRecord(t *testing.T) {
	b := NewMemoryBackend()
	b.s = Session{Token: "dangling"}

	s := newTestStore(t, b)
	if s.IsAuthenticated() {
		t.Fatal("partial record must not authenticate")
	}
	if got, _ := b.Load(context.Background()); got != (Session{}) {
		t.Fatalf("partial record not wiped: %+v", got)
	}
}

func TestNewStoreRestoresSession(t *testing.T) {
	b := NewMemoryBackend()
	b.s = Session{Username: "a", Token: "t1"}

	s := newTestStore(t, b)
	if got := s.Get(); got.Token != "t1" {
		t.Fatalf("Get = %+v", got)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	_ = s.Set(ctx, Session{Username: "a", Token: "t1"})

	cleared, err := s.Clear(ctx)
	if err != nil || !cleared {
		t.Fatalf("first Clear = %v, %v", cleared, err)
	}
	gen := s.Generation()

	cleared, err = s.Clear(ctx)
	if err != nil || cleared {
		t.Fatalf("second Clear = %v, %v", cleared, err)
	}
	if s.Generation() != gen {
		t.Error("no-op clear changed the generation")
	}
}

func TestCompareAndClear(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	_ = s.Set(ctx, Session{Username: "a", Token: "new"})

	if cleared, _ := s.CompareAndClear(ctx, "old"); cleared {
		t.Fatal("stale token must not clear the current session")
	}
	if !s.IsAuthenticated() {
		t.Fatal("session lost")
	}
	if cleared, _ := s.CompareAndClear(ctx, "new"); !cleared {
		t.Fatal("matching token should clear")
	}
}

func TestCompareAndClearConcurrent(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	_ = s.Set(ctx, Session{Username: "a", Token: "t1"})
	gen := s.Generation()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.CompareAndClear(ctx, "t1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("cleared %d times, want 1", wins.Load())
	}
	if s.Generation() != gen+1 {
		t.Fatalf("generation = %d, want %d", s.Generation(), gen+1)
	}
}

type failingBackend struct {
	MemoryBackend
	failSave  bool
	failClear bool
}

func (f *failingBackend) Save(ctx context.Context, s Session) error {
	if f.failSave {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Save(ctx, s)
}

func (f *failingBackend) Clear(ctx context.Context) error {
	if f.failClear {
		return errors.New("disk gone")
	}
	return f.MemoryBackend.Clear(ctx)
}

func TestSetPersistFailureKeepsMemory(t *testing.T) {
	b := &failingBackend{}
	s := newTestStore(t, b)
	ctx := context.Background()

	b.failSave = true
	if err := s.Set(ctx, Session{Username: "a", Token: "t1"}); err == nil {
		t.Fatal("expected error")
	}
	if s.IsAuthenticated() {
		t.Fatal("memory updated although persistence failed")
	}
}

func TestClearPersistFailureStillClearsMemory(t *testing.T) {
	b := &failingBackend{}
	s := newTestStore(t, b)
	ctx := context.Background()
	_ = s.Set(ctx, Session{Username: "a", Token: "t1"})

	b.failClear = true
	cleared, err := s.Clear(ctx)
	if !cleared || err == nil {
		t.Fatalf("Clear = %v, %v", cleared, err)
	}
	if s.IsAuthenticated() {
		t.Fatal("in-memory session survived clear")
	}
}

func TestSubscribersNeverSeePartialSessions(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	ch, cancel := s.Subscribe()
	defer cancel()

	stop := make(chan struct{})
	done := make(chan struct{})
	var bad atomic.Int32
	check := func(sess Session) {
		if (sess.Username == "") != (sess.Token == "") {
			bad.Add(1)
		}
	}
	go func() {
		defer close(done)
		for {
			select {
			case sess := <-ch:
				check(sess)
			case <-stop:
				select {
				case sess := <-ch:
					check(sess)
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		_ = s.Set(ctx, Session{Username: "a", Token: "t"})
		_, _ = s.Clear(ctx)
	}
	close(stop)
	<-done
	if bad.Load() != 0 {
		t.Fatalf("observed %d partial sessions", bad.Load())
	}
}

func TestSubscribeLatestValue(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	ch, cancel := s.Subscribe()

	_ = s.Set(ctx, Session{Username: "a", Token: "t1"})
	_ = s.Set(ctx, Session{Username: "a", Token: "t2"})

	if got := <-ch; got.Token != "t2" {
		t.Fatalf("got %+v, want latest session", got)
	}

	cancel()
	_, _ = s.Clear(ctx)
	select {
	case got := <-ch:
		t.Fatalf("unsubscribed channel received %+v", got)
	default:
	}
}
