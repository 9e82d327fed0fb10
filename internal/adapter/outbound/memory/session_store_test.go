package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agent-door/agentdoor/internal/domain/session"
)

func TestSessionStore_CreateAndValidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	sess, err := store.Create(ctx, []string{"read:items", "write:items"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("Create() returned empty token")
	}

	got, err := store.Validate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "read:items" {
		t.Errorf("Capabilities = %v, want [read:items write:items]", got.Capabilities)
	}
}

func TestSessionStore_ValidateUnknownToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	_, err := store.Validate(ctx, "nonexistent")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Validate() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_ValidateExpiredTokenEvicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStoreWithConfig(time.Millisecond, time.Hour)
	defer store.Destroy()

	sess, err := store.Create(ctx, []string{"read:items"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := store.Validate(ctx, sess.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Validate() on expired token = %v, want ErrNotFound", err)
	}
	if store.Size() != 0 {
		t.Errorf("Size() after lazy eviction = %d, want 0", store.Size())
	}
}

func TestSessionStore_End(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	sess, err := store.Create(ctx, []string{"read:items"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.End(ctx, sess.Token); err != nil {
		t.Fatalf("End() error: %v", err)
	}

	if _, err := store.Validate(ctx, sess.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Validate() after End() = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_EndUnknownTokenIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	if err := store.End(ctx, "nonexistent"); err != nil {
		t.Errorf("End() on unknown token should not error, got %v", err)
	}
}

func TestSessionStore_CreateCopiesCapabilitiesSlice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	caps := []string{"read:items"}
	sess, err := store.Create(ctx, caps)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	caps[0] = "mutated"

	got, err := store.Validate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if got.Capabilities[0] != "read:items" {
		t.Error("Session stored a reference to the caller's slice instead of a copy")
	}
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	defer store.Destroy()

	tokens := make([]string, 10)
	for i := range tokens {
		sess, err := store.Create(ctx, []string{"read:items"})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		tokens[i] = sess.Token
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 300)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := store.Validate(ctx, tokens[idx%len(tokens)]); err != nil && !errors.Is(err, session.ErrNotFound) {
				errCh <- err
			}
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, []string{"read:items"}); err != nil {
				errCh <- err
			}
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := store.End(ctx, tokens[idx%len(tokens)]); err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}
}

func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	store := NewSessionStoreWithConfig(100*time.Millisecond, 50*time.Millisecond)
	defer store.Destroy()
	ctx := context.Background()

	sess, err := store.Create(ctx, []string{"read:items"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if store.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", store.Size())
	}

	time.Sleep(250 * time.Millisecond)

	if store.Size() != 0 {
		t.Errorf("Size() after background cleanup = %d, want 0", store.Size())
	}
	if _, err := store.Validate(ctx, sess.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Validate() after cleanup = %v, want ErrNotFound", err)
	}
}

func TestSessionStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSessionStoreWithConfig(time.Hour, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		sess, _ := store.Create(context.Background(), []string{"read:items"})
		_, _ = store.Validate(context.Background(), sess.Token)
	}

	time.Sleep(100 * time.Millisecond)

	store.Destroy()
}

func TestSessionStoreDestroyIdempotent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()

	store.Destroy()
	store.Destroy()
	store.Destroy()
}

func TestSessionStoreDestroyClearsEntries(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()

	if _, err := store.Create(context.Background(), []string{"read:items"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	store.Destroy()

	if got := store.Size(); got != 0 {
		t.Errorf("Size() after Destroy() = %d, want 0", got)
	}
}
