package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chattender/store"
	"github.com/onnwee/chattender/twitchapi"
)

// fakeIdentity scripts the identity service per access/refresh token value.
type fakeIdentity struct {
	validateCalls int32
	refreshCalls  int32

	validate func(accessToken string) (bool, error)
	refresh  func(refreshToken string) (*twitchapi.RefreshResult, error)
}

func (f *fakeIdentity) Validate(_ context.Context, accessToken string) (bool, error) {
	atomic.AddInt32(&f.validateCalls, 1)
	return f.validate(accessToken)
}

func (f *fakeIdentity) Refresh(_ context.Context, refreshToken string) (*twitchapi.RefreshResult, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	return f.refresh(refreshToken)
}

func mustSet(t *testing.T, s store.TokenStore, handle, access, refresh string) {
	t.Helper()
	if err := s.SetTokens(context.Background(), handle, access, refresh); err != nil {
		t.Fatalf("SetTokens(%s): %v", handle, err)
	}
}

func tokensOf(t *testing.T, s store.TokenStore, handle string) (string, string) {
	t.Helper()
	at, _, err := s.AccessToken(context.Background(), handle)
	if err != nil {
		t.Fatalf("AccessToken(%s): %v", handle, err)
	}
	rt, _, err := s.RefreshToken(context.Background(), handle)
	if err != nil {
		t.Fatalf("RefreshToken(%s): %v", handle, err)
	}
	return at, rt
}

func TestEmptyHandleSetIsNoOp(t *testing.T) {
	id := &fakeIdentity{
		validate: func(string) (bool, error) { t.Error("validate called"); return false, nil },
		refresh:  func(string) (*twitchapi.RefreshResult, error) { t.Error("refresh called"); return nil, nil },
	}
	NewValidator(id, store.NewMemory()).ValidateAndRefresh(context.Background(), nil)
}

func TestUnauthenticatedHandleIsSkipped(t *testing.T) {
	id := &fakeIdentity{
		validate: func(string) (bool, error) { t.Error("validate called for tokenless handle"); return false, nil },
		refresh:  func(string) (*twitchapi.RefreshResult, error) { return nil, nil },
	}
	NewValidator(id, store.NewMemory()).ValidateAndRefresh(context.Background(), []string{"fresh-streamer"})
}

func TestValidTokenIsIdempotent(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "streamer", "good-access", "good-refresh")
	id := &fakeIdentity{
		validate: func(at string) (bool, error) { return at == "good-access", nil },
		refresh:  func(string) (*twitchapi.RefreshResult, error) { t.Error("refresh called"); return nil, nil },
	}
	v := NewValidator(id, s)

	// Two consecutive cycles over an accepted token never hit refresh.
	v.ValidateAndRefresh(context.Background(), []string{"streamer"})
	v.ValidateAndRefresh(context.Background(), []string{"streamer"})

	if id.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", id.refreshCalls)
	}
	if id.validateCalls != 2 {
		t.Errorf("validate calls = %d, want 2", id.validateCalls)
	}
	at, rt := tokensOf(t, s, "streamer")
	if at != "good-access" || rt != "good-refresh" {
		t.Errorf("tokens changed: (%q, %q)", at, rt)
	}
}

func TestInvalidTokenIsRefreshed(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "streamer", "stale-access", "old-refresh")
	id := &fakeIdentity{
		validate: func(string) (bool, error) { return false, nil },
		refresh: func(rt string) (*twitchapi.RefreshResult, error) {
			if rt != "old-refresh" {
				t.Errorf("refresh called with %q, want old-refresh", rt)
			}
			return &twitchapi.RefreshResult{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
		},
	}
	NewValidator(id, s).ValidateAndRefresh(context.Background(), []string{"streamer"})

	at, rt := tokensOf(t, s, "streamer")
	if at != "new-access" || rt != "new-refresh" {
		t.Errorf("tokens = (%q, %q), want refreshed pair", at, rt)
	}
}

func TestMalformedGrantLeavesPairUntouched(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "streamer", "stale-access", "old-refresh")
	id := &fakeIdentity{
		validate: func(string) (bool, error) { return false, nil },
		refresh: func(string) (*twitchapi.RefreshResult, error) {
			return nil, twitchapi.ErrMalformedGrant
		},
	}
	NewValidator(id, s).ValidateAndRefresh(context.Background(), []string{"streamer"})

	at, rt := tokensOf(t, s, "streamer")
	if at != "stale-access" || rt != "old-refresh" {
		t.Errorf("tokens = (%q, %q), want untouched pair", at, rt)
	}
}

func TestTransportErrorDuringValidationSkips(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "streamer", "unknown-access", "old-refresh")
	id := &fakeIdentity{
		validate: func(string) (bool, error) { return false, errors.New("connection refused") },
		refresh:  func(string) (*twitchapi.RefreshResult, error) { t.Error("refresh called"); return nil, nil },
	}
	NewValidator(id, s).ValidateAndRefresh(context.Background(), []string{"streamer"})

	if id.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0 on transport error", id.refreshCalls)
	}
	at, rt := tokensOf(t, s, "streamer")
	if at != "unknown-access" || rt != "old-refresh" {
		t.Errorf("tokens = (%q, %q), want untouched pair", at, rt)
	}
}

// TestBatchIsolation runs principals A (valid), B (invalid, refresh ok) and
// C (invalid, malformed refresh) in one batch: A and C keep their pairs, B
// gets the new one, and the batch completes without panicking.
func TestBatchIsolation(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "a", "a-access", "a-refresh")
	mustSet(t, s, "b", "b-access", "b-refresh")
	mustSet(t, s, "c", "c-access", "c-refresh")

	id := &fakeIdentity{
		validate: func(at string) (bool, error) { return at == "a-access", nil },
		refresh: func(rt string) (*twitchapi.RefreshResult, error) {
			switch rt {
			case "b-refresh":
				return &twitchapi.RefreshResult{AccessToken: "b-access2", RefreshToken: "b-refresh2"}, nil
			default:
				return nil, twitchapi.ErrMalformedGrant
			}
		},
	}
	NewValidator(id, s).ValidateAndRefresh(context.Background(), []string{"a", "b", "c"})

	if at, rt := tokensOf(t, s, "a"); at != "a-access" || rt != "a-refresh" {
		t.Errorf("a = (%q, %q), want unchanged", at, rt)
	}
	if at, rt := tokensOf(t, s, "b"); at != "b-access2" || rt != "b-refresh2" {
		t.Errorf("b = (%q, %q), want refreshed", at, rt)
	}
	if at, rt := tokensOf(t, s, "c"); at != "c-access" || rt != "c-refresh" {
		t.Errorf("c = (%q, %q), want unchanged", at, rt)
	}
}

func TestStartCycleRunsImmediatelyAndOnTrigger(t *testing.T) {
	s := store.NewMemory()
	mustSet(t, s, "streamer", "good-access", "good-refresh")
	id := &fakeIdentity{
		validate: func(string) (bool, error) { return true, nil },
		refresh:  func(string) (*twitchapi.RefreshResult, error) { return nil, nil },
	}
	v := NewValidator(id, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.StartCycle(ctx, []string{"streamer"}, time.Hour)

	waitFor(t, func() bool { return atomic.LoadInt32(&id.validateCalls) >= 1 })

	v.Trigger()
	waitFor(t, func() bool { return atomic.LoadInt32(&id.validateCalls) >= 2 })
}

func TestTriggerNeverBlocks(t *testing.T) {
	v := NewValidator(&fakeIdentity{}, store.NewMemory())
	for i := 0; i < 10; i++ {
		v.Trigger()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
