package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, mr
}

func TestSaveLookupRevoke(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(24 * time.Hour)

	if err := rs.SaveRefreshSession(ctx, "hash-1", "usr_1", expires); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if user.ID != "usr_1" {
		t.Fatalf("expected usr_1, got %q", user.ID)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatal("expected error after revoke")
	}
}

func TestLookupMissingAndExpired(t *testing.T) {
	rs, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := rs.LookupRefreshSession(ctx, "never-saved"); err == nil {
		t.Fatal("expected error for unknown token")
	}

	if err := rs.SaveRefreshSession(ctx, "short", "usr_2", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := rs.LookupRefreshSession(ctx, "short"); err == nil {
		t.Fatal("expected error after TTL elapsed")
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	rs, _ := newTestStore(t)
	if err := rs.SaveRefreshSession(context.Background(), "late", "usr_3", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for already-expired session")
	}
}

func TestRevokeUnknownIsNoop(t *testing.T) {
	rs, _ := newTestStore(t)
	if err := rs.RevokeRefreshSession(context.Background(), "never-saved"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	for _, pair := range [][2]string{{"hash-a", "usr_a"}, {"hash-b", "usr_b"}} {
		if err := rs.SaveRefreshSession(ctx, pair[0], pair[1], expires); err != nil {
			t.Fatalf("SaveRefreshSession %s: %v", pair[0], err)
		}
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-a"); err == nil {
		t.Fatal("expected hash-a to be gone")
	}
	user, err := rs.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("LookupRefreshSession hash-b: %v", err)
	}
	if user.ID != "usr_b" {
		t.Fatalf("expected usr_b, got %q", user.ID)
	}
}
