package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryRevocation_RevokeAndCheck(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	if err := s.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	revoked, err := s.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Errorf("expected jti-1 revoked, got %v, %v", revoked, err)
	}
	revoked, _ = s.IsRevoked(ctx, "jti-2")
	if revoked {
		t.Error("expected jti-2 not revoked")
	}
}

func TestMemoryRevocation_CleanupRemovesExpired(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	_ = s.Revoke(ctx, "old", now.Add(-time.Minute))
	_ = s.Revoke(ctx, "fresh", now.Add(time.Hour))
	s.cleanup(now)

	if s.Count() != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", s.Count())
	}
	if revoked, _ := s.IsRevoked(ctx, "old"); revoked {
		t.Error("expected expired entry to be dropped")
	}
}

func TestMemoryRevocation_ConcurrentAccess(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Revoke(ctx, string(rune('a'+i%26)), time.Now().Add(time.Hour))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = s.IsRevoked(ctx, string(rune('a'+i%26)))
		}(i)
	}
	wg.Wait()

	if s.Count() != 26 {
		t.Errorf("expected 26 distinct entries, got %d", s.Count())
	}
}

func TestMemoryRevocation_CloseTwice(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	s.Close()
	s.Close()
}

func TestRevocationTTL(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	if got := revocationTTL(now.Add(time.Hour), now); got != time.Hour {
		t.Errorf("expected 1h, got %s", got)
	}
	if got := revocationTTL(now.Add(-time.Hour), now); got > 0 {
		t.Errorf("expected non-positive ttl for expired token, got %s", got)
	}
	if got := revocationTTL(time.Time{}, now); got != 24*time.Hour {
		t.Errorf("expected 24h fallback, got %s", got)
	}
}
