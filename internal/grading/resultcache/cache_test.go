package resultcache_test

import (
	"context"
	"testing"
	"time"

	"codegrade/internal/common/cache"
	"codegrade/internal/grading/model"
	"codegrade/internal/grading/resultcache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*resultcache.ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	rc, err := resultcache.New(redisCache, resultcache.Config{
		ResultTTL:    time.Hour,
		ClaimTTL:     time.Minute,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new result cache: %v", err)
	}
	return rc, mr
}

func sampleResult(fp string) *model.GradedResult {
	return &model.GradedResult{
		Fingerprint: fp,
		Verdict:     model.VerdictOK,
		Score:       100,
		PassedTests: 2,
		TotalTests:  2,
		Tests: []model.ExecutionResult{
			{TestOrdinal: 0, Verdict: model.VerdictOK, Stdout: "4", Weight: 1},
			{TestOrdinal: 1, Verdict: model.VerdictOK, Stdout: "9", Weight: 1},
		},
		GradedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestResultCachePutGetRoundTrip(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()

	if _, found, err := rc.Get(ctx, "fp1"); err != nil || found {
		t.Fatalf("expected clean miss, found=%v err=%v", found, err)
	}

	want := sampleResult("fp1")
	if err := rc.Put(ctx, "fp1", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := rc.Get(ctx, "fp1")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.Score != want.Score || got.Verdict != want.Verdict || len(got.Tests) != len(want.Tests) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
	if got.Tests[1].Stdout != "9" {
		t.Fatalf("test detail lost in round trip")
	}
}

func TestResultCacheCorruptEntryIsAMiss(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	mr.Set("grading:result:fpX", "not-zstd-data")
	if _, found, err := rc.Get(ctx, "fpX"); err != nil || found {
		t.Fatalf("corrupt entry should read as miss, found=%v err=%v", found, err)
	}
	if mr.Exists("grading:result:fpX") {
		t.Fatalf("corrupt entry should be deleted")
	}
}

func TestClaimSingleHolder(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()

	claim, acquired, err := rc.TryClaim(ctx, "fp1")
	if err != nil || !acquired {
		t.Fatalf("first claim should win: acquired=%v err=%v", acquired, err)
	}
	if _, acquired, _ := rc.TryClaim(ctx, "fp1"); acquired {
		t.Fatalf("second claim must be refused while held")
	}

	rc.Release(ctx, claim)
	if _, acquired, _ := rc.TryClaim(ctx, "fp1"); !acquired {
		t.Fatalf("claim should be available after release")
	}
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	claim, acquired, err := rc.TryClaim(ctx, "fp1")
	if err != nil || !acquired {
		t.Fatalf("claim failed: %v", err)
	}

	// Simulate expiry plus takeover by another worker.
	mr.FastForward(2 * time.Minute)
	other, acquired, err := rc.TryClaim(ctx, "fp1")
	if err != nil || !acquired {
		t.Fatalf("claim after expiry failed: %v", err)
	}

	// The stale holder's release must not free the new holder's claim.
	rc.Release(ctx, claim)
	if _, acquired, _ := rc.TryClaim(ctx, "fp1"); acquired {
		t.Fatalf("stale release freed a claim it no longer owned")
	}
	rc.Release(ctx, other)
}

func TestAwaitReturnsPublishedResult(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()

	claim, acquired, err := rc.TryClaim(ctx, "fp1")
	if err != nil || !acquired {
		t.Fatalf("claim failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = rc.Put(ctx, "fp1", sampleResult("fp1"))
		rc.Release(ctx, claim)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	result, obtained, err := rc.Await(waitCtx, "fp1")
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !obtained || result == nil || result.Verdict != model.VerdictOK {
		t.Fatalf("await should return the published result")
	}
}

func TestAwaitDetectsHolderFailure(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()

	claim, acquired, err := rc.TryClaim(ctx, "fp1")
	if err != nil || !acquired {
		t.Fatalf("claim failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		rc.Release(ctx, claim)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	result, obtained, err := rc.Await(waitCtx, "fp1")
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if obtained || result != nil {
		t.Fatalf("await should report no result when the holder gives up")
	}
}
