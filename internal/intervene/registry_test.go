package intervene

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpen/pkg/domain"
)

func TestCreateIsPendingAndQueryable(t *testing.T) {
	r := New()
	first := r.Create(domain.CaptchaRecaptchaV2, "solve me", "https://example.com/login")
	second := r.Create(domain.CaptchaHCaptcha, "puzzle", "")

	require.NotEmpty(t, first.ID)
	require.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.InterventionPending, first.State)

	pending := r.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID, "oldest first")
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestResolveUnblocksAllWaitersWithSamePayload(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaRecaptchaV2, "solve me", "")

	const waiters = 5
	results := make(chan string, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := r.Wait(context.Background(), req.ID, 5*time.Second)
			if err != nil {
				results <- "err:" + err.Error()
				return
			}
			results <- payload
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Resolve(req.ID, "token-abc"))
	wg.Wait()
	close(results)

	for got := range results {
		assert.Equal(t, "token-abc", got)
	}
	assert.Empty(t, r.Pending())
}

func TestResolveTwiceFails(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaTurnstile, "m", "")
	require.NoError(t, r.Resolve(req.ID, "ok"))

	err := r.Resolve(req.ID, "again")
	assert.True(t, errors.Is(err, domain.ErrAlreadyResolved))
}

func TestResolveUnknownFails(t *testing.T) {
	r := New()
	err := r.Resolve("nope", "x")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestResolveCancelledFailsInvalidState(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaUnknown, "m", "")
	r.CancelAll()

	err := r.Resolve(req.ID, "late")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestWaitTimeoutLeavesRequestPending(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaRecaptchaV2, "solve me", "")

	start := time.Now()
	_, err := r.Wait(context.Background(), req.ID, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.True(t, errors.Is(err, domain.ErrInterventionTimeout))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "never before the timeout")

	// Expiry is a per-waiter outcome: the request is still resolvable.
	require.Len(t, r.Pending(), 1)
	require.NoError(t, r.Resolve(req.ID, "late-but-fine"))
	assert.Empty(t, r.Pending())
}

func TestWaitOnAlreadyResolvedReturnsImmediately(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaTurnstile, "m", "")
	require.NoError(t, r.Resolve(req.ID, "done"))

	payload, err := r.Wait(context.Background(), req.ID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "done", payload)
}

func TestWaitUnknownID(t *testing.T) {
	r := New()
	_, err := r.Wait(context.Background(), "ghost", time.Second)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCancelAllUnblocksWaiters(t *testing.T) {
	r := New()
	a := r.Create(domain.CaptchaRecaptchaV2, "a", "")
	b := r.Create(domain.CaptchaHCaptcha, "b", "")

	errs := make(chan error, 2)
	for _, id := range []domain.InterventionID{a.ID, b.ID} {
		go func(id domain.InterventionID) {
			_, err := r.Wait(context.Background(), id, 5*time.Second)
			errs <- err
		}(id)
	}

	time.Sleep(20 * time.Millisecond)
	r.CancelAll()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.True(t, errors.Is(err, domain.ErrInterventionCancelled))
		case <-time.After(time.Second):
			t.Fatal("waiter did not unblock after cancellation")
		}
	}

	assert.Empty(t, r.Pending())
	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InterventionCancelled, got.State)
}

func TestResetUnblocksWaitersAsCancelled(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaTurnstile, "m", "")

	errs := make(chan error, 1)
	go func() {
		_, err := r.Wait(context.Background(), req.ID, 5*time.Second)
		errs <- err
	}()

	// Reset drops the registry out from under the waiter, as a relaunch
	// does; the waiter must still observe a clean cancellation.
	time.Sleep(20 * time.Millisecond)
	r.Reset()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, domain.ErrInterventionCancelled))
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock after reset")
	}
	assert.Empty(t, r.Pending())
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	r := New()
	req := r.Create(domain.CaptchaRecaptchaV2, "m", "")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Wait(ctx, req.ID, 5*time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}
