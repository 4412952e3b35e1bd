package intervene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"webpen/pkg/domain"
)

// item pairs an intervention with its broadcast handle. done is closed
// exactly once, on the transition out of Pending, so every waiter
// unblocks and observes the same terminal state.
type item struct {
	req  domain.Intervention
	done chan struct{}
}

// Registry tracks outstanding human-intervention requests. Requests are
// never deleted while the session lives; they stay queryable until Reset.
type Registry struct {
	mu    sync.Mutex
	order []*item
	byID  map[domain.InterventionID]*item
}

func New() *Registry {
	return &Registry{byID: make(map[domain.InterventionID]*item)}
}

// Create registers a new Pending request and returns it immediately.
func (r *Registry) Create(t domain.CaptchaType, message, url string) domain.Intervention {
	it := &item{
		req: domain.Intervention{
			ID:          domain.InterventionID(uuid.NewString()),
			CaptchaType: t,
			Message:     message,
			URL:         url,
			CreatedAt:   time.Now(),
			State:       domain.InterventionPending,
		},
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.order = append(r.order, it)
	r.byID[it.req.ID] = it
	r.mu.Unlock()
	return it.req
}

// Resolve stores the payload, transitions Pending -> Resolved and wakes
// every waiter.
func (r *Registry) Resolve(id domain.InterventionID, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: intervention %s", domain.ErrNotFound, id)
	}
	switch it.req.State {
	case domain.InterventionPending:
	case domain.InterventionResolved:
		return fmt.Errorf("%w: intervention %s", domain.ErrAlreadyResolved, id)
	default:
		return fmt.Errorf("%w: intervention %s is %s", domain.ErrInvalidState, id, it.req.State)
	}
	it.req.State = domain.InterventionResolved
	it.req.Resolution = payload
	close(it.done)
	return nil
}

// Wait blocks the calling invocation until the request resolves, the
// timeout elapses, or the request is cancelled. A timed-out wait is a
// per-waiter outcome: the request itself stays Pending for later waiters
// and resolvers.
func (r *Registry) Wait(ctx context.Context, id domain.InterventionID, timeout time.Duration) (string, error) {
	r.mu.Lock()
	it, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: intervention %s", domain.ErrNotFound, id)
	}
	done := it.done
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return r.outcome(it)
	case <-timer.C:
		// Resolution may have raced the timer; prefer the payload.
		select {
		case <-done:
			return r.outcome(it)
		default:
		}
		return "", fmt.Errorf("%w: intervention %s after %s", domain.ErrInterventionTimeout, id, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// outcome reads the terminal state off the waiter's own item: the
// registry map may have been reset by a relaunch while the wait slept.
func (r *Registry) outcome(it *item) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it.req.State == domain.InterventionResolved {
		return it.req.Resolution, nil
	}
	return "", fmt.Errorf("%w: intervention %s", domain.ErrInterventionCancelled, it.req.ID)
}

// Get returns a snapshot of one request.
func (r *Registry) Get(id domain.InterventionID) (domain.Intervention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.byID[id]
	if !ok {
		return domain.Intervention{}, fmt.Errorf("%w: intervention %s", domain.ErrNotFound, id)
	}
	return it.req, nil
}

// Pending returns all Pending requests, oldest first.
func (r *Registry) Pending() []domain.Intervention {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Intervention, 0, len(r.order))
	for _, it := range r.order {
		if it.req.State == domain.InterventionPending {
			out = append(out, it.req)
		}
	}
	return out
}

// CancelAll transitions every Pending request to Cancelled and unblocks
// all waiters. Called on session close and on collaborator crash.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.order {
		if it.req.State == domain.InterventionPending {
			it.req.State = domain.InterventionCancelled
			close(it.done)
		}
	}
}

// Reset drops all requests; used when a new session launches.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.order {
		if it.req.State == domain.InterventionPending {
			it.req.State = domain.InterventionCancelled
			close(it.done)
		}
	}
	r.order = nil
	r.byID = make(map[domain.InterventionID]*item)
}
