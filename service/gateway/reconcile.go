package gateway

import (
	"sync"
	"time"
)

const reconcileTTL = 2 * time.Minute

// Reconciler maps the idempotency key of an in-flight message to the
// provisional id the sending client already rendered. When the
// canonical record comes back over the bus, the entry lets this
// gateway attach the provisional id so the client can swap the bubble
// in place instead of drawing a duplicate.
type Reconciler struct {
	mu    sync.Mutex
	m     map[string]reconEntry
	clock func() time.Time
}

type reconEntry struct {
	tempID   string
	expireAt time.Time
}

func NewReconciler(clock func() time.Time) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{m: make(map[string]reconEntry), clock: clock}
}

func (r *Reconciler) Put(idemKey, tempID string) {
	if idemKey == "" || tempID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[idemKey] = reconEntry{tempID: tempID, expireAt: r.clock().Add(reconcileTTL)}
	// Opportunistic sweep keeps the table bounded without a goroutine.
	if len(r.m) > 1024 {
		now := r.clock()
		for k, e := range r.m {
			if now.After(e.expireAt) {
				delete(r.m, k)
			}
		}
	}
}

// Resolve consumes the entry; each provisional id is reported once.
func (r *Reconciler) Resolve(idemKey string) (string, bool) {
	if idemKey == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[idemKey]
	if !ok {
		return "", false
	}
	delete(r.m, idemKey)
	if r.clock().After(e.expireAt) {
		return "", false
	}
	return e.tempID, true
}
