package msgnode

import (
	"log"
	"sync"
	"time"

	"github.com/primcluster/mesh/envelope"
)

// maxRetryAttempts is the retry budget  (Open Question
// resolved: a fixed tuning constant, not exposed via config).
const maxRetryAttempts = 4

// DefaultAckTimeout is how long a tracked push waits for an application
// Ack before the first resend attempt (Open Question resolved: a fixed
// tuning constant, not exposed via config, same treatment as
// maxRetryAttempts).
const DefaultAckTimeout = 3 * time.Second

// RetryManager owns one connection pair's timeout-receiver:
// a send acknowledged by the transport but not matched by an
// application-level Ack within ackTimeout is re-injected up to
// maxRetryAttempts times, sharing budget per key across bursts.
type RetryManager struct {
	mu         sync.Mutex
	pending    map[uint64]*retryEntry
	ackTimeout time.Duration
	resend     func(*envelope.Message) error
}

type retryEntry struct {
	msg      *envelope.Message
	attempts int
	timer    *time.Timer
}

// NewRetryManager builds a manager that calls resend to re-inject a
// timed-out message.
func NewRetryManager(ackTimeout time.Duration, resend func(*envelope.Message) error) *RetryManager {
	return &RetryManager{
		pending:    make(map[uint64]*retryEntry),
		ackTimeout: ackTimeout,
		resend:     resend,
	}
}

// Track registers msg (keyed by its sequence number) for Ack tracking.
// Calling Track again for a key that is still pending restarts its ack
// timer but keeps its attempt count, so resends share one retry budget.
func (r *RetryManager) Track(msg *envelope.Message) {
	key := msg.Head().SeqNum
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &retryEntry{msg: msg}
	if existing, ok := r.pending[key]; ok {
		existing.timer.Stop()
		entry.attempts = existing.attempts
	}
	entry.timer = time.AfterFunc(r.ackTimeout, func() { r.onTimeout(key) })
	r.pending[key] = entry
}

// Ack cancels retry tracking for key, called when the application-level
// Ack for that sequence number arrives.
func (r *RetryManager) Ack(key uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.pending[key]; ok {
		entry.timer.Stop()
		delete(r.pending, key)
	}
}

func (r *RetryManager) onTimeout(key uint64) {
	r.mu.Lock()
	entry, ok := r.pending[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.attempts++
	if entry.attempts > maxRetryAttempts {
		delete(r.pending, key)
		r.mu.Unlock()
		log.Printf("msgnode: retry budget exhausted for seqnum %d, dropping from retry queue (still in durable log)", key)
		return
	}
	entry.timer = time.AfterFunc(r.ackTimeout, func() { r.onTimeout(key) })
	r.mu.Unlock()

	if err := r.resend(entry.msg); err != nil {
		log.Printf("msgnode: retry resend for seqnum %d failed: %v", key, err)
	}
}

// Pending reports how many sequence numbers currently await an Ack,
// exposed for tests and metrics.
func (r *RetryManager) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
