package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// edgeVerifyTask is one unit of work submitted to EdgeVerifierHelper: an
// unverified edge plus the correlation id used in its diagnostic logging.
type edgeVerifyTask struct {
	edge          Edge
	correlationID string
}

// EdgeVerifierHelper runs edge signature verification across a bounded
// worker pool, deduplicating in-flight (peer0, peer1) verifications so a
// burst of duplicate gossip for the same pair only pays the ed25519
// verification cost once. Verified edges are delivered on Verified(),
// grounded in the teacher's channel-fan-out Subscribe pattern.
type EdgeVerifierHelper struct {
	tasks    chan edgeVerifyTask
	verified chan Edge

	mu       sync.Mutex
	inFlight map[edgeKey]uint64 // pair -> nonce currently being verified

	workers int
}

// NewEdgeVerifierHelper returns an EdgeVerifierHelper with workers
// concurrent verification goroutines, reading from a task queue of the
// given capacity.
func NewEdgeVerifierHelper(workers, queueCapacity int) *EdgeVerifierHelper {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &EdgeVerifierHelper{
		tasks:    make(chan edgeVerifyTask, queueCapacity),
		verified: make(chan Edge, queueCapacity),
		inFlight: make(map[edgeKey]uint64),
		workers:  workers,
	}
}

// Verified returns the channel verified edges are delivered on. Callers
// should range over it until Run's context is cancelled and the channel
// closes.
func (h *EdgeVerifierHelper) Verified() <-chan Edge { return h.verified }

// Submit enqueues an edge for verification, skipping it if an equal-or-
// newer nonce for the same pair is already in flight. Returns false if the
// task was dropped as a duplicate or the queue is full.
func (h *EdgeVerifierHelper) Submit(e Edge) bool {
	key := edgeKeyOf(e)
	h.mu.Lock()
	if nonce, ok := h.inFlight[key]; ok && nonce >= e.Nonce() {
		h.mu.Unlock()
		return false
	}
	h.inFlight[key] = e.Nonce()
	h.mu.Unlock()

	task := edgeVerifyTask{edge: e, correlationID: uuid.NewString()}
	select {
	case h.tasks <- task:
		return true
	default:
		logrus.Warnf("verifier: task queue full, dropping edge %s/%s nonce=%d", task.correlationID, key, e.Nonce())
		h.mu.Lock()
		delete(h.inFlight, key)
		h.mu.Unlock()
		return false
	}
}

// Run drives the worker pool until ctx is cancelled, then closes the
// verified channel and returns. Intended to be launched once in its own
// goroutine per EdgeVerifierHelper instance.
func (h *EdgeVerifierHelper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < h.workers; i++ {
		g.Go(func() error {
			return h.worker(ctx)
		})
	}
	err := g.Wait()
	close(h.verified)
	return err
}

func (h *EdgeVerifierHelper) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task, ok := <-h.tasks:
			if !ok {
				return nil
			}
			h.handle(ctx, task)
		}
	}
}

func (h *EdgeVerifierHelper) handle(ctx context.Context, task edgeVerifyTask) {
	key := edgeKeyOf(task.edge)
	defer func() {
		h.mu.Lock()
		if h.inFlight[key] == task.edge.Nonce() {
			delete(h.inFlight, key)
		}
		h.mu.Unlock()
	}()

	if !task.edge.Verify() {
		logrus.Debugf("verifier: edge %s failed verification (corr=%s)", key, task.correlationID)
		return
	}
	select {
	case h.verified <- task.edge:
	case <-ctx.Done():
	}
}
