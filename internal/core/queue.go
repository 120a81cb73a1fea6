package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// Queue maintains the dense priority order of Waiting jobs. Lower
// priority_index means higher priority. All operations that read the
// min/max bounds or renumber run under the global queue lock, and all
// multi-row renumbering happens inside one transaction.
type Queue struct {
	mu    sync.Mutex
	store *db.Store
	feas  *Feasibility
	sm    *StateMachine
	clock Clock
	log   *logger.Logger
}

func NewQueue(store *db.Store, feas *Feasibility, sm *StateMachine, clock Clock, log *logger.Logger) *Queue {
	return &Queue{
		store: store,
		feas:  feas,
		sm:    sm,
		clock: clock,
		log:   log.With("component", "queue"),
	}
}

// Lock acquires the global queue lock. Lock ordering is queue lock
// first, printer lock second; never the reverse.
func (q *Queue) Lock()   { q.mu.Lock() }
func (q *Queue) Unlock() { q.mu.Unlock() }

// EnqueueTail transitions the job to Waiting at the back of the queue
// and computes its can_be_printed flag.
func (q *Queue) EnqueueTail(ctx context.Context, jobID int64) (*db.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueue(ctx, jobID, false)
}

// EnqueueHead transitions the job to Waiting at the front of the
// queue.
func (q *Queue) EnqueueHead(ctx context.Context, jobID int64) (*db.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueue(ctx, jobID, true)
}

func (q *Queue) enqueue(ctx context.Context, jobID int64, atHead bool) (*db.Job, error) {
	var out *db.Job
	err := q.store.WithTx(ctx, func(tx *db.Store) error {
		job, err := tx.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		j, err := q.enqueueTx(ctx, tx, job, atHead)
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.log.Info("job enqueued", "job_id", out.ID, "priority_index", *out.PriorityIndex)
	return out, nil
}

// enqueueTx performs the Waiting transition and priority assignment
// inside the caller's transaction. Caller holds the queue lock.
func (q *Queue) enqueueTx(ctx context.Context, tx *db.Store, job *db.Job, atHead bool) (*db.Job, error) {
	if JobState(job.State) == JobCreated && !job.Analyzed {
		return nil, fmt.Errorf("job %d: %w", job.ID, ErrNotAnalyzed)
	}

	if err := q.sm.Transition(ctx, tx, job, JobWaiting); err != nil {
		return nil, err
	}

	var priority int
	if atHead {
		min, ok, err := tx.Jobs.MinPriority(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			priority = min - 1
		} else {
			priority = 1
		}
	} else {
		max, ok, err := tx.Jobs.MaxPriority(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			priority = max + 1
		} else {
			priority = 1
		}
	}

	if err := tx.Jobs.SetPriorityIndex(ctx, job.ID, &priority, job.UpdatedAt); err != nil {
		return nil, err
	}
	job.PriorityIndex = &priority

	if _, err := q.feas.Refresh(ctx, tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ReorderAfter places the job immediately after the pivot in priority
// order. A nil pivot moves the job to the head. The renumbering of
// every shifted row and the moved job is committed atomically.
func (q *Queue) ReorderAfter(ctx context.Context, jobID int64, pivotID *int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.WithTx(ctx, func(tx *db.Store) error {
		job, err := tx.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if JobState(job.State) != JobWaiting || job.PriorityIndex == nil {
			return fmt.Errorf("%w: cannot reorder job %d in state %s", ErrInvalidTransition, job.ID, job.State)
		}

		now := q.clock.Now().UTC()

		if pivotID == nil {
			min, ok, err := tx.Jobs.MinPriority(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: queue is empty", ErrInvalidTransition)
			}
			head := min - 1
			return tx.Jobs.SetPriorityIndex(ctx, job.ID, &head, now)
		}

		if *pivotID == job.ID {
			return nil
		}

		pivot, err := tx.Jobs.GetByID(ctx, *pivotID)
		if err != nil {
			return err
		}
		if JobState(pivot.State) != JobWaiting || pivot.PriorityIndex == nil {
			return fmt.Errorf("%w: cannot pivot on job %d in state %s", ErrInvalidTransition, pivot.ID, pivot.State)
		}

		jp, pp := *job.PriorityIndex, *pivot.PriorityIndex
		switch {
		case pp < jp:
			// Job moves up: open interval (pp, jp) shifts down one
			// slot, job lands right after the pivot.
			if err := tx.Jobs.ShiftPriorities(ctx, pp+1, jp-1, +1); err != nil {
				return err
			}
			target := pp + 1
			return tx.Jobs.SetPriorityIndex(ctx, job.ID, &target, now)
		case pp > jp:
			// Job moves down: (jp, pp] shifts up one slot, job takes
			// the pivot's old index.
			if err := tx.Jobs.ShiftPriorities(ctx, jp+1, pp, -1); err != nil {
				return err
			}
			target := pp
			return tx.Jobs.SetPriorityIndex(ctx, job.ID, &target, now)
		default:
			return nil
		}
	})
}

// PeekFirstFeasible returns the highest-priority Waiting job with
// can_be_printed set, or nil when none exists.
func (q *Queue) PeekFirstFeasible(ctx context.Context) (*db.Job, error) {
	job, err := q.store.Jobs.FirstFeasibleWaiting(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// CountFeasible returns the number of Waiting jobs with
// can_be_printed set.
func (q *Queue) CountFeasible(ctx context.Context) (int, error) {
	return q.store.Jobs.CountFeasibleWaiting(ctx)
}
