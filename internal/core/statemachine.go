package core

import (
	"context"
	"fmt"

	"github.com/printqd/printqd/internal/db"
)

var jobTransitions = map[JobState][]JobState{
	JobCreated:  {JobWaiting},
	JobWaiting:  {JobPrinting},
	JobPrinting: {JobFinished},
	JobFinished: {JobDone, JobWaiting},
	JobDone:     {JobWaiting},
}

// StateMachine enforces the legal job transitions:
//
//	Created -> Waiting -> Printing -> Finished -> Done
//	Finished -> Waiting (retry feedback)
//	Done -> Waiting (reprint)
type StateMachine struct {
	clock Clock
}

func NewStateMachine(clock Clock) *StateMachine {
	return &StateMachine{clock: clock}
}

func (m *StateMachine) CanTransition(from, to JobState) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the target state, stamping updated_at
// from the clock. The job struct is updated in place on success.
func (m *StateMachine) Transition(ctx context.Context, s *db.Store, job *db.Job, to JobState) error {
	from := JobState(job.State)
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for job %d", ErrInvalidTransition, from, to, job.ID)
	}

	now := m.clock.Now().UTC()
	if err := s.Jobs.SetState(ctx, job.ID, string(to), now); err != nil {
		return err
	}
	job.State = string(to)
	job.UpdatedAt = now
	return nil
}
