package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// Dispatcher keeps at most one job assigned to each operational
// printer, in priority order, consistent with feasibility. It is
// purely event-driven; the optional watchdog only heals missed
// wakeups.
//
// Locking discipline: the global queue lock is always taken before
// any per-printer lock, never the reverse.
type Dispatcher struct {
	store *db.Store
	queue *Queue
	feas  *Feasibility
	sm    *StateMachine
	bus   Events
	clock Clock
	log   *logger.Logger

	mu           sync.Mutex
	printerLocks map[int64]*sync.Mutex

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

func NewDispatcher(store *db.Store, queue *Queue, feas *Feasibility, sm *StateMachine, bus Events, clock Clock, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		queue:        queue,
		feas:         feas,
		sm:           sm,
		bus:          bus,
		clock:        clock,
		log:          log.With("component", "dispatcher"),
		printerLocks: make(map[int64]*sync.Mutex),
	}
}

func (d *Dispatcher) printerLock(printerID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lk, ok := d.printerLocks[printerID]
	if !ok {
		lk = &sync.Mutex{}
		d.printerLocks[printerID] = lk
	}
	return lk
}

// OnJobEnqueued reacts to a job becoming Waiting: when it is feasible
// and is the only feasible Waiting job, it is offered to the first
// idle usable printer.
func (d *Dispatcher) OnJobEnqueued(ctx context.Context, jobID int64) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	job, err := d.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.CanBePrinted == nil || !*job.CanBePrinted {
		return nil
	}
	count, err := d.store.Jobs.CountFeasibleWaiting(ctx)
	if err != nil {
		return err
	}
	if count != 1 {
		return nil
	}
	return d.tryAssignForJob(ctx, job)
}

// tryAssignForJob picks the first operational usable printer without a
// current job. Caller holds the queue lock.
func (d *Dispatcher) tryAssignForJob(ctx context.Context, job *db.Job) error {
	_, usable, err := d.feas.Evaluate(ctx, d.store, job)
	if err != nil {
		return err
	}
	for _, p := range usable {
		if p.CurrentJobID != nil {
			continue
		}
		lk := d.printerLock(p.ID)
		lk.Lock()
		err := d.assignNext(ctx, p.ID)
		lk.Unlock()
		return err
	}
	return nil
}

// TryAssign offers the highest-priority feasible usable job to the
// printer. Returns silently when the printer already has a job.
func (d *Dispatcher) TryAssign(ctx context.Context, printerID int64) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	return d.assignNext(ctx, printerID)
}

// assignNext does the actual assignment. Caller holds the queue lock
// and the printer lock.
func (d *Dispatcher) assignNext(ctx context.Context, printerID int64) error {
	var assigned *db.Job

	canBePrinted := true
	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		p, err := tx.Printers.GetByID(ctx, printerID)
		if err != nil {
			return err
		}
		if p.CurrentJobID != nil || !p.IsOperational {
			return nil
		}
		extruders, err := tx.Printers.Extruders(ctx, printerID)
		if err != nil {
			return err
		}

		jobs, err := tx.Jobs.List(ctx, db.JobFilter{
			State:           string(JobWaiting),
			CanBePrinted:    &canBePrinted,
			OrderByPriority: true,
		})
		if err != nil {
			return err
		}

		for _, job := range jobs {
			if job.AssignedPrinterID != nil {
				continue
			}
			allowedMaterials, err := tx.Jobs.AllowedMaterials(ctx, job.ID)
			if err != nil {
				return err
			}
			allowedExtruders, err := tx.Jobs.AllowedExtruders(ctx, job.ID)
			if err != nil {
				return err
			}
			if !Usable(allowedMaterials, allowedExtruders, extruders) {
				continue
			}

			now := d.clock.Now().UTC()
			if err := tx.Printers.SetCurrentJob(ctx, printerID, &job.ID); err != nil {
				return err
			}
			if err := tx.Jobs.SetAssignedPrinter(ctx, job.ID, &printerID, now); err != nil {
				return err
			}
			assigned = job
			return nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	if assigned != nil {
		d.log.Info("job assigned", "job_id", assigned.ID, "printer_id", printerID)
		d.bus.SendToPrinter(printerID, EventPrintJob, PrintJobPayload{
			ID:     assigned.ID,
			Name:   assigned.Name,
			FileID: assigned.FileID,
		})
		d.bus.BroadcastClients(EventJobsUpdated, nil)
	}
	return nil
}

// AssignManual is the admin override: it binds a Waiting job to an
// idle operational printer regardless of queue position.
func (d *Dispatcher) AssignManual(ctx context.Context, jobID, printerID int64) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	var job *db.Job
	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		var err error
		job, err = tx.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if JobState(job.State) != JobWaiting {
			return fmt.Errorf("%w: cannot assign job %d in state %s", ErrInvalidTransition, job.ID, job.State)
		}
		p, err := tx.Printers.GetByID(ctx, printerID)
		if err != nil {
			return err
		}
		if p.CurrentJobID != nil {
			return fmt.Errorf("%w: printer %d already has a job", ErrInvalidTransition, printerID)
		}
		if !p.IsOperational {
			return fmt.Errorf("%w: printer %d is not operational", ErrInvalidTransition, printerID)
		}
		now := d.clock.Now().UTC()
		if err := tx.Printers.SetCurrentJob(ctx, printerID, &job.ID); err != nil {
			return err
		}
		return tx.Jobs.SetAssignedPrinter(ctx, job.ID, &printerID, now)
	})
	if err != nil {
		return err
	}

	d.log.Info("job assigned manually", "job_id", jobID, "printer_id", printerID)
	d.bus.SendToPrinter(printerID, EventPrintJob, PrintJobPayload{
		ID:     job.ID,
		Name:   job.Name,
		FileID: job.FileID,
	})
	d.bus.BroadcastClients(EventJobsUpdated, nil)
	return nil
}

// OnPrinterStateChanged records a printer-reported state change,
// refreshes feasibility when the operational flag flips, and retries
// assignment when the printer becomes Ready and idle.
func (d *Dispatcher) OnPrinterStateChanged(ctx context.Context, printerID int64, newState string) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	return d.applyPrinterState(ctx, printerID, newState)
}

// applyPrinterState assumes both locks are held.
func (d *Dispatcher) applyPrinterState(ctx context.Context, printerID int64, newState string) error {
	if !KnownPrinterState(newState) {
		newState = PrinterUnknown
	}

	var crossed bool
	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		p, err := tx.Printers.GetByID(ctx, printerID)
		if err != nil {
			return err
		}
		target, err := tx.Catalog.PrinterStateByName(ctx, newState)
		if err != nil {
			return err
		}
		crossed = p.IsOperational != target.IsOperational
		if err := tx.Printers.SetState(ctx, printerID, newState); err != nil {
			return err
		}
		if crossed {
			return d.feas.RefreshAllWaiting(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Debug("printer state changed", "printer_id", printerID, "state", newState)
	d.bus.BroadcastClients(EventPrinterDataUpdated, nil)

	if newState == PrinterReady {
		p, err := d.store.Printers.GetByID(ctx, printerID)
		if err != nil {
			return err
		}
		if p.CurrentJobID == nil {
			return d.assignNext(ctx, printerID)
		}
	}
	return nil
}

// OnPrinterExtrudersChanged replaces the printer's reported extruder
// configuration and recomputes feasibility for the whole queue.
func (d *Dispatcher) OnPrinterExtrudersChanged(ctx context.Context, printerID int64, extruders []*db.PrinterExtruder) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	return d.applyExtruders(ctx, printerID, extruders)
}

// applyExtruders assumes both locks are held.
func (d *Dispatcher) applyExtruders(ctx context.Context, printerID int64, extruders []*db.PrinterExtruder) error {
	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		if err := tx.Printers.ReplaceExtruders(ctx, printerID, extruders); err != nil {
			return err
		}
		return d.feas.RefreshAllWaiting(ctx, tx)
	})
	if err != nil {
		return err
	}

	d.bus.BroadcastClients(EventPrinterDataUpdated, nil)

	p, err := d.store.Printers.GetByID(ctx, printerID)
	if err != nil {
		return err
	}
	if p.State == PrinterReady && p.CurrentJobID == nil {
		return d.assignNext(ctx, printerID)
	}
	return nil
}

// OnPrintStarted confirms that the printer picked up its assigned job
// and moves the job into Printing, clearing its queue position.
func (d *Dispatcher) OnPrintStarted(ctx context.Context, printerID, jobID int64) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		p, err := tx.Printers.GetByID(ctx, printerID)
		if err != nil {
			return err
		}
		if p.CurrentJobID == nil || *p.CurrentJobID != jobID {
			return fmt.Errorf("%w: job %d is not assigned to printer %d", ErrInvalidTransition, jobID, printerID)
		}
		job, err := tx.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.CanBePrinted == nil || !*job.CanBePrinted {
			return fmt.Errorf("%w: job %d is not feasible", ErrInvalidTransition, jobID)
		}
		if err := d.sm.Transition(ctx, tx, job, JobPrinting); err != nil {
			return err
		}
		if err := tx.Jobs.SetPriorityIndex(ctx, jobID, nil, job.UpdatedAt); err != nil {
			return err
		}
		started := d.clock.Now().UTC()
		if err := tx.Jobs.SetStartedAt(ctx, jobID, &started); err != nil {
			return err
		}
		return tx.Printers.SetState(ctx, printerID, PrinterPrinting)
	})
	if err != nil {
		return err
	}

	d.log.Info("print started", "job_id", jobID, "printer_id", printerID)
	d.bus.BroadcastClients(EventJobsUpdated, nil)
	d.bus.BroadcastClients(EventPrinterDataUpdated, nil)
	return nil
}

// OnPrintFinished moves the job from Printing to Finished. A repeated
// report for an already Finished job is a no-op.
func (d *Dispatcher) OnPrintFinished(ctx context.Context, printerID, jobID int64, cancelled bool) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	job, err := d.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if JobState(job.State) == JobFinished {
		return nil
	}

	err = d.store.WithTx(ctx, func(tx *db.Store) error {
		if err := d.sm.Transition(ctx, tx, job, JobFinished); err != nil {
			return err
		}
		if cancelled {
			return tx.Jobs.SetOutcome(ctx, jobID, nil, true)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Info("print finished", "job_id", jobID, "printer_id", printerID, "cancelled", cancelled)
	d.bus.BroadcastClients(EventJobsUpdated, nil)
	return nil
}

// OnPrintFeedback consumes the terminal report for a print. Success,
// or a failure without a retry request, closes the job as Done;
// otherwise the job is re-enqueued at the head or tail per
// max_priority. Printer totals are updated and the printer is freed
// for the next assignment either way.
func (d *Dispatcher) OnPrintFeedback(ctx context.Context, printerID, jobID int64, fb Feedback) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	printingTime := time.Duration(fb.PrintingSeconds * float64(time.Second))

	err := d.store.WithTx(ctx, func(tx *db.Store) error {
		job, err := tx.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}

		if fb.Success || fb.MaxPriority == nil {
			if err := d.sm.Transition(ctx, tx, job, JobDone); err != nil {
				return err
			}
			succeeded := fb.Success
			if err := tx.Jobs.SetOutcome(ctx, jobID, &succeeded, job.Interrupted); err != nil {
				return err
			}
		} else {
			if _, err := d.queue.enqueueTx(ctx, tx, job, *fb.MaxPriority); err != nil {
				return err
			}
			if err := tx.Jobs.IncrementRetries(ctx, jobID); err != nil {
				return err
			}
		}

		if err := tx.Jobs.SetAssignedPrinter(ctx, jobID, nil, job.UpdatedAt); err != nil {
			return err
		}
		if err := tx.Printers.AddTotals(ctx, printerID, fb.Success, printingTime); err != nil {
			return err
		}
		return tx.Printers.SetCurrentJob(ctx, printerID, nil)
	})
	if err != nil {
		return err
	}

	d.log.Info("print feedback", "job_id", jobID, "printer_id", printerID,
		"success", fb.Success, "printing_seconds", fb.PrintingSeconds)
	d.bus.BroadcastClients(EventJobsUpdated, nil)
	d.bus.BroadcastClients(EventPrinterDataUpdated, nil)

	return d.assignNext(ctx, printerID)
}

// OnJobProgress persists printer-reported progress and fans it out to
// clients.
func (d *Dispatcher) OnJobProgress(ctx context.Context, jobID int64, progress float64, estimatedSecondsLeft *float64) error {
	if err := d.store.Jobs.SetProgress(ctx, jobID, progress, estimatedSecondsLeft); err != nil {
		return err
	}
	d.bus.BroadcastClients(EventJobProgressUpdated, JobProgressPayload{
		ID:                   jobID,
		Progress:             progress,
		EstimatedSecondsLeft: estimatedSecondsLeft,
	})
	return nil
}

// OnPrinterInitialData handles a printer (re)connecting: recovery of
// the in-flight job per the reconnect contract, then the regular
// extruder and state bookkeeping.
func (d *Dispatcher) OnPrinterInitialData(ctx context.Context, printerID int64, newState string, extruders []*db.PrinterExtruder) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	p, err := d.store.Printers.GetByID(ctx, printerID)
	if err != nil {
		return err
	}

	if p.CurrentJobID != nil {
		if err := d.recoverCurrentJob(ctx, p, *p.CurrentJobID, newState); err != nil {
			return err
		}
	}

	if err := d.applyExtruders(ctx, printerID, extruders); err != nil {
		return err
	}
	return d.applyPrinterState(ctx, printerID, newState)
}

func (d *Dispatcher) recoverCurrentJob(ctx context.Context, p *db.Printer, jobID int64, newState string) error {
	job, err := d.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch {
	case JobState(job.State) == JobWaiting && newState == PrinterReady:
		// The print_job event never reached the printer; send it again.
		d.bus.SendToPrinter(p.ID, EventPrintJob, PrintJobPayload{
			ID:     job.ID,
			Name:   job.Name,
			FileID: job.FileID,
		})

	case JobState(job.State) == JobPrinting && newState != PrinterPrinting:
		interrupted := newState != PrinterPrintFinished
		err := d.store.WithTx(ctx, func(tx *db.Store) error {
			if err := d.sm.Transition(ctx, tx, job, JobFinished); err != nil {
				return err
			}
			if interrupted {
				return tx.Jobs.SetOutcome(ctx, job.ID, nil, true)
			}
			return nil
		})
		if err != nil {
			return err
		}
		d.log.Warn("recovered in-flight job", "job_id", job.ID, "printer_id", p.ID, "interrupted", interrupted)
		d.bus.BroadcastClients(EventJobProgressUpdated, JobProgressPayload{
			ID:                   job.ID,
			Progress:             job.Progress,
			EstimatedSecondsLeft: job.EstimatedSecondsLeft,
		})
		d.bus.BroadcastClients(EventJobsUpdated, nil)
		if interrupted {
			d.bus.SendToPrinter(p.ID, EventJobRecovered, JobRecoveredPayload{
				ID:          job.ID,
				Name:        job.Name,
				StartedAt:   job.StartedAt,
				Interrupted: true,
			})
		}

	case JobState(job.State) == JobFinished && newState == PrinterPrintFinished:
		// Nothing to do, feedback is on its way.
	}
	return nil
}

// RegisterSession issues a fresh session key for an authenticated
// printer. A previous session is superseded and the transport is told
// to drop it.
func (d *Dispatcher) RegisterSession(ctx context.Context, printerID int64) (string, error) {
	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	p, err := d.store.Printers.GetByID(ctx, printerID)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	if err := d.store.Printers.SetSession(ctx, printerID, &sessionID); err != nil {
		return "", err
	}
	if p.SessionID != nil {
		d.bus.DropPrinterSession(printerID, *p.SessionID)
		d.log.Info("printer session superseded", "printer_id", printerID)
	}
	return sessionID, nil
}

// CloseSession clears the session and marks the printer Offline,
// which refreshes the queue's feasibility. A stale disconnect from a
// superseded session is ignored.
func (d *Dispatcher) CloseSession(ctx context.Context, printerID int64, sessionID string) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	lk := d.printerLock(printerID)
	lk.Lock()
	defer lk.Unlock()

	p, err := d.store.Printers.GetByID(ctx, printerID)
	if err != nil {
		return err
	}
	if p.SessionID == nil || *p.SessionID != sessionID {
		return nil
	}
	if err := d.store.Printers.SetSession(ctx, printerID, nil); err != nil {
		return err
	}
	return d.applyPrinterState(ctx, printerID, PrinterOffline)
}

// ValidSession reports whether the key matches the printer's active
// session.
func (d *Dispatcher) ValidSession(ctx context.Context, printerID int64, sessionID string) (bool, error) {
	p, err := d.store.Printers.GetByID(ctx, printerID)
	if err != nil {
		return false, err
	}
	return p.SessionID != nil && *p.SessionID == sessionID, nil
}

// StartWatchdog periodically re-runs assignment on every Ready idle
// printer. Interval below a minute is rejected by config validation.
func (d *Dispatcher) StartWatchdog(interval time.Duration) {
	if interval <= 0 || d.watchdogStop != nil {
		return
	}
	d.watchdogStop = make(chan struct{})
	d.watchdogDone = make(chan struct{})

	go func() {
		defer close(d.watchdogDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.watchdogStop:
				return
			case <-ticker.C:
				d.healMissedWakeups()
			}
		}
	}()
}

func (d *Dispatcher) StopWatchdog() {
	if d.watchdogStop == nil {
		return
	}
	close(d.watchdogStop)
	<-d.watchdogDone
	d.watchdogStop = nil
	d.watchdogDone = nil
}

func (d *Dispatcher) healMissedWakeups() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	printers, err := d.store.Printers.ListOperational(ctx)
	if err != nil {
		d.log.Error("watchdog: failed to list printers", "error", err)
		return
	}
	for _, p := range printers {
		if p.State != PrinterReady || p.CurrentJobID != nil {
			continue
		}
		if err := d.TryAssign(ctx, p.ID); err != nil {
			d.log.Error("watchdog: try assign failed", "printer_id", p.ID, "error", err)
		}
	}
}
