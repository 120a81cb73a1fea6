package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// Inbound event names on the clients audience.
const (
	EventAnalyzeJob = "analyze_job"
	EventEnqueueJob = "enqueue_job"
)

// ClientIdentity is the authenticated user behind a client frame.
type ClientIdentity struct {
	UserID  int64
	IsAdmin bool
}

// ClientLogic translates inbound client frames into analysis and
// queue calls and replies with the matching _done or _error event.
type ClientLogic struct {
	store      *db.Store
	analysis   *core.Analysis
	queue      *core.Queue
	dispatcher *core.Dispatcher
	events     core.Events
	log        *logger.Logger
}

func NewClientLogic(store *db.Store, analysis *core.Analysis, queue *core.Queue, dispatcher *core.Dispatcher, events core.Events, log *logger.Logger) *ClientLogic {
	return &ClientLogic{
		store:      store,
		analysis:   analysis,
		queue:      queue,
		dispatcher: dispatcher,
		events:     events,
		log:        log.With("component", "client_logic"),
	}
}

// Handle processes one frame from an authenticated client and always
// returns a reply frame.
func (l *ClientLogic) Handle(ctx context.Context, ident ClientIdentity, frame InboundFrame) *Frame {
	switch frame.Event {
	case EventAnalyzeJob:
		return l.analyzeJob(ctx, ident, frame)
	case EventEnqueueJob:
		return l.enqueueJob(ctx, ident, frame)
	default:
		return &Frame{
			Event: frame.Event + "_error",
			Data:  errorReply{Message: fmt.Sprintf("Unknown event %q.", frame.Event)},
		}
	}
}

// ownJob loads the job and enforces that the caller owns it.
func (l *ClientLogic) ownJob(ctx context.Context, ident ClientIdentity, jobID int64) (*db.Job, error) {
	job, err := l.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ident.IsAdmin && job.UserID != ident.UserID {
		return nil, fmt.Errorf("job %d does not belong to the requesting user", jobID)
	}
	return job, nil
}

func (l *ClientLogic) analyzeJob(ctx context.Context, ident ClientIdentity, frame InboundFrame) *Frame {
	var data AnalyzeJob
	if err := decodeStrict(frame.Data, &data); err != nil {
		return analyzeError(err)
	}
	if err := data.Validate(); err != nil {
		return analyzeError(err)
	}
	if _, err := l.ownJob(ctx, ident, *data.JobID); err != nil {
		return analyzeError(err)
	}

	job, err := l.analysis.AnalyzeJob(ctx, *data.JobID)
	if err != nil {
		l.log.Warn("analyze_job failed", "job_id", *data.JobID, "error", err)
		return analyzeError(err)
	}

	l.events.BroadcastClients(core.EventJobsUpdated, nil)
	return &Frame{Event: core.EventJobAnalyzeDone, Data: job}
}

func (l *ClientLogic) enqueueJob(ctx context.Context, ident ClientIdentity, frame InboundFrame) *Frame {
	var data EnqueueJob
	if err := decodeStrict(frame.Data, &data); err != nil {
		return enqueueError(err)
	}
	if err := data.Validate(); err != nil {
		return enqueueError(err)
	}
	if _, err := l.ownJob(ctx, ident, *data.JobID); err != nil {
		return enqueueError(err)
	}

	job, err := l.queue.EnqueueTail(ctx, *data.JobID)
	if err != nil {
		l.log.Warn("enqueue_job failed", "job_id", *data.JobID, "error", err)
		return enqueueError(err)
	}

	if err := l.dispatcher.OnJobEnqueued(ctx, job.ID); err != nil {
		l.log.Error("post-enqueue assignment failed", "job_id", job.ID, "error", err)
	}

	l.events.BroadcastClients(core.EventJobsUpdated, nil)
	return &Frame{Event: core.EventJobEnqueueDone, Data: job}
}

func analyzeError(err error) *Frame {
	return errorFrame(core.EventJobAnalyzeError, err)
}

func enqueueError(err error) *Frame {
	return errorFrame(core.EventJobEnqueueError, err)
}

func errorFrame(event string, err error) *Frame {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &Frame{Event: event, Data: errorReply{Message: "Invalid event payload.", Errors: ve.Fields}}
	}
	return &Frame{Event: event, Data: errorReply{Message: err.Error()}}
}
