package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type sentEvent struct {
	PrinterID int64
	Event     string
	Payload   interface{}
}

type captureEvents struct {
	mu         sync.Mutex
	broadcasts []string
	sends      []sentEvent
	drops      []string
}

func (e *captureEvents) BroadcastClients(event string, _ interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcasts = append(e.broadcasts, event)
}

func (e *captureEvents) SendToPrinter(printerID int64, event string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, sentEvent{PrinterID: printerID, Event: event, Payload: payload})
}

func (e *captureEvents) DropPrinterSession(_ int64, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drops = append(e.drops, sessionID)
}

func (e *captureEvents) sentTo(printerID int64, event string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sends {
		if s.PrinterID == printerID && s.Event == event {
			return true
		}
	}
	return false
}

type fixture struct {
	store      *db.Store
	clock      *fakeClock
	events     *captureEvents
	sm         *StateMachine
	feas       *Feasibility
	queue      *Queue
	dispatcher *Dispatcher
	user       *db.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore(t)
	clock := newFakeClock()
	events := &captureEvents{}
	log := logger.NewNop()

	sm := NewStateMachine(clock)
	feas := NewFeasibility(log)
	queue := NewQueue(store, feas, sm, clock, log)
	dispatcher := NewDispatcher(store, queue, feas, sm, events, clock, log)

	user := &db.User{Username: "operator"}
	require.NoError(t, store.Users.Create(context.Background(), user))

	return &fixture{
		store:      store,
		clock:      clock,
		events:     events,
		sm:         sm,
		feas:       feas,
		queue:      queue,
		dispatcher: dispatcher,
		user:       user,
	}
}

func (f *fixture) materialID(t *testing.T, materialType string) int64 {
	t.Helper()
	materials, err := f.store.Catalog.ListMaterials(context.Background())
	require.NoError(t, err)
	for _, m := range materials {
		if m.Type == materialType {
			return m.ID
		}
	}
	t.Fatalf("material %s not seeded", materialType)
	return 0
}

func (f *fixture) extruderTypeID(t *testing.T, nozzleDiameter float64) int64 {
	t.Helper()
	types, err := f.store.Catalog.ListExtruderTypes(context.Background())
	require.NoError(t, err)
	for _, e := range types {
		if e.NozzleDiameter == nozzleDiameter {
			return e.ID
		}
	}
	t.Fatalf("extruder type %v not seeded", nozzleDiameter)
	return 0
}

// seedPrinter creates a Ready printer with one extruder loaded with
// PLA and a 0.4 nozzle.
func (f *fixture) seedPrinter(t *testing.T, name string) *db.Printer {
	t.Helper()
	ctx := context.Background()

	models, err := f.store.Catalog.ListPrinterModels(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, models)

	p := &db.Printer{
		ModelID:      models[0].ID,
		Name:         name,
		Serial:       "serial-" + name,
		APIKeyDigest: "digest-" + name,
	}
	require.NoError(t, f.store.Printers.Create(ctx, p, PrinterReady, 1))

	matID := f.materialID(t, "PLA")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.store.Printers.ReplaceExtruders(ctx, p.ID, []*db.PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &matID, ExtruderTypeID: &typeID},
	}))
	return p
}

// seedJob creates an analyzed job allowing PLA and a 0.4 nozzle on
// extruder 0.
func (f *fixture) seedJob(t *testing.T, name string) *db.Job {
	t.Helper()
	ctx := context.Background()

	file := &db.File{
		OwnerUserID: f.user.ID,
		LogicalName: name + ".gcode",
		StoragePath: fmt.Sprintf("/tmp/%s.gcode", name),
	}
	require.NoError(t, f.store.Files.Create(ctx, file))

	job := &db.Job{State: string(JobCreated), FileID: file.ID, UserID: f.user.ID, Name: name}
	require.NoError(t, f.store.Jobs.Create(ctx, job))

	matID := f.materialID(t, "PLA")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.store.Jobs.ReplaceAnalysis(ctx, job.ID,
		[]*db.JobAllowedMaterial{{JobID: job.ID, MaterialID: matID, ExtruderIndex: 0}},
		[]*db.JobAllowedExtruder{{JobID: job.ID, ExtruderTypeID: typeID, ExtruderIndex: 0}},
		[]*db.JobExtruderData{{JobID: job.ID, ExtruderIndex: 0, EstimatedMaterialGrams: 12.5}},
	))
	seconds := 3600.0
	require.NoError(t, f.store.Jobs.SetAnalyzed(ctx, job.ID, true, &seconds))
	job.Analyzed = true
	return job
}

// enqueue pushes the job to the queue tail and runs the dispatcher
// hook, like the enqueue_job event does.
func (f *fixture) enqueue(t *testing.T, jobID int64) *db.Job {
	t.Helper()
	job, err := f.queue.EnqueueTail(context.Background(), jobID)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.OnJobEnqueued(context.Background(), job.ID))
	return job
}

func (f *fixture) reloadJob(t *testing.T, id int64) *db.Job {
	t.Helper()
	job, err := f.store.Jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) reloadPrinter(t *testing.T, id int64) *db.Printer {
	t.Helper()
	p, err := f.store.Printers.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

// waitingOrder returns the names of Waiting jobs in priority order.
func (f *fixture) waitingOrder(t *testing.T) []string {
	t.Helper()
	jobs, err := f.store.Jobs.List(context.Background(), db.JobFilter{
		State:           string(JobWaiting),
		OrderByPriority: true,
	})
	require.NoError(t, err)
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	return names
}
