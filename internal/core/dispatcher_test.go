package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printqd/printqd/internal/db"
)

func TestEnqueueAssignsToIdleReadyPrinter(t *testing.T) {
	f := newFixture(t)

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)

	stored := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobWaiting), stored.State)
	require.NotNil(t, stored.AssignedPrinterID)
	assert.Equal(t, p.ID, *stored.AssignedPrinterID)

	printer := f.reloadPrinter(t, p.ID)
	require.NotNil(t, printer.CurrentJobID)
	assert.Equal(t, job.ID, *printer.CurrentJobID)

	assert.True(t, f.events.sentTo(p.ID, EventPrintJob))
}

func TestFullPrintLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)

	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))
	started := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobPrinting), started.State)
	assert.Nil(t, started.PriorityIndex)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, PrinterPrinting, f.reloadPrinter(t, p.ID).State)

	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))
	assert.Equal(t, string(JobFinished), f.reloadJob(t, job.ID).State)

	require.NoError(t, f.dispatcher.OnPrintFeedback(ctx, p.ID, job.ID, Feedback{
		Success:         true,
		PrintingSeconds: 1200,
	}))

	done := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobDone), done.State)
	require.NotNil(t, done.Succeeded)
	assert.True(t, *done.Succeeded)
	assert.Nil(t, done.AssignedPrinterID)

	printer := f.reloadPrinter(t, p.ID)
	assert.Nil(t, printer.CurrentJobID)
	assert.EqualValues(t, 1, printer.TotalSuccessPrints)
	assert.EqualValues(t, 0, printer.TotalFailedPrints)
	assert.InDelta(t, 1200, printer.TotalPrintingSeconds, 0.001)
}

func TestPrintStartedRequiresAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.seedJob(t, "loose")

	err := f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRepeatedPrintFinishedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))
	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))

	first := f.reloadJob(t, job.ID)
	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))
	second := f.reloadJob(t, job.ID)

	assert.Equal(t, string(JobFinished), second.State)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestFailedFeedbackWithRetryReenqueuesAtHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	other := f.enqueue(t, f.seedJob(t, "other").ID)
	_ = other

	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))
	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))

	head := true
	require.NoError(t, f.dispatcher.OnPrintFeedback(ctx, p.ID, job.ID, Feedback{
		Success:         false,
		MaxPriority:     &head,
		PrintingSeconds: 300,
	}))

	retried := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobWaiting), retried.State)
	assert.Equal(t, 1, retried.Retries)
	assert.Equal(t, []string{"bracket", "other"}, f.waitingOrder(t))

	printer := f.reloadPrinter(t, p.ID)
	assert.EqualValues(t, 1, printer.TotalFailedPrints)
	assert.InDelta(t, 300, printer.TotalPrintingSeconds, 0.001)
}

func TestFailedFeedbackWithoutRetryClosesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))
	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))

	require.NoError(t, f.dispatcher.OnPrintFeedback(ctx, p.ID, job.ID, Feedback{
		Success:         false,
		PrintingSeconds: 300,
	}))

	done := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobDone), done.State)
	require.NotNil(t, done.Succeeded)
	assert.False(t, *done.Succeeded)
}

func TestFeedbackFreesPrinterForNextJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "first").ID)
	next := f.enqueue(t, f.seedJob(t, "second").ID)

	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))
	require.NoError(t, f.dispatcher.OnPrintFinished(ctx, p.ID, job.ID, false))
	require.NoError(t, f.dispatcher.OnPrintFeedback(ctx, p.ID, job.ID, Feedback{
		Success:         true,
		PrintingSeconds: 60,
	}))

	printer := f.reloadPrinter(t, p.ID)
	require.NotNil(t, printer.CurrentJobID)
	assert.Equal(t, next.ID, *printer.CurrentJobID)
}

func TestPrinterGoingOfflineRecomputesFeasibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)

	require.NoError(t, f.dispatcher.OnPrinterStateChanged(ctx, p.ID, PrinterOffline))

	stored := f.reloadJob(t, job.ID)
	require.NotNil(t, stored.CanBePrinted)
	assert.False(t, *stored.CanBePrinted)
}

func TestExtruderChangeRecomputesFeasibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)

	// Swap to ABS: the job only allows PLA on extruder 0.
	absID := f.materialID(t, "ABS")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.dispatcher.OnPrinterExtrudersChanged(ctx, p.ID, []*db.PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &absID, ExtruderTypeID: &typeID},
	}))

	stored := f.reloadJob(t, job.ID)
	require.NotNil(t, stored.CanBePrinted)
	assert.False(t, *stored.CanBePrinted)
}

func TestReconnectResendsPrintJobForWaitingAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	_ = job

	f.events.mu.Lock()
	f.events.sends = nil
	f.events.mu.Unlock()

	matID := f.materialID(t, "PLA")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.dispatcher.OnPrinterInitialData(ctx, p.ID, PrinterReady, []*db.PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &matID, ExtruderTypeID: &typeID},
	}))

	assert.True(t, f.events.sentTo(p.ID, EventPrintJob))
}

func TestReconnectRecoversInterruptedPrint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))

	matID := f.materialID(t, "PLA")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.dispatcher.OnPrinterInitialData(ctx, p.ID, PrinterReady, []*db.PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &matID, ExtruderTypeID: &typeID},
	}))

	recovered := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobFinished), recovered.State)
	assert.True(t, recovered.Interrupted)
	assert.True(t, f.events.sentTo(p.ID, EventJobRecovered))
}

func TestReconnectWithPrintFinishedAwaitsFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	job := f.enqueue(t, f.seedJob(t, "bracket").ID)
	require.NoError(t, f.dispatcher.OnPrintStarted(ctx, p.ID, job.ID))

	matID := f.materialID(t, "PLA")
	typeID := f.extruderTypeID(t, 0.4)
	require.NoError(t, f.dispatcher.OnPrinterInitialData(ctx, p.ID, PrinterPrintFinished, []*db.PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &matID, ExtruderTypeID: &typeID},
	}))

	recovered := f.reloadJob(t, job.ID)
	assert.Equal(t, string(JobFinished), recovered.State)
	assert.False(t, recovered.Interrupted)
	assert.False(t, f.events.sentTo(p.ID, EventJobRecovered))
}

func TestRegisterSessionSupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")

	first, err := f.dispatcher.RegisterSession(ctx, p.ID)
	require.NoError(t, err)
	second, err := f.dispatcher.RegisterSession(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	f.events.mu.Lock()
	drops := append([]string(nil), f.events.drops...)
	f.events.mu.Unlock()
	assert.Contains(t, drops, first)

	ok, err := f.dispatcher.ValidSession(ctx, p.ID, first)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.dispatcher.ValidSession(ctx, p.ID, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCloseSessionIgnoresStaleKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	first, err := f.dispatcher.RegisterSession(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.dispatcher.RegisterSession(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.CloseSession(ctx, p.ID, first))
	assert.Equal(t, PrinterReady, f.reloadPrinter(t, p.ID).State)
}

func TestCloseSessionMarksPrinterOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	session, err := f.dispatcher.RegisterSession(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.CloseSession(ctx, p.ID, session))
	assert.Equal(t, PrinterOffline, f.reloadPrinter(t, p.ID).State)
}

func TestAssignManualRejectsBusyPrinter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.seedPrinter(t, "p1")
	f.enqueue(t, f.seedJob(t, "first").ID)
	second := f.enqueue(t, f.seedJob(t, "second").ID)

	err := f.dispatcher.AssignManual(ctx, second.ID, p.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
