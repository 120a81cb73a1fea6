package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func seedUser(t *testing.T, s *Store, username string) *User {
	t.Helper()
	u := &User{Username: username}
	require.NoError(t, s.Users.Create(context.Background(), u))
	return u
}

func seedFile(t *testing.T, s *Store, owner *User, name string) *File {
	t.Helper()
	f := &File{
		OwnerUserID: owner.ID,
		LogicalName: name + ".gcode",
		StoragePath: fmt.Sprintf("/tmp/%s.gcode", name),
	}
	require.NoError(t, s.Files.Create(context.Background(), f))
	return f
}

func seedJob(t *testing.T, s *Store, owner *User, file *File, name string) *Job {
	t.Helper()
	j := &Job{FileID: file.ID, UserID: owner.ID, Name: name}
	require.NoError(t, s.Jobs.Create(context.Background(), j))
	return j
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Bootstrap(ctx))

	states, err := s.Catalog.ListPrinterStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 8)

	ready, err := s.Catalog.PrinterStateByName(ctx, "Ready")
	require.NoError(t, err)
	assert.True(t, ready.IsOperational)

	offline, err := s.Catalog.PrinterStateByName(ctx, "Offline")
	require.NoError(t, err)
	assert.False(t, offline.IsOperational)
}

func TestGetByIDMissMapsToNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Jobs.GetByID(ctx, 12345)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Users.GetByID(ctx, 12345)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Printers.GetBySerial(ctx, "no-such-serial")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateJobNameMapsToUniqueConstraint(t *testing.T) {
	s := newTestStore(t)

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "part")
	seedJob(t, s, user, file, "part")

	dup := &Job{FileID: file.ID, UserID: user.ID, Name: "part"}
	err := s.Jobs.Create(context.Background(), dup)
	require.ErrorIs(t, err, ErrUniqueConstraint)
}

func TestDuplicateUsernameMapsToUniqueConstraint(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "alice")

	err := s.Users.Create(context.Background(), &User{Username: "alice"})
	require.ErrorIs(t, err, ErrUniqueConstraint)
}

func TestJobFilterFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	fileA := seedFile(t, s, alice, "a")
	fileB := seedFile(t, s, bob, "b")
	jobA := seedJob(t, s, alice, fileA, "a")
	seedJob(t, s, bob, fileB, "b")

	now := time.Now().UTC()
	require.NoError(t, s.Jobs.SetState(ctx, jobA.ID, "Waiting", now))

	byUser, err := s.Jobs.List(ctx, JobFilter{UserID: &bob.ID})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "b", byUser[0].Name)

	byState, err := s.Jobs.List(ctx, JobFilter{State: "Waiting"})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, jobA.ID, byState[0].ID)

	byName, err := s.Jobs.List(ctx, JobFilter{Name: "a"})
	require.NoError(t, err)
	require.Len(t, byName, 1)

	byFile, err := s.Jobs.List(ctx, JobFilter{FileID: &fileB.ID})
	require.NoError(t, err)
	require.Len(t, byFile, 1)

	byID, err := s.Jobs.List(ctx, JobFilter{ID: &jobA.ID})
	require.NoError(t, err)
	require.Len(t, byID, 1)

	none, err := s.Jobs.List(ctx, JobFilter{State: "Done"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOrderByPriorityPutsUnqueuedLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")
	first := seedJob(t, s, user, file, "first")
	second := seedJob(t, s, user, file, "second")
	unqueued := seedJob(t, s, user, file, "unqueued")

	now := time.Now().UTC()
	p1, p2 := 2, 1
	require.NoError(t, s.Jobs.SetPriorityIndex(ctx, first.ID, &p1, now))
	require.NoError(t, s.Jobs.SetPriorityIndex(ctx, second.ID, &p2, now))

	jobs, err := s.Jobs.List(ctx, JobFilter{OrderByPriority: true})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.Equal(t, unqueued.ID, jobs[2].ID)
}

func TestShiftPrioritiesMovesClosedRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")
	now := time.Now().UTC()

	ids := make([]int64, 0, 4)
	for i := 1; i <= 4; i++ {
		j := seedJob(t, s, user, file, fmt.Sprintf("j%d", i))
		require.NoError(t, s.Jobs.SetState(ctx, j.ID, "Waiting", now))
		p := i
		require.NoError(t, s.Jobs.SetPriorityIndex(ctx, j.ID, &p, now))
		ids = append(ids, j.ID)
	}

	require.NoError(t, s.Jobs.ShiftPriorities(ctx, 2, 3, +1))

	// j4 sits at 4 already and is outside [2,3], so it is untouched.
	wantByID := map[int64]int{ids[0]: 1, ids[1]: 3, ids[2]: 4, ids[3]: 4}
	for id, want := range wantByID {
		j, err := s.Jobs.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, j.PriorityIndex)
		assert.Equal(t, want, *j.PriorityIndex, "job %d", id)
	}
}

func TestMinMaxPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Jobs.MinPriority(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")
	now := time.Now().UTC()
	for i, p := range []int{3, 7} {
		j := seedJob(t, s, user, file, fmt.Sprintf("j%d", i))
		require.NoError(t, s.Jobs.SetState(ctx, j.ID, "Waiting", now))
		pp := p
		require.NoError(t, s.Jobs.SetPriorityIndex(ctx, j.ID, &pp, now))
	}

	min, ok, err := s.Jobs.MinPriority(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, min)

	max, ok, err := s.Jobs.MaxPriority(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, max)
}

func TestReplaceExtrudersUpsertsAndTrims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	models, err := s.Catalog.ListPrinterModels(ctx)
	require.NoError(t, err)
	p := &Printer{ModelID: models[0].ID, Name: "p1", Serial: "s1", APIKeyDigest: "d1"}
	require.NoError(t, s.Printers.Create(ctx, p, "Ready", 2))

	extruders, err := s.Printers.Extruders(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, extruders, 2)

	materials, err := s.Catalog.ListMaterials(ctx)
	require.NoError(t, err)
	matID := materials[0].ID

	require.NoError(t, s.Printers.ReplaceExtruders(ctx, p.ID, []*PrinterExtruder{
		{PrinterID: p.ID, Index: 0, MaterialID: &matID},
	}))

	extruders, err = s.Printers.Extruders(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, extruders, 1)
	require.NotNil(t, extruders[0].MaterialID)
	assert.Equal(t, matID, *extruders[0].MaterialID)
}

func TestAddTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	models, err := s.Catalog.ListPrinterModels(ctx)
	require.NoError(t, err)
	p := &Printer{ModelID: models[0].ID, Name: "p1", Serial: "s1", APIKeyDigest: "d1"}
	require.NoError(t, s.Printers.Create(ctx, p, "Ready", 1))

	require.NoError(t, s.Printers.AddTotals(ctx, p.ID, true, 90*time.Second))
	require.NoError(t, s.Printers.AddTotals(ctx, p.ID, false, 30*time.Second))

	stored, err := s.Printers.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.TotalSuccessPrints)
	assert.EqualValues(t, 1, stored.TotalFailedPrints)
	assert.InDelta(t, 120, stored.TotalPrintingSeconds, 0.001)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")

	err := s.WithTx(ctx, func(tx *Store) error {
		if err := tx.Jobs.Create(ctx, &Job{FileID: file.ID, UserID: user.ID, Name: "doomed"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	jobs, err := s.Jobs.List(ctx, JobFilter{Name: "doomed"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDeletingUserCascadesToJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")
	job := seedJob(t, s, user, file, "j")

	require.NoError(t, s.Users.Delete(ctx, user.ID))

	_, err := s.Jobs.GetByID(ctx, job.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Files.GetByID(ctx, file.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceAnalysisSwapsRowFamilies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	file := seedFile(t, s, user, "f")
	job := seedJob(t, s, user, file, "j")

	materials, err := s.Catalog.ListMaterials(ctx)
	require.NoError(t, err)
	types, err := s.Catalog.ListExtruderTypes(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Jobs.ReplaceAnalysis(ctx, job.ID,
		[]*JobAllowedMaterial{{JobID: job.ID, MaterialID: materials[0].ID, ExtruderIndex: 0}},
		[]*JobAllowedExtruder{{JobID: job.ID, ExtruderTypeID: types[0].ID, ExtruderIndex: 0}},
		[]*JobExtruderData{{JobID: job.ID, ExtruderIndex: 0, EstimatedMaterialGrams: 5}},
	))

	require.NoError(t, s.Jobs.ReplaceAnalysis(ctx, job.ID,
		[]*JobAllowedMaterial{{JobID: job.ID, MaterialID: materials[1].ID, ExtruderIndex: 0}},
		nil,
		nil,
	))

	mats, err := s.Jobs.AllowedMaterials(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, mats, 1)
	assert.Equal(t, materials[1].ID, mats[0].MaterialID)

	exts, err := s.Jobs.AllowedExtruders(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, exts)

	data, err := s.Jobs.ExtruderData(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, data)
}
