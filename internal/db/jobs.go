package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type JobRepo struct {
	q dbtx
}

func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	j := &Job{}
	err := row.Scan(
		&j.ID, &j.State, &j.FileID, &j.UserID, &j.Name, &j.CanBePrinted,
		&j.PriorityIndex, &j.Retries, &j.Succeeded, &j.Interrupted, &j.Analyzed,
		&j.Progress, &j.EstimatedSecondsLeft, &j.EstimatedPrintingSeconds,
		&j.AssignedPrinterID, &j.StartedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *JobRepo) Create(ctx context.Context, j *Job) error {
	if j.State == "" {
		j.State = "Created"
	}
	result, err := r.q.ExecContext(ctx, insertJob, j.State, j.FileID, j.UserID, j.Name)
	if err != nil {
		return wrapErr("create job", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create job", err)
	}
	j.ID = id
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(r.q.QueryRowContext(ctx, getJobByID, id))
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

// List returns jobs matching the filter. Unknown filter fields cannot
// exist: the filter is a typed struct.
func (r *JobRepo) List(ctx context.Context, f JobFilter) ([]*Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ID != nil {
		where = append(where, "id = ?")
		args = append(args, *f.ID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.FileID != nil {
		where = append(where, "file_id = ?")
		args = append(args, *f.FileID)
	}
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.CanBePrinted != nil {
		where = append(where, "can_be_printed = ?")
		args = append(args, *f.CanBePrinted)
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OrderByPriority {
		query += " ORDER BY priority_index IS NULL, priority_index ASC, id ASC"
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr("scan job", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListNotDone returns every job not in the Done state.
func (r *JobRepo) ListNotDone(ctx context.Context, orderByPriority bool) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE state <> 'Done'"
	if orderByPriority {
		query += " ORDER BY priority_index IS NULL, priority_index ASC, id ASC"
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list not done jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr("scan job", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) Rename(ctx context.Context, id int64, name string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, updateJobName, name, updatedAt, id)
	return wrapErr("rename job", err)
}

func (r *JobRepo) SetState(ctx context.Context, id int64, state string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, updateJobState, state, updatedAt, id)
	return wrapErr("set job state", err)
}

func (r *JobRepo) SetPriorityIndex(ctx context.Context, id int64, priority *int, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, updateJobPriority, priority, updatedAt, id)
	return wrapErr("set job priority", err)
}

// ShiftPriorities adds delta to the priority_index of every Waiting
// job in the closed range [lo, hi]. Must run inside a transaction
// together with the moved job's update.
func (r *JobRepo) ShiftPriorities(ctx context.Context, lo, hi, delta int) error {
	_, err := r.q.ExecContext(ctx, shiftJobPriorities, delta, lo, hi)
	return wrapErr("shift job priorities", err)
}

func (r *JobRepo) priorityBound(ctx context.Context, query string) (int, bool, error) {
	var v sql.NullInt64
	if err := r.q.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return 0, false, wrapErr("query priority bound", err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

// MinPriority returns the smallest priority index among Waiting jobs;
// ok is false when the queue is empty.
func (r *JobRepo) MinPriority(ctx context.Context) (int, bool, error) {
	return r.priorityBound(ctx, minWaitingPriority)
}

func (r *JobRepo) MaxPriority(ctx context.Context) (int, bool, error) {
	return r.priorityBound(ctx, maxWaitingPriority)
}

func (r *JobRepo) SetCanBePrinted(ctx context.Context, id int64, canBePrinted bool) error {
	_, err := r.q.ExecContext(ctx, updateJobCanBePrinted, canBePrinted, id)
	return wrapErr("set job can_be_printed", err)
}

func (r *JobRepo) SetProgress(ctx context.Context, id int64, progress float64, estimatedSecondsLeft *float64) error {
	_, err := r.q.ExecContext(ctx, updateJobProgress, progress, estimatedSecondsLeft, id)
	return wrapErr("set job progress", err)
}

func (r *JobRepo) SetAssignedPrinter(ctx context.Context, id int64, printerID *int64, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, updateJobAssignedPrinter, printerID, updatedAt, id)
	return wrapErr("set job assigned printer", err)
}

func (r *JobRepo) SetStartedAt(ctx context.Context, id int64, startedAt *time.Time) error {
	_, err := r.q.ExecContext(ctx, updateJobStartedAt, startedAt, id)
	return wrapErr("set job started_at", err)
}

func (r *JobRepo) SetOutcome(ctx context.Context, id int64, succeeded *bool, interrupted bool) error {
	_, err := r.q.ExecContext(ctx, updateJobOutcome, succeeded, interrupted, id)
	return wrapErr("set job outcome", err)
}

func (r *JobRepo) IncrementRetries(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, incrementJobRetries, id)
	return wrapErr("increment job retries", err)
}

func (r *JobRepo) SetAnalyzed(ctx context.Context, id int64, analyzed bool, printingSeconds *float64) error {
	_, err := r.q.ExecContext(ctx, updateJobAnalyzed, analyzed, printingSeconds, id)
	return wrapErr("set job analyzed", err)
}

// FirstFeasibleWaiting returns the Waiting job with the smallest
// priority index whose can_be_printed flag is set, or ErrNotFound.
func (r *JobRepo) FirstFeasibleWaiting(ctx context.Context) (*Job, error) {
	j, err := scanJob(r.q.QueryRowContext(ctx, firstFeasibleWaitingJob))
	if err != nil {
		return nil, wrapErr("first feasible waiting job", err)
	}
	return j, nil
}

func (r *JobRepo) CountFeasibleWaiting(ctx context.Context) (int, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, countFeasibleWaitingJobs).Scan(&count); err != nil {
		return 0, wrapErr("count feasible waiting jobs", err)
	}
	return count, nil
}

func (r *JobRepo) CountByFile(ctx context.Context, fileID int64) (int, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, countJobsByFile, fileID).Scan(&count); err != nil {
		return 0, wrapErr("count jobs by file", err)
	}
	return count, nil
}

func (r *JobRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, deleteJob, id)
	if err != nil {
		return wrapErr("delete job", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete job", err)
	}
	if affected == 0 {
		return wrapErr("delete job", ErrNotFound)
	}
	return nil
}

// ReplaceAnalysis swaps the job's allowed-configuration and
// extruder-data rows for the given ones.
func (r *JobRepo) ReplaceAnalysis(ctx context.Context, jobID int64,
	materials []*JobAllowedMaterial, extruders []*JobAllowedExtruder, data []*JobExtruderData) error {

	for _, q := range []string{deleteJobAnalysisRows1, deleteJobAnalysisRows2, deleteJobAnalysisRows3} {
		if _, err := r.q.ExecContext(ctx, q, jobID); err != nil {
			return wrapErr("clear job analysis", err)
		}
	}
	for _, m := range materials {
		if _, err := r.q.ExecContext(ctx, insertJobAllowedMaterial, jobID, m.MaterialID, m.ExtruderIndex); err != nil {
			return wrapErr("insert job allowed material", err)
		}
	}
	for _, e := range extruders {
		if _, err := r.q.ExecContext(ctx, insertJobAllowedExtruder, jobID, e.ExtruderTypeID, e.ExtruderIndex); err != nil {
			return wrapErr("insert job allowed extruder", err)
		}
	}
	for _, d := range data {
		if _, err := r.q.ExecContext(ctx, insertJobExtruderData,
			jobID, d.ExtruderIndex, d.UsedMaterialID, d.UsedExtruderTypeID, d.EstimatedMaterialGrams); err != nil {
			return wrapErr("insert job extruder data", err)
		}
	}
	return nil
}

func (r *JobRepo) AllowedMaterials(ctx context.Context, jobID int64) ([]*JobAllowedMaterial, error) {
	rows, err := r.q.QueryContext(ctx, listJobAllowedMaterials, jobID)
	if err != nil {
		return nil, wrapErr("list job allowed materials", err)
	}
	defer rows.Close()

	var out []*JobAllowedMaterial
	for rows.Next() {
		m := &JobAllowedMaterial{}
		if err := rows.Scan(&m.ID, &m.JobID, &m.MaterialID, &m.ExtruderIndex); err != nil {
			return nil, wrapErr("scan job allowed material", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *JobRepo) AllowedExtruders(ctx context.Context, jobID int64) ([]*JobAllowedExtruder, error) {
	rows, err := r.q.QueryContext(ctx, listJobAllowedExtruders, jobID)
	if err != nil {
		return nil, wrapErr("list job allowed extruders", err)
	}
	defer rows.Close()

	var out []*JobAllowedExtruder
	for rows.Next() {
		e := &JobAllowedExtruder{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.ExtruderTypeID, &e.ExtruderIndex); err != nil {
			return nil, wrapErr("scan job allowed extruder", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *JobRepo) ExtruderData(ctx context.Context, jobID int64) ([]*JobExtruderData, error) {
	rows, err := r.q.QueryContext(ctx, listJobExtruderData, jobID)
	if err != nil {
		return nil, wrapErr("list job extruder data", err)
	}
	defer rows.Close()

	var out []*JobExtruderData
	for rows.Next() {
		d := &JobExtruderData{}
		if err := rows.Scan(&d.ID, &d.JobID, &d.ExtruderIndex,
			&d.UsedMaterialID, &d.UsedExtruderTypeID, &d.EstimatedMaterialGrams); err != nil {
			return nil, wrapErr("scan job extruder data", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
