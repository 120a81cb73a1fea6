package db

import (
	"context"
	"time"
)

type PrinterRepo struct {
	q dbtx
}

func scanPrinter(row interface{ Scan(...interface{}) error }) (*Printer, error) {
	p := &Printer{}
	err := row.Scan(
		&p.ID, &p.ModelID, &p.ModelName, &p.StateID, &p.State, &p.IsOperational,
		&p.Name, &p.Serial, &p.IPAddress, &p.APIKeyDigest, &p.CurrentJobID, &p.SessionID,
		&p.TotalSuccessPrints, &p.TotalFailedPrints, &p.TotalPrintingSeconds,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a printer in the given state together with its
// extruder slots.
func (r *PrinterRepo) Create(ctx context.Context, p *Printer, state string, extruderCount int) error {
	result, err := r.q.ExecContext(ctx, insertPrinter,
		p.ModelID, state, p.Name, p.Serial, p.IPAddress, p.APIKeyDigest)
	if err != nil {
		return wrapErr("create printer", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create printer", err)
	}
	p.ID = id
	p.State = state

	for i := 0; i < extruderCount; i++ {
		if _, err := r.q.ExecContext(ctx, upsertPrinterExtruder, id, i, nil, nil); err != nil {
			return wrapErr("create printer extruder", err)
		}
	}
	return nil
}

func (r *PrinterRepo) GetByID(ctx context.Context, id int64) (*Printer, error) {
	p, err := scanPrinter(r.q.QueryRowContext(ctx, getPrinterByID, id))
	if err != nil {
		return nil, wrapErr("get printer", err)
	}
	return p, nil
}

func (r *PrinterRepo) GetBySerial(ctx context.Context, serial string) (*Printer, error) {
	p, err := scanPrinter(r.q.QueryRowContext(ctx, getPrinterBySerial, serial))
	if err != nil {
		return nil, wrapErr("get printer by serial", err)
	}
	return p, nil
}

func (r *PrinterRepo) GetByAPIKeyDigest(ctx context.Context, digest string) (*Printer, error) {
	p, err := scanPrinter(r.q.QueryRowContext(ctx, getPrinterByAPIKeyDigest, digest))
	if err != nil {
		return nil, wrapErr("get printer by api key", err)
	}
	return p, nil
}

func (r *PrinterRepo) list(ctx context.Context, query string) ([]*Printer, error) {
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list printers", err)
	}
	defer rows.Close()

	var printers []*Printer
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, wrapErr("scan printer", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (r *PrinterRepo) List(ctx context.Context) ([]*Printer, error) {
	return r.list(ctx, listPrinters)
}

// ListOperational returns printers whose current state has the
// is_operational flag set.
func (r *PrinterRepo) ListOperational(ctx context.Context) ([]*Printer, error) {
	return r.list(ctx, listOperationalPrinters)
}

func (r *PrinterRepo) SetState(ctx context.Context, id int64, state string) error {
	result, err := r.q.ExecContext(ctx, updatePrinterState, state, id)
	if err != nil {
		return wrapErr("set printer state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("set printer state", err)
	}
	if affected == 0 {
		return wrapErr("set printer state", ErrNotFound)
	}
	return nil
}

func (r *PrinterRepo) SetCurrentJob(ctx context.Context, id int64, jobID *int64) error {
	_, err := r.q.ExecContext(ctx, updatePrinterCurrentJob, jobID, id)
	return wrapErr("set printer current job", err)
}

func (r *PrinterRepo) SetSession(ctx context.Context, id int64, sessionID *string) error {
	_, err := r.q.ExecContext(ctx, updatePrinterSession, sessionID, id)
	return wrapErr("set printer session", err)
}

// AddTotals accumulates per-print outcome counters.
func (r *PrinterRepo) AddTotals(ctx context.Context, id int64, succeeded bool, printingTime time.Duration) error {
	success, failed := 0, 1
	if succeeded {
		success, failed = 1, 0
	}
	_, err := r.q.ExecContext(ctx, addPrinterTotals, success, failed, printingTime.Seconds(), id)
	return wrapErr("add printer totals", err)
}

func (r *PrinterRepo) Extruders(ctx context.Context, printerID int64) ([]*PrinterExtruder, error) {
	rows, err := r.q.QueryContext(ctx, listPrinterExtruders, printerID)
	if err != nil {
		return nil, wrapErr("list printer extruders", err)
	}
	defer rows.Close()

	var extruders []*PrinterExtruder
	for rows.Next() {
		e := &PrinterExtruder{}
		if err := rows.Scan(&e.ID, &e.PrinterID, &e.Index, &e.ExtruderTypeID, &e.MaterialID); err != nil {
			return nil, wrapErr("scan printer extruder", err)
		}
		extruders = append(extruders, e)
	}
	return extruders, rows.Err()
}

// ReplaceExtruders stores the full reported extruder configuration,
// removing slots past the reported count.
func (r *PrinterRepo) ReplaceExtruders(ctx context.Context, printerID int64, extruders []*PrinterExtruder) error {
	for _, e := range extruders {
		if _, err := r.q.ExecContext(ctx, upsertPrinterExtruder,
			printerID, e.Index, e.ExtruderTypeID, e.MaterialID); err != nil {
			return wrapErr("upsert printer extruder", err)
		}
	}
	if _, err := r.q.ExecContext(ctx, deletePrinterExtrudersFrom, printerID, len(extruders)); err != nil {
		return wrapErr("trim printer extruders", err)
	}
	return nil
}
