package core

import (
	"context"

	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// Feasibility decides whether jobs can run on the current fleet
// configuration.
type Feasibility struct {
	log *logger.Logger
}

func NewFeasibility(log *logger.Logger) *Feasibility {
	return &Feasibility{log: log.With("component", "feasibility")}
}

// Usable reports whether a printer's current extruders satisfy the
// job's allowed configuration. For every extruder index the job
// declares, the printer must have an extruder there and, where the
// job restricts materials or extruder types at that index, the
// currently loaded one must be in the allowed set.
func Usable(allowedMaterials []*db.JobAllowedMaterial, allowedExtruders []*db.JobAllowedExtruder, extruders []*db.PrinterExtruder) bool {
	byIndex := make(map[int]*db.PrinterExtruder, len(extruders))
	for _, e := range extruders {
		byIndex[e.Index] = e
	}

	materialSets := make(map[int]map[int64]bool)
	for _, m := range allowedMaterials {
		set, ok := materialSets[m.ExtruderIndex]
		if !ok {
			set = make(map[int64]bool)
			materialSets[m.ExtruderIndex] = set
		}
		set[m.MaterialID] = true
	}

	typeSets := make(map[int]map[int64]bool)
	for _, e := range allowedExtruders {
		set, ok := typeSets[e.ExtruderIndex]
		if !ok {
			set = make(map[int64]bool)
			typeSets[e.ExtruderIndex] = set
		}
		set[e.ExtruderTypeID] = true
	}

	for idx, set := range materialSets {
		ext, ok := byIndex[idx]
		if !ok || ext.MaterialID == nil || !set[*ext.MaterialID] {
			return false
		}
	}
	for idx, set := range typeSets {
		ext, ok := byIndex[idx]
		if !ok || ext.ExtruderTypeID == nil || !set[*ext.ExtruderTypeID] {
			return false
		}
	}
	return true
}

// Evaluate computes can_be_printed for a job against every
// operational printer and returns the usable ones.
func (f *Feasibility) Evaluate(ctx context.Context, s *db.Store, job *db.Job) (bool, []*db.Printer, error) {
	allowedMaterials, err := s.Jobs.AllowedMaterials(ctx, job.ID)
	if err != nil {
		return false, nil, err
	}
	allowedExtruders, err := s.Jobs.AllowedExtruders(ctx, job.ID)
	if err != nil {
		return false, nil, err
	}

	printers, err := s.Printers.ListOperational(ctx)
	if err != nil {
		return false, nil, err
	}

	var usable []*db.Printer
	for _, p := range printers {
		extruders, err := s.Printers.Extruders(ctx, p.ID)
		if err != nil {
			return false, nil, err
		}
		if Usable(allowedMaterials, allowedExtruders, extruders) {
			p.Extruders = extruders
			usable = append(usable, p)
		}
	}
	return len(usable) > 0, usable, nil
}

// Refresh recomputes and persists can_be_printed for one job. Returns
// the new value.
func (f *Feasibility) Refresh(ctx context.Context, s *db.Store, job *db.Job) (bool, error) {
	can, _, err := f.Evaluate(ctx, s, job)
	if err != nil {
		return false, err
	}
	if err := s.Jobs.SetCanBePrinted(ctx, job.ID, can); err != nil {
		return false, err
	}
	job.CanBePrinted = &can
	return can, nil
}

// RefreshAllWaiting recomputes can_be_printed for every Waiting job.
// Called whenever a printer's extruder configuration changes or its
// state crosses the operational boundary.
func (f *Feasibility) RefreshAllWaiting(ctx context.Context, s *db.Store) error {
	jobs, err := s.Jobs.List(ctx, db.JobFilter{State: string(JobWaiting)})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		was := job.CanBePrinted
		can, err := f.Refresh(ctx, s, job)
		if err != nil {
			return err
		}
		if was == nil || *was != can {
			f.log.Debug("feasibility changed", "job_id", job.ID, "can_be_printed", can)
		}
	}
	return nil
}
