package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/printqd/printqd/internal/analyzer"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// FileAnalyzer is the slice of the analyzer the core needs.
type FileAnalyzer interface {
	Analyze(path string) (*analyzer.FileAnalysis, error)
}

// Analysis runs the file analyzer for a job and persists the outcome:
// the allowed material and extruder-type tuples, per-extruder data
// rows, and the estimated duration and mass on both job and file.
type Analysis struct {
	store    *db.Store
	analyzer FileAnalyzer
	log      *logger.Logger
}

func NewAnalysis(store *db.Store, fa FileAnalyzer, log *logger.Logger) *Analysis {
	return &Analysis{store: store, analyzer: fa, log: log.With("component", "analysis")}
}

// AnalyzeJob analyzes the job's file. On analyzer failure the job
// keeps analyzed = false and the error is returned for the caller to
// surface.
func (a *Analysis) AnalyzeJob(ctx context.Context, jobID int64) (*db.Job, error) {
	job, err := a.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	file, err := a.store.Files.GetByID(ctx, job.FileID)
	if err != nil {
		return nil, err
	}

	fa, err := a.analyzer.Analyze(file.StoragePath)
	if err != nil {
		a.log.Warn("analysis failed", "job_id", jobID, "file_id", file.ID, "error", err)
		return nil, err
	}

	materials, err := a.store.Catalog.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	types, err := a.store.Catalog.ListExtruderTypes(ctx)
	if err != nil {
		return nil, err
	}

	var (
		allowedMaterials []*db.JobAllowedMaterial
		allowedExtruders []*db.JobAllowedExtruder
		extruderData     []*db.JobExtruderData
	)
	for _, train := range fa.Extruders {
		if !train.Enabled {
			continue
		}

		if train.MaterialType != "" {
			matched := false
			for _, m := range materials {
				if m.Type == train.MaterialType {
					allowedMaterials = append(allowedMaterials, &db.JobAllowedMaterial{
						JobID:         jobID,
						MaterialID:    m.ID,
						ExtruderIndex: train.Index,
					})
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("%w: unknown material type %q",
					analyzer.ErrInvalidFileData, train.MaterialType)
			}
		}

		if train.NozzleDiameter > 0 {
			matched := false
			for _, t := range types {
				if t.NozzleDiameter == train.NozzleDiameter {
					allowedExtruders = append(allowedExtruders, &db.JobAllowedExtruder{
						JobID:          jobID,
						ExtruderTypeID: t.ID,
						ExtruderIndex:  train.Index,
					})
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("%w: unknown nozzle diameter %v",
					analyzer.ErrInvalidFileData, train.NozzleDiameter)
			}
		}

		extruderData = append(extruderData, &db.JobExtruderData{
			JobID:                  jobID,
			ExtruderIndex:          train.Index,
			EstimatedMaterialGrams: train.EstimatedGrams(),
		})
	}

	rawMetadata, err := json.Marshal(fa)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize analysis: %w", err)
	}

	seconds := fa.PrintingSeconds
	err = a.store.WithTx(ctx, func(tx *db.Store) error {
		if err := tx.Jobs.ReplaceAnalysis(ctx, jobID, allowedMaterials, allowedExtruders, extruderData); err != nil {
			return err
		}
		if err := tx.Jobs.SetAnalyzed(ctx, jobID, true, &seconds); err != nil {
			return err
		}
		return tx.Files.UpdateAnalysis(ctx, file.ID, fa.PrintingSeconds, fa.TotalGrams(), string(rawMetadata))
	})
	if err != nil {
		return nil, err
	}

	job.Analyzed = true
	job.EstimatedPrintingSeconds = &seconds
	a.log.Info("job analyzed", "job_id", jobID,
		"printing_seconds", fa.PrintingSeconds, "material_grams", fa.TotalGrams())
	return job, nil
}
