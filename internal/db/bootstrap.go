package db

import (
	"context"
)

func strptr(s string) *string { return &s }

// Bootstrap seeds the static catalogs on an empty database. It is an
// explicit step invoked once at startup, not a side effect of schema
// creation. Idempotent: a database that already has printer states is
// left untouched.
func (s *Store) Bootstrap(ctx context.Context) error {
	count, err := s.Catalog.countPrinterStates(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return s.WithTx(ctx, func(tx *Store) error {
		states := []*PrinterState{
			{Name: "Offline", IsOperational: false},
			{Name: "Ready", IsOperational: true},
			{Name: "Printing", IsOperational: true},
			{Name: "Paused", IsOperational: true},
			{Name: "Print finished", IsOperational: true},
			{Name: "Busy", IsOperational: true},
			{Name: "Error", IsOperational: false},
			{Name: "Unknown", IsOperational: false},
		}
		for _, st := range states {
			if err := tx.Catalog.CreatePrinterState(ctx, st); err != nil {
				return err
			}
		}

		models := []*PrinterModel{
			{Name: "Sigma D25", Width: 420, Depth: 300, Height: 200},
			{Name: "Epsilon W27", Width: 420, Depth: 300, Height: 220},
			{Name: "Epsilon W50", Width: 420, Depth: 300, Height: 400},
		}
		for _, m := range models {
			if err := tx.Catalog.CreatePrinterModel(ctx, m); err != nil {
				return err
			}
		}

		types := []*ExtruderType{
			{Brand: "E3D", NozzleDiameter: 0.4},
			{Brand: "E3D", NozzleDiameter: 0.6},
			{Brand: "E3D", NozzleDiameter: 0.8},
			{Brand: "E3D", NozzleDiameter: 1.0},
		}
		for _, e := range types {
			if err := tx.Catalog.CreateExtruderType(ctx, e); err != nil {
				return err
			}
		}

		materials := []*Material{
			{Type: "PLA", PrintTemp: 205, BedTemp: 60},
			{Type: "PETG", PrintTemp: 235, BedTemp: 85},
			{Type: "ABS", PrintTemp: 245, BedTemp: 100},
			{Type: "TPU", PrintTemp: 225, BedTemp: 60},
			{Type: "PVA", Color: strptr("natural"), PrintTemp: 220, BedTemp: 60},
		}
		for _, m := range materials {
			if err := tx.Catalog.CreateMaterial(ctx, m); err != nil {
				return err
			}
		}

		return nil
	})
}
