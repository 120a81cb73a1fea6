package db

import (
	"context"
)

// CatalogRepo covers the static entities seeded once at bootstrap:
// printer models, printer states, extruder types and materials.
type CatalogRepo struct {
	q dbtx
}

func (r *CatalogRepo) CreatePrinterModel(ctx context.Context, m *PrinterModel) error {
	result, err := r.q.ExecContext(ctx, insertPrinterModel, m.Name, m.Width, m.Depth, m.Height)
	if err != nil {
		return wrapErr("create printer model", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create printer model", err)
	}
	m.ID = id
	return nil
}

func (r *CatalogRepo) CreatePrinterState(ctx context.Context, s *PrinterState) error {
	result, err := r.q.ExecContext(ctx, insertPrinterState, s.Name, s.IsOperational)
	if err != nil {
		return wrapErr("create printer state", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create printer state", err)
	}
	s.ID = id
	return nil
}

func (r *CatalogRepo) CreateExtruderType(ctx context.Context, e *ExtruderType) error {
	result, err := r.q.ExecContext(ctx, insertExtruderType, e.Brand, e.NozzleDiameter)
	if err != nil {
		return wrapErr("create extruder type", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create extruder type", err)
	}
	e.ID = id
	return nil
}

func (r *CatalogRepo) CreateMaterial(ctx context.Context, m *Material) error {
	result, err := r.q.ExecContext(ctx, insertMaterial,
		m.Type, m.Color, m.Brand, m.GUID, m.PrintTemp, m.BedTemp)
	if err != nil {
		return wrapErr("create material", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create material", err)
	}
	m.ID = id
	return nil
}

func (r *CatalogRepo) ListPrinterModels(ctx context.Context) ([]*PrinterModel, error) {
	rows, err := r.q.QueryContext(ctx, listPrinterModels)
	if err != nil {
		return nil, wrapErr("list printer models", err)
	}
	defer rows.Close()

	var models []*PrinterModel
	for rows.Next() {
		m := &PrinterModel{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Width, &m.Depth, &m.Height); err != nil {
			return nil, wrapErr("scan printer model", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (r *CatalogRepo) ListPrinterStates(ctx context.Context) ([]*PrinterState, error) {
	rows, err := r.q.QueryContext(ctx, listPrinterStates)
	if err != nil {
		return nil, wrapErr("list printer states", err)
	}
	defer rows.Close()

	var states []*PrinterState
	for rows.Next() {
		s := &PrinterState{}
		if err := rows.Scan(&s.ID, &s.Name, &s.IsOperational); err != nil {
			return nil, wrapErr("scan printer state", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *CatalogRepo) PrinterStateByName(ctx context.Context, name string) (*PrinterState, error) {
	s := &PrinterState{}
	err := r.q.QueryRowContext(ctx, getPrinterStateByName, name).Scan(&s.ID, &s.Name, &s.IsOperational)
	if err != nil {
		return nil, wrapErr("get printer state", err)
	}
	return s, nil
}

func (r *CatalogRepo) ListExtruderTypes(ctx context.Context) ([]*ExtruderType, error) {
	rows, err := r.q.QueryContext(ctx, listExtruderTypes)
	if err != nil {
		return nil, wrapErr("list extruder types", err)
	}
	defer rows.Close()

	var types []*ExtruderType
	for rows.Next() {
		e := &ExtruderType{}
		if err := rows.Scan(&e.ID, &e.Brand, &e.NozzleDiameter); err != nil {
			return nil, wrapErr("scan extruder type", err)
		}
		types = append(types, e)
	}
	return types, rows.Err()
}

func (r *CatalogRepo) ListMaterials(ctx context.Context) ([]*Material, error) {
	rows, err := r.q.QueryContext(ctx, listMaterials)
	if err != nil {
		return nil, wrapErr("list materials", err)
	}
	defer rows.Close()

	var materials []*Material
	for rows.Next() {
		m := &Material{}
		if err := rows.Scan(&m.ID, &m.Type, &m.Color, &m.Brand, &m.GUID, &m.PrintTemp, &m.BedTemp); err != nil {
			return nil, wrapErr("scan material", err)
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (r *CatalogRepo) countPrinterStates(ctx context.Context) (int, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, countPrinterStates).Scan(&count); err != nil {
		return 0, wrapErr("count printer states", err)
	}
	return count, nil
}
