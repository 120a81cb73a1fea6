package db

import (
	"context"
)

type FileRepo struct {
	q dbtx
}

func (r *FileRepo) Create(ctx context.Context, f *File) error {
	result, err := r.q.ExecContext(ctx, insertFile,
		f.OwnerUserID, f.LogicalName, f.StoragePath, f.RawMetadata)
	if err != nil {
		return wrapErr("create file", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create file", err)
	}
	f.ID = id
	return nil
}

func (r *FileRepo) GetByID(ctx context.Context, id int64) (*File, error) {
	f := &File{}
	err := r.q.QueryRowContext(ctx, getFileByID, id).Scan(
		&f.ID, &f.OwnerUserID, &f.LogicalName, &f.StoragePath,
		&f.EstimatedPrintingSeconds, &f.EstimatedMaterialGrams,
		&f.RawMetadata, &f.CreatedAt)
	if err != nil {
		return nil, wrapErr("get file", err)
	}
	return f, nil
}

func (r *FileRepo) UpdateAnalysis(ctx context.Context, id int64, printingSeconds, materialGrams float64, rawMetadata string) error {
	_, err := r.q.ExecContext(ctx, updateFileAnalysis, printingSeconds, materialGrams, rawMetadata, id)
	return wrapErr("update file analysis", err)
}

func (r *FileRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, deleteFile, id)
	if err != nil {
		return wrapErr("delete file", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete file", err)
	}
	if affected == 0 {
		return wrapErr("delete file", ErrNotFound)
	}
	return nil
}
