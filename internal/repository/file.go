package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sealbox/sealbox/internal/model"
)

var (
	ErrFileNotFound = errors.New("file not found")
)

type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	ByID(ctx context.Context, id string) (*model.File, error)
	All(ctx context.Context) ([]*model.File, error)
	UpdateStorage(ctx context.Context, id, storageKey, checksum string) error
	Delete(ctx context.Context, id string) error
}

type fileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *fileRepository {
	return &fileRepository{db: db}
}

// Create inserts file under a newly generated ID, which is written back to file.ID.
func (r *fileRepository) Create(ctx context.Context, file *model.File) error {
	id := uuid.NewString()
	query := `INSERT INTO files (id, name, content_type, size_bytes, storage_key, checksum, tags, ingested_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		id,
		file.Name,
		file.ContentType,
		file.SizeBytes,
		file.StorageKey,
		file.Checksum,
		file.Tags,
		file.IngestedAt,
	)
	if err != nil {
		return err
	}

	file.ID = id
	return nil
}

func (r *fileRepository) ByID(ctx context.Context, id string) (*model.File, error) {
	file := &model.File{}
	query := `SELECT id, name, content_type, size_bytes, storage_key, checksum, tags, ingested_at FROM files WHERE id = $1`

	err := r.db.GetContext(ctx, file, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

// All returns every file, newest first.
func (r *fileRepository) All(ctx context.Context) ([]*model.File, error) {
	var files []*model.File
	query := `SELECT id, name, content_type, size_bytes, storage_key, checksum, tags, ingested_at FROM files ORDER BY ingested_at DESC, id`

	err := r.db.SelectContext(ctx, &files, query)
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (r *fileRepository) UpdateStorage(ctx context.Context, id, storageKey, checksum string) error {
	query := `UPDATE files SET storage_key = $1, checksum = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, storageKey, checksum, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *fileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM files WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}
