// Package store persists lecture records in Postgres and lesson artifacts on
// disk.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mossy-p/liveclass/internal/models"
)

var ErrNotFound = errors.New("lecture not found")

const schema = `
CREATE TABLE IF NOT EXISTS lectures (
	id               BIGSERIAL PRIMARY KEY,
	class_id         TEXT        NOT NULL,
	storage_path     TEXT        NOT NULL,
	subject          TEXT        NOT NULL DEFAULT '',
	teacher          TEXT        NOT NULL DEFAULT '',
	is_live_recorded BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS lectures_class_id_idx ON lectures (class_id);
`

// Lectures records where each class's lesson artifacts are stored.
type Lectures struct {
	pool *pgxpool.Pool
}

// Connect opens a pool on databaseURL and checks it.
func Connect(ctx context.Context, databaseURL string) (*Lectures, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Lectures{pool: pool}, nil
}

func (l *Lectures) Close() {
	l.pool.Close()
}

// EnsureSchema creates the lectures table if it is missing.
func (l *Lectures) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create inserts lecture and fills in its ID and creation time.
func (l *Lectures) Create(ctx context.Context, lecture *models.Lecture) error {
	row := l.pool.QueryRow(ctx,
		`INSERT INTO lectures (class_id, storage_path, subject, teacher, is_live_recorded)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		lecture.ClassID, lecture.StoragePath, lecture.Subject, lecture.Teacher, lecture.IsLiveRecorded)
	if err := row.Scan(&lecture.ID, &lecture.CreatedAt); err != nil {
		return fmt.Errorf("insert lecture: %w", err)
	}
	return nil
}

// ListByClass returns the lectures of a class, newest first.
func (l *Lectures) ListByClass(ctx context.Context, classID string) ([]models.Lecture, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, class_id, storage_path, subject, teacher, is_live_recorded, created_at
		 FROM lectures WHERE class_id = $1 ORDER BY created_at DESC, id DESC`, classID)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}

	lectures, err := pgx.CollectRows(rows, scanLecture)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	return lectures, nil
}

func (l *Lectures) Get(ctx context.Context, id int64) (models.Lecture, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, class_id, storage_path, subject, teacher, is_live_recorded, created_at
		 FROM lectures WHERE id = $1`, id)
	if err != nil {
		return models.Lecture{}, fmt.Errorf("get lecture: %w", err)
	}

	lecture, err := pgx.CollectExactlyOneRow(rows, scanLecture)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Lecture{}, ErrNotFound
	}
	if err != nil {
		return models.Lecture{}, fmt.Errorf("get lecture: %w", err)
	}
	return lecture, nil
}

func scanLecture(row pgx.CollectableRow) (models.Lecture, error) {
	var lecture models.Lecture
	err := row.Scan(&lecture.ID, &lecture.ClassID, &lecture.StoragePath, &lecture.Subject,
		&lecture.Teacher, &lecture.IsLiveRecorded, &lecture.CreatedAt)
	return lecture, err
}
