package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/learning-stats/internal/recordstore"
	"github.com/google/uuid"
)

const (
	fetchRecordQuery = `
		SELECT id, collection, published, published_version, updated_at
		FROM stats_records
		WHERE collection = $1 AND id = $2 AND published IS NOT NULL
	`

	queryRecordsQuery = `
		SELECT id, collection, published, published_version, updated_at
		FROM stats_records
		WHERE collection = $1 AND published IS NOT NULL AND published ->> $2 = $3
		ORDER BY id
	`

	createRecordQuery = `
		INSERT INTO stats_records (collection, id, draft, draft_version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, $4, $4)
		ON CONFLICT (collection, id) DO NOTHING
		RETURNING id
	`

	updateRecordQuery = `
		UPDATE stats_records
		SET draft = draft || $3::jsonb, draft_version = draft_version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2 AND ($5 = 0 OR draft_version = $5)
		RETURNING draft_version
	`

	recordExistsQuery = `
		SELECT EXISTS(SELECT 1 FROM stats_records WHERE collection = $1 AND id = $2)
	`

	publishRecordQuery = `
		UPDATE stats_records
		SET published = draft, published_version = draft_version, published_at = $3
		WHERE collection = $1 AND id = $2
	`
)

// RecordRepository is the PostgreSQL implementation of recordstore.Store.
// Drafts and published snapshots live side by side in one row.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// FetchByID retrieves the published snapshot of a record
func (r *RecordRepository) FetchByID(ctx context.Context, collection, id string) (*recordstore.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, fetchRecordQuery, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, recordstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch record %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// Query retrieves published records whose field equals value
func (r *RecordRepository) Query(ctx context.Context, collection, field, value string) ([]*recordstore.Record, error) {
	rows, err := r.db.QueryContext(ctx, queryRecordsQuery, collection, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query records in %s: %w", collection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*recordstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// Create inserts a new draft record
func (r *RecordRepository) Create(ctx context.Context, collection, id string, fields recordstore.Fields) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}

	payload, err := marshalFields(fields)
	if err != nil {
		return "", err
	}

	var created string
	err = r.db.QueryRowContext(ctx, createRecordQuery, collection, id, payload, time.Now().UTC()).Scan(&created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", recordstore.ErrDuplicate
		}
		return "", fmt.Errorf("failed to create record %s/%s: %w", collection, id, err)
	}
	return created, nil
}

// Update merges fields into the draft, optionally conditioned on ifVersion
func (r *RecordRepository) Update(ctx context.Context, collection, id string, fields recordstore.Fields, ifVersion int64) (int64, error) {
	payload, err := marshalFields(fields)
	if err != nil {
		return 0, err
	}

	var version int64
	err = r.db.QueryRowContext(ctx, updateRecordQuery, collection, id, payload, time.Now().UTC(), ifVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to update record %s/%s: %w", collection, id, err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, recordExistsQuery, collection, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check record %s/%s: %w", collection, id, err)
	}
	if !exists {
		return 0, recordstore.ErrNotFound
	}
	return 0, recordstore.ErrVersionConflict
}

// Publish copies the draft into the published snapshot
func (r *RecordRepository) Publish(ctx context.Context, collection, id string) error {
	result, err := r.db.ExecContext(ctx, publishRecordQuery, collection, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to publish record %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read publish result: %w", err)
	}
	if affected == 0 {
		return recordstore.ErrNotFound
	}
	return nil
}

// Ping verifies the database is reachable
func (r *RecordRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*recordstore.Record, error) {
	rec := &recordstore.Record{}
	var published []byte
	if err := row.Scan(&rec.ID, &rec.Collection, &published, &rec.Version, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Fields = recordstore.Fields{}
	if len(published) > 0 {
		if err := json.Unmarshal(published, &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
		}
	}
	return rec, nil
}

func marshalFields(fields recordstore.Fields) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record fields: %w", err)
	}
	return string(payload), nil
}

var _ recordstore.Store = (*RecordRepository)(nil)
