package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/models"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 100

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emergencies (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			patient_name TEXT NOT NULL,
			emergency_type TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			address TEXT,
			distance_km REAL NOT NULL,
			status TEXT NOT NULL,
			idempotency_key TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_emergencies_status ON emergencies(status);
		CREATE INDEX IF NOT EXISTS idx_emergencies_created_at ON emergencies(created_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_emergencies_idempotency
			ON emergencies(patient_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Add(ctx context.Context, e *models.Emergency) error {
	query := `
		INSERT INTO emergencies (id, patient_id, patient_name, emergency_type, latitude, longitude,
			address, distance_km, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var key any
	if e.IdempotencyKey != "" {
		key = e.IdempotencyKey
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.PatientID,
		e.PatientName,
		e.EmergencyType,
		e.Latitude,
		e.Longitude,
		e.Address,
		e.DistanceKm,
		string(e.Status),
		key,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting emergency %s: %w", e.ID, err)
	}
	return nil
}

const selectColumns = `id, patient_id, patient_name, emergency_type, latitude, longitude,
	address, distance_km, status, idempotency_key, created_at, updated_at`

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Emergency, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM emergencies WHERE id = ?`, id)
	return scanOne(row)
}

func (s *SQLiteDB) GetByIdempotencyKey(ctx context.Context, patientID, key string) (*models.Emergency, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM emergencies WHERE patient_id = ? AND idempotency_key = ?`,
		patientID, key,
	)
	return scanOne(row)
}

func (s *SQLiteDB) List(ctx context.Context, opts Filter) ([]models.Emergency, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*opts.Status))
	}
	if opts.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, opts.PatientID)
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := `SELECT ` + selectColumns + ` FROM emergencies`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing emergencies: %w", err)
	}
	defer rows.Close()

	var result []models.Emergency
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing emergencies: %w", err)
	}
	return result, nil
}

func (s *SQLiteDB) UpdateStatus(ctx context.Context, id string, status models.EmergencyStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emergencies SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), at.UTC(), id, string(models.EmergencyStatusPending),
	)
	if err != nil {
		return fmt.Errorf("error updating emergency %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating emergency %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*models.Emergency, error) {
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scan(row scanner) (*models.Emergency, error) {
	var (
		e       models.Emergency
		status  string
		address sql.NullString
		key     sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.PatientName,
		&e.EmergencyType,
		&e.Latitude,
		&e.Longitude,
		&address,
		&e.DistanceKm,
		&status,
		&key,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning emergency: %w", err)
	}
	e.Address = address.String
	e.IdempotencyKey = key.String
	e.Status = models.EmergencyStatus(status)
	return &e, nil
}
