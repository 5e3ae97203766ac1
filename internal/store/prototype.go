package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyPayload is returned when a JSON payload column would be empty.
	ErrEmptyPayload = errors.New("empty payload")
)

// Prototype is a trained reference hand stored in the database. Data holds
// the prototype encoded as JSON.
type Prototype struct {
	ID        string
	Name      string
	Data      json.RawMessage
	Samples   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PrototypeRepository provides CRUD operations for prototypes.
type PrototypeRepository struct {
	db *sql.DB
}

// Prototypes returns the prototype repository for this store.
func (s *Store) Prototypes() *PrototypeRepository {
	return &PrototypeRepository{db: s.db}
}

const prototypeColumns = `id, name, data, samples, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPrototype(row scanner) (*Prototype, error) {
	p := &Prototype{}
	var data string
	if err := row.Scan(&p.ID, &p.Name, &data, &p.Samples, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Data = json.RawMessage(data)
	return p, nil
}

// Create inserts a new prototype into the database.
func (r *PrototypeRepository) Create(p *Prototype) error {
	if len(p.Data) == 0 {
		return ErrEmptyPayload
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO prototypes (id, name, data, samples, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Data), p.Samples, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// CreateWithSamples inserts a new prototype together with its calibration
// samples in a single transaction. Nothing is stored if any insert fails.
func (r *PrototypeRepository) CreateWithSamples(p *Prototype, samples []json.RawMessage) error {
	if len(p.Data) == 0 {
		return ErrEmptyPayload
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		`INSERT INTO prototypes (id, name, data, samples, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Data), len(samples), now, now,
	); err != nil {
		return err
	}
	if err := insertSamples(tx, p.ID, samples); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	p.Samples = len(samples)
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetByID retrieves a prototype by its ID.
func (r *PrototypeRepository) GetByID(id string) (*Prototype, error) {
	p, err := scanPrototype(r.db.QueryRow(
		`SELECT `+prototypeColumns+` FROM prototypes WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetByName retrieves a prototype by its name.
func (r *PrototypeRepository) GetByName(name string) (*Prototype, error) {
	p, err := scanPrototype(r.db.QueryRow(
		`SELECT `+prototypeColumns+` FROM prototypes WHERE name = ?`, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// List retrieves all prototypes, newest first.
func (r *PrototypeRepository) List() ([]*Prototype, error) {
	rows, err := r.db.Query(
		`SELECT ` + prototypeColumns + ` FROM prototypes ORDER BY created_at DESC, name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prototypes []*Prototype
	for rows.Next() {
		p, err := scanPrototype(rows)
		if err != nil {
			return nil, err
		}
		prototypes = append(prototypes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return prototypes, nil
}

// Update replaces the name, data and sample count of an existing prototype.
func (r *PrototypeRepository) Update(p *Prototype) error {
	if len(p.Data) == 0 {
		return ErrEmptyPayload
	}
	p.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE prototypes SET name = ?, data = ?, samples = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, string(p.Data), p.Samples, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// Delete removes a prototype with its samples and reconstructions.
func (r *PrototypeRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM prototypes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
