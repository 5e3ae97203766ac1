package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NumJoints is the number of joint rows stored per reconstruction.
const NumJoints = 21

// Joint is one solved joint of a reconstruction.
type Joint struct {
	Index      int
	X, Y, Z    float64
	Converged  bool
	Objective  float64
	Diagnostic string
}

// Reconstruction is a solved frame. Rays holds the input ray directions
// encoded as JSON so that the frame can be solved again.
type Reconstruction struct {
	ID          string
	PrototypeID string
	Seed        uint64
	Converged   bool
	Score       float64
	Divergence  float64
	Rays        json.RawMessage
	CreatedAt   time.Time
	Joints      []Joint
}

// ReconstructionRepository stores reconstructions and their joints.
type ReconstructionRepository struct {
	db *sql.DB
}

// Reconstructions returns the reconstruction repository for this store.
func (s *Store) Reconstructions() *ReconstructionRepository {
	return &ReconstructionRepository{db: s.db}
}

// Create inserts a reconstruction and its 21 joints in a single transaction.
func (r *ReconstructionRepository) Create(rec *Reconstruction) error {
	if len(rec.Joints) != NumJoints {
		return fmt.Errorf("reconstruction has %d joints, expected %d", len(rec.Joints), NumJoints)
	}
	if len(rec.Rays) == 0 {
		return ErrEmptyPayload
	}
	rec.CreatedAt = time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO reconstructions (id, prototype_id, seed, converged, score, divergence, rays, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PrototypeID, int64(rec.Seed), boolToInt(rec.Converged), rec.Score, rec.Divergence, string(rec.Rays), rec.CreatedAt,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO reconstruction_joints (reconstruction_id, joint_index, x, y, z, converged, objective, diagnostic)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, j := range rec.Joints {
		if _, err := stmt.Exec(rec.ID, j.Index, j.X, j.Y, j.Z, boolToInt(j.Converged), j.Objective, j.Diagnostic); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const reconstructionColumns = `id, prototype_id, seed, converged, score, divergence, rays, created_at`

func scanReconstruction(row scanner) (*Reconstruction, error) {
	rec := &Reconstruction{}
	var (
		seed      int64
		converged int
		rays      string
	)
	err := row.Scan(&rec.ID, &rec.PrototypeID, &seed, &converged, &rec.Score, &rec.Divergence, &rays, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Seed = uint64(seed)
	rec.Converged = converged != 0
	rec.Rays = json.RawMessage(rays)
	return rec, nil
}

// GetByID retrieves a reconstruction with its joints.
func (r *ReconstructionRepository) GetByID(id string) (*Reconstruction, error) {
	rec, err := scanReconstruction(r.db.QueryRow(
		`SELECT `+reconstructionColumns+` FROM reconstructions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rec.Joints, err = r.joints(id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *ReconstructionRepository) joints(id string) ([]Joint, error) {
	rows, err := r.db.Query(
		`SELECT joint_index, x, y, z, converged, objective, diagnostic
		 FROM reconstruction_joints
		 WHERE reconstruction_id = ?
		 ORDER BY joint_index`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	joints := make([]Joint, 0, NumJoints)
	for rows.Next() {
		var j Joint
		var converged int
		if err := rows.Scan(&j.Index, &j.X, &j.Y, &j.Z, &converged, &j.Objective, &j.Diagnostic); err != nil {
			return nil, err
		}
		j.Converged = converged != 0
		joints = append(joints, j)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return joints, nil
}

// List retrieves reconstructions without their joints, newest first. An
// empty prototypeID lists all of them; limit <= 0 means no limit.
func (r *ReconstructionRepository) List(prototypeID string, limit int) ([]*Reconstruction, error) {
	query := `SELECT ` + reconstructionColumns + ` FROM reconstructions`
	var args []any
	if prototypeID != "" {
		query += ` WHERE prototype_id = ?`
		args = append(args, prototypeID)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reconstruction
	for rows.Next() {
		rec, err := scanReconstruction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Delete removes a reconstruction and its joints.
func (r *ReconstructionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM reconstructions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
