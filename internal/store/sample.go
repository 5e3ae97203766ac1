package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Sample is one calibration hand a prototype was trained on.
type Sample struct {
	ID          int64           `json:"id"`
	PrototypeID string          `json:"prototype_id"`
	SampleIndex int             `json:"sample_index"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SampleRepository stores calibration samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// insertSamples stores samples as the calibration set of a prototype, in
// recording order.
func insertSamples(tx *sql.Tx, prototypeID string, samples []json.RawMessage) error {
	stmt, err := tx.Prepare(`INSERT INTO calibration_samples (prototype_id, sample_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, data := range samples {
		if len(data) == 0 {
			return ErrEmptyPayload
		}
		if _, err := stmt.Exec(prototypeID, i, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// GetByPrototypeID retrieves the calibration samples of a prototype in
// recording order.
func (r *SampleRepository) GetByPrototypeID(prototypeID string) ([]Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, prototype_id, sample_index, data, created_at
		 FROM calibration_samples
		 WHERE prototype_id = ?
		 ORDER BY sample_index`,
		prototypeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var data string
		if err := rows.Scan(&s.ID, &s.PrototypeID, &s.SampleIndex, &data, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Data = json.RawMessage(data)
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}
