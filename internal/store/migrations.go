package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Prototypes table - trained reference hands
		`CREATE TABLE IF NOT EXISTS prototypes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Calibration samples table - raw hands a prototype was trained on
		`CREATE TABLE IF NOT EXISTS calibration_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prototype_id TEXT NOT NULL REFERENCES prototypes(id) ON DELETE CASCADE,
			sample_index INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Reconstructions table - one solved frame
		`CREATE TABLE IF NOT EXISTS reconstructions (
			id TEXT PRIMARY KEY,
			prototype_id TEXT NOT NULL REFERENCES prototypes(id) ON DELETE CASCADE,
			seed INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			score REAL NOT NULL,
			divergence REAL NOT NULL DEFAULT 0,
			rays TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Reconstruction joints table - the 21 solved joint positions
		`CREATE TABLE IF NOT EXISTS reconstruction_joints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reconstruction_id TEXT NOT NULL REFERENCES reconstructions(id) ON DELETE CASCADE,
			joint_index INTEGER NOT NULL CHECK(joint_index BETWEEN 0 AND 20),
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			converged INTEGER NOT NULL,
			objective REAL NOT NULL,
			diagnostic TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_calibration_samples_prototype_id ON calibration_samples(prototype_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reconstructions_prototype_id ON reconstructions(prototype_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reconstruction_joints_reconstruction_id ON reconstruction_joints(reconstruction_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
