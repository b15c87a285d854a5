package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL database
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Println("✅ Connected to PostgreSQL")

	// Initialize tables
	if err = InitPostgresTables(PostgresDB); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables(db *sql.DB) error {
	queries := []string{
		// Two-party conversations; members are stored sorted so a pair maps to one row
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			member_a VARCHAR(64) NOT NULL,
			member_b VARCHAR(64) NOT NULL,
			last_message_id VARCHAR(64),
			last_message_sender VARCHAR(64),
			last_message_text TEXT,
			last_message_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(member_a, member_b),
			CHECK (member_a < member_b)
		)`,

		// Daily work logs: one row per job, worker and calendar day
		`CREATE TABLE IF NOT EXISTS work_logs (
			job_id VARCHAR(64) NOT NULL,
			worker_id VARCHAR(64) NOT NULL,
			work_date DATE NOT NULL,
			employer_id VARCHAR(64),
			status VARCHAR(32) NOT NULL DEFAULT 'not-started',
			start_otp_hash TEXT,
			start_otp_issued_at TIMESTAMPTZ,
			start_otp_expires_at TIMESTAMPTZ,
			start_otp_verified BOOLEAN NOT NULL DEFAULT FALSE,
			end_otp_hash TEXT,
			end_otp_issued_at TIMESTAMPTZ,
			end_otp_expires_at TIMESTAMPTZ,
			end_otp_verified BOOLEAN NOT NULL DEFAULT FALSE,
			start_photo_url TEXT,
			start_photo_lat DOUBLE PRECISION,
			start_photo_lng DOUBLE PRECISION,
			start_photo_at TIMESTAMPTZ,
			end_photo_url TEXT,
			end_photo_lat DOUBLE PRECISION,
			end_photo_lng DOUBLE PRECISION,
			end_photo_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			hours_worked DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (job_id, worker_id, work_date)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_member_a ON conversations(member_a)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_member_b ON conversations(member_b)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_work_logs_job_id ON work_logs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_work_logs_employer_id ON work_logs(employer_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	log.Println("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
