package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
)

// WorkLogRepository loads and saves daily work logs.
type WorkLogRepository interface {
	// Get returns ErrNotFound when no log exists for key yet.
	Get(ctx context.Context, key models.WorkLogKey) (*models.WorkLog, error)
	// Update runs fn against the locked log for key, creating a not-started
	// log first when none exists. Changes are saved only when fn succeeds.
	Update(ctx context.Context, key models.WorkLogKey, fn func(*models.WorkLog) error) (*models.WorkLog, error)
	// FindOpen returns the newest log for the pair whose shift is open, or
	// ErrNotFound.
	FindOpen(ctx context.Context, jobID, workerID string) (*models.WorkLog, error)
}

// PostgresWorkLogRepository serialises transitions with SELECT ... FOR UPDATE
// so two devices cannot race the same log.
type PostgresWorkLogRepository struct {
	db *sql.DB
}

func NewPostgresWorkLogRepository(db *sql.DB) *PostgresWorkLogRepository {
	return &PostgresWorkLogRepository{db: db}
}

const workLogColumns = `job_id, worker_id, to_char(work_date, 'YYYY-MM-DD'), employer_id, status,
	start_otp_hash, start_otp_issued_at, start_otp_expires_at, start_otp_verified,
	end_otp_hash, end_otp_issued_at, end_otp_expires_at, end_otp_verified,
	start_photo_url, start_photo_lat, start_photo_lng, start_photo_at,
	end_photo_url, end_photo_lat, end_photo_lng, end_photo_at,
	started_at, ended_at, hours_worked, created_at, updated_at`

func (r *PostgresWorkLogRepository) Get(ctx context.Context, key models.WorkLogKey) (*models.WorkLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workLogColumns+`
		FROM work_logs WHERE job_id = $1 AND worker_id = $2 AND work_date = $3::date`,
		key.JobID, key.WorkerID, key.WorkDate)
	return scanWorkLog(row)
}

func (r *PostgresWorkLogRepository) FindOpen(ctx context.Context, jobID, workerID string) (*models.WorkLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workLogColumns+`
		FROM work_logs WHERE job_id = $1 AND worker_id = $2 AND status IN ($3, $4, $5)
		ORDER BY work_date DESC LIMIT 1`,
		jobID, workerID, models.WorkLogInProgress, models.WorkLogEndOTPPending, models.WorkLogEndVerified)
	return scanWorkLog(row)
}

// CanWatchJob lets anyone watch a job with no logs yet; once logs exist only
// their workers and employers may.
func (r *PostgresWorkLogRepository) CanWatchJob(ctx context.Context, jobID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT NOT EXISTS (SELECT 1 FROM work_logs WHERE job_id = $1)
			OR EXISTS (SELECT 1 FROM work_logs WHERE job_id = $1 AND (worker_id = $2 OR employer_id = $2))
	`, jobID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("job access %s: %w", jobID, err)
	}
	return ok, nil
}

func (r *PostgresWorkLogRepository) Update(ctx context.Context, key models.WorkLogKey, fn func(*models.WorkLog) error) (*models.WorkLog, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_logs (job_id, worker_id, work_date, status)
		VALUES ($1, $2, $3::date, $4)
		ON CONFLICT (job_id, worker_id, work_date) DO NOTHING
	`, key.JobID, key.WorkerID, key.WorkDate, models.WorkLogNotStarted); err != nil {
		return nil, fmt.Errorf("create work log %s: %w", key, err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+workLogColumns+`
		FROM work_logs WHERE job_id = $1 AND worker_id = $2 AND work_date = $3::date
		FOR UPDATE`, key.JobID, key.WorkerID, key.WorkDate)
	wl, err := scanWorkLog(row)
	if err != nil {
		return nil, fmt.Errorf("lock work log %s: %w", key, err)
	}

	if err := fn(wl); err != nil {
		return nil, err
	}

	start, end := otpColumns(wl.StartOTP), otpColumns(wl.EndOTP)
	startPhoto, endPhoto := photoColumns(wl.StartPhoto), photoColumns(wl.EndPhoto)
	_, err = tx.ExecContext(ctx, `
		UPDATE work_logs SET
			employer_id = $4, status = $5,
			start_otp_hash = $6, start_otp_issued_at = $7, start_otp_expires_at = $8, start_otp_verified = $9,
			end_otp_hash = $10, end_otp_issued_at = $11, end_otp_expires_at = $12, end_otp_verified = $13,
			start_photo_url = $14, start_photo_lat = $15, start_photo_lng = $16, start_photo_at = $17,
			end_photo_url = $18, end_photo_lat = $19, end_photo_lng = $20, end_photo_at = $21,
			started_at = $22, ended_at = $23, hours_worked = $24, updated_at = $25
		WHERE job_id = $1 AND worker_id = $2 AND work_date = $3::date
	`,
		key.JobID, key.WorkerID, key.WorkDate,
		nullString(wl.EmployerID), string(wl.Status),
		start.hash, start.issued, start.expires, wl.StartOTPVerified,
		end.hash, end.issued, end.expires, wl.EndOTPVerified,
		startPhoto.url, startPhoto.lat, startPhoto.lng, startPhoto.at,
		endPhoto.url, endPhoto.lat, endPhoto.lng, endPhoto.at,
		nullTimePtr(wl.StartedAt), nullTimePtr(wl.EndedAt), wl.HoursWorked, wl.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("save work log %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return wl, nil
}

type otpCols struct {
	hash            sql.NullString
	issued, expires sql.NullTime
}

func otpColumns(otp *models.OTP) otpCols {
	if otp == nil {
		return otpCols{}
	}
	return otpCols{
		hash:    sql.NullString{String: otp.Hash, Valid: true},
		issued:  sql.NullTime{Time: otp.IssuedAt, Valid: true},
		expires: sql.NullTime{Time: otp.ExpiresAt, Valid: true},
	}
}

type photoCols struct {
	url      sql.NullString
	lat, lng sql.NullFloat64
	at       sql.NullTime
}

func photoColumns(p *models.PhotoEvidence) photoCols {
	if p == nil {
		return photoCols{}
	}
	c := photoCols{
		url: sql.NullString{String: p.URL, Valid: true},
		at:  sql.NullTime{Time: p.CapturedAt, Valid: true},
	}
	if p.Location != nil {
		c.lat = sql.NullFloat64{Float64: p.Location.Latitude, Valid: true}
		c.lng = sql.NullFloat64{Float64: p.Location.Longitude, Valid: true}
	}
	return c
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func scanWorkLog(row rowScanner) (*models.WorkLog, error) {
	var (
		wl                   models.WorkLog
		employer             sql.NullString
		status               string
		start, end           otpCols
		startPhoto, endPhoto photoCols
		startedAt, endedAt   sql.NullTime
	)
	err := row.Scan(
		&wl.JobID, &wl.WorkerID, &wl.WorkDate, &employer, &status,
		&start.hash, &start.issued, &start.expires, &wl.StartOTPVerified,
		&end.hash, &end.issued, &end.expires, &wl.EndOTPVerified,
		&startPhoto.url, &startPhoto.lat, &startPhoto.lng, &startPhoto.at,
		&endPhoto.url, &endPhoto.lat, &endPhoto.lng, &endPhoto.at,
		&startedAt, &endedAt, &wl.HoursWorked, &wl.CreatedAt, &wl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	wl.EmployerID = employer.String
	if wl.Status, err = models.ParseWorkLogStatus(status); err != nil {
		return nil, err
	}
	wl.StartOTP = start.otp()
	wl.EndOTP = end.otp()
	wl.StartPhoto = startPhoto.evidence()
	wl.EndPhoto = endPhoto.evidence()
	if startedAt.Valid {
		wl.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		wl.EndedAt = &endedAt.Time
	}
	return &wl, nil
}

func (c otpCols) otp() *models.OTP {
	if !c.hash.Valid {
		return nil
	}
	return &models.OTP{Hash: c.hash.String, IssuedAt: c.issued.Time, ExpiresAt: c.expires.Time}
}

func (c photoCols) evidence() *models.PhotoEvidence {
	if !c.url.Valid {
		return nil
	}
	p := &models.PhotoEvidence{URL: c.url.String, CapturedAt: c.at.Time}
	if c.lat.Valid && c.lng.Valid {
		p.Location = &models.GeoPoint{Latitude: c.lat.Float64, Longitude: c.lng.Float64}
	}
	return p
}
