// Package worklog holds the authoritative work-verification state machine.
//
// A work log moves through
//
//	not-started → start-otp-pending → start-verified → in-progress →
//	end-otp-pending → end-verified → completed
//
// Employers generate codes, workers verify them and upload photo evidence.
// Every method mutates the log only on success; on error the log is untouched.
package worklog

import (
	"fmt"
	"math"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/pkg/utils"
)

// DefaultOTPTTL is how long a generated code stays valid.
const DefaultOTPTTL = 10 * time.Minute

// Machine applies transitions to work logs. The zero value is not usable;
// construct with NewMachine.
type Machine struct {
	now      func() time.Time
	newCode  func() (string, error)
	hash     func(string) (string, error)
	verify   func(code, hash string) (bool, error)
	ttl      time.Duration
	location *time.Location
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithCodeSource replaces the random 6-digit generator.
func WithCodeSource(next func() (string, error)) Option {
	return func(m *Machine) { m.newCode = next }
}

// WithTTL sets the OTP validity window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Machine) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLocation sets the timezone that decides the calendar work date.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) {
		if loc != nil {
			m.location = loc
		}
	}
}

// NewMachine returns a Machine using crypto-random codes hashed with Argon2id.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		now:      time.Now,
		newCode:  utils.GenerateOTPCode,
		hash:     utils.HashOTP,
		verify:   utils.VerifyOTP,
		ttl:      DefaultOTPTTL,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the machine's current time.
func (m *Machine) Now() time.Time {
	return m.now()
}

// TodayKey returns the key of today's log for a job/worker pair.
func (m *Machine) TodayKey(jobID, workerID string) models.WorkLogKey {
	return models.WorkLogKey{
		JobID:    jobID,
		WorkerID: workerID,
		WorkDate: m.now().In(m.location).Format("2006-01-02"),
	}
}

// GenerateOTP issues a fresh code for side and returns it in clear text. Any
// code already live for that side is replaced, so at most one is valid.
// Jobs live outside this service, so the first employer to generate a code
// for a log becomes its employer; later codes must come from the same one.
func (m *Machine) GenerateOTP(wl *models.WorkLog, actor models.Identity, side models.OTPSide) (string, time.Time, error) {
	if actor.Role != models.RoleEmployer {
		return "", time.Time{}, ErrForbiddenRole
	}
	if wl.EmployerID != "" && wl.EmployerID != actor.ID {
		return "", time.Time{}, ErrForbiddenRole
	}

	var pending models.WorkLogStatus
	switch side {
	case models.SideStart:
		if wl.Status != models.WorkLogNotStarted && wl.Status != models.WorkLogStartOTPPending {
			return "", time.Time{}, fmt.Errorf("%w: cannot generate start otp while %s", ErrInvalidTransition, wl.Status)
		}
		pending = models.WorkLogStartOTPPending
	case models.SideEnd:
		if wl.Status != models.WorkLogInProgress && wl.Status != models.WorkLogEndOTPPending {
			return "", time.Time{}, fmt.Errorf("%w: cannot generate end otp while %s", ErrInvalidTransition, wl.Status)
		}
		pending = models.WorkLogEndOTPPending
	default:
		return "", time.Time{}, fmt.Errorf("%w: unknown side %q", ErrInvalidTransition, side)
	}

	code, err := m.newCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate otp: %w", err)
	}
	hashed, err := m.hash(code)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash otp: %w", err)
	}

	now := m.now()
	otp := &models.OTP{Hash: hashed, IssuedAt: now, ExpiresAt: now.Add(m.ttl)}
	if side == models.SideStart {
		wl.StartOTP = otp
	} else {
		wl.EndOTP = otp
	}
	wl.EmployerID = actor.ID
	wl.Status = pending
	wl.UpdatedAt = now
	return code, otp.ExpiresAt, nil
}

// VerifyOTP accepts the worker's code for side. Verifying a side that is
// already verified is a no-op and returns nil.
func (m *Machine) VerifyOTP(wl *models.WorkLog, actor models.Identity, side models.OTPSide, code string) error {
	if actor.Role != models.RoleWorker || actor.ID != wl.WorkerID {
		return ErrForbiddenRole
	}
	if side != models.SideStart && side != models.SideEnd {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTransition, side)
	}
	if wl.Verified(side) {
		return nil
	}

	otp := wl.OTP(side)
	if otp == nil {
		return ErrInvalidOTP
	}
	now := m.now()
	if otp.Expired(now) {
		return ErrOTPExpired
	}
	if !utils.ValidOTPFormat(code) {
		return ErrInvalidOTP
	}
	ok, err := m.verify(code, otp.Hash)
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	if !ok {
		return ErrInvalidOTP
	}

	if side == models.SideStart {
		wl.StartOTPVerified = true
		wl.StartOTP = nil
		wl.Status = models.WorkLogStartVerified
	} else {
		wl.EndOTPVerified = true
		wl.EndOTP = nil
		wl.Status = models.WorkLogEndVerified
	}
	wl.UpdatedAt = now
	return nil
}

// AttachPhoto records photo evidence for side. The start photo moves the log
// to in-progress; the end photo completes it and fixes hoursWorked.
func (m *Machine) AttachPhoto(wl *models.WorkLog, actor models.Identity, side models.OTPSide, photo models.PhotoEvidence) error {
	if actor.Role != models.RoleWorker || actor.ID != wl.WorkerID {
		return ErrForbiddenRole
	}
	if photo.URL == "" {
		return ErrPhotoRequired
	}

	now := m.now()
	if photo.CapturedAt.IsZero() {
		photo.CapturedAt = now
	}

	switch side {
	case models.SideStart:
		if wl.StartPhoto != nil && wl.Status.Step() >= models.WorkLogInProgress.Step() {
			return nil
		}
		if wl.Status != models.WorkLogStartVerified {
			return fmt.Errorf("%w: start photo requires start-verified, have %s", ErrInvalidTransition, wl.Status)
		}
		wl.StartPhoto = &photo
		wl.StartedAt = &now
		wl.Status = models.WorkLogInProgress
	case models.SideEnd:
		if wl.EndPhoto != nil && wl.Status == models.WorkLogCompleted {
			return nil
		}
		if wl.Status != models.WorkLogEndVerified {
			return fmt.Errorf("%w: end photo requires end-verified, have %s", ErrInvalidTransition, wl.Status)
		}
		wl.EndPhoto = &photo
		wl.EndedAt = &now
		wl.HoursWorked = hoursBetween(wl.StartedAt, wl.EndedAt)
		wl.Status = models.WorkLogCompleted
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTransition, side)
	}
	wl.UpdatedAt = now
	return nil
}

// minHoursWorked is the smallest value a completed shift records.
const minHoursWorked = 0.01

// hoursBetween rounds to two decimals but never below minHoursWorked;
// missing or inverted times give 0.
func hoursBetween(start, end *time.Time) float64 {
	if start == nil || end == nil || !end.After(*start) {
		return 0
	}
	return math.Max(math.Round(end.Sub(*start).Hours()*100)/100, minHoursWorked)
}
