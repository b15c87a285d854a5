package models

import (
	"fmt"
	"time"
)

// WorkLogStatus is the lifecycle position of a daily work log.
type WorkLogStatus string

const (
	WorkLogNotStarted      WorkLogStatus = "not-started"
	WorkLogStartOTPPending WorkLogStatus = "start-otp-pending"
	WorkLogStartVerified   WorkLogStatus = "start-verified"
	WorkLogInProgress      WorkLogStatus = "in-progress"
	WorkLogEndOTPPending   WorkLogStatus = "end-otp-pending"
	WorkLogEndVerified     WorkLogStatus = "end-verified"
	WorkLogCompleted       WorkLogStatus = "completed"
)

// ParseWorkLogStatus rejects anything outside the closed set.
func ParseWorkLogStatus(s string) (WorkLogStatus, error) {
	st := WorkLogStatus(s)
	if st.Step() < 0 {
		return "", fmt.Errorf("unknown work log status %q", s)
	}
	return st, nil
}

// Step is the zero-based position of the status in the daily flow, or -1.
func (s WorkLogStatus) Step() int {
	switch s {
	case WorkLogNotStarted:
		return 0
	case WorkLogStartOTPPending:
		return 1
	case WorkLogStartVerified:
		return 2
	case WorkLogInProgress:
		return 3
	case WorkLogEndOTPPending:
		return 4
	case WorkLogEndVerified:
		return 5
	case WorkLogCompleted:
		return 6
	}
	return -1
}

// Working reports whether the worker is on the job: the start photo has been
// taken and the end has not been verified yet.
func (s WorkLogStatus) Working() bool {
	return s == WorkLogInProgress || s == WorkLogEndOTPPending
}

// ShiftOpen reports whether the shift has started but not been completed.
// Such a log keeps its date until the end photo closes it.
func (s WorkLogStatus) ShiftOpen() bool {
	return s.Working() || s == WorkLogEndVerified
}

// OTPSide selects which end of the shift an OTP or photo belongs to.
type OTPSide string

const (
	SideStart OTPSide = "start"
	SideEnd   OTPSide = "end"
)

// ParseOTPSide accepts "start" or "end".
func ParseOTPSide(s string) (OTPSide, error) {
	switch OTPSide(s) {
	case SideStart:
		return SideStart, nil
	case SideEnd:
		return SideEnd, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// OTP is a live one-time code. Only the hash is kept.
type OTP struct {
	Hash      string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the code is no longer usable at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// GeoPoint is an optional coordinate attached to photo evidence.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PhotoEvidence references an uploaded attendance photo.
type PhotoEvidence struct {
	URL        string    `json:"url"`
	Location   *GeoPoint `json:"location,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// WorkLogKey identifies one work log: one per calendar day per job/worker pair.
type WorkLogKey struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
	WorkDate string `json:"workDate"` // YYYY-MM-DD
}

func (k WorkLogKey) String() string {
	return k.JobID + "/" + k.WorkerID + "/" + k.WorkDate
}

// WorkLog is the daily attendance record for one worker on one job.
type WorkLog struct {
	WorkLogKey
	EmployerID       string         `json:"employerId,omitempty"`
	Status           WorkLogStatus  `json:"status"`
	StartOTP         *OTP           `json:"startOtp,omitempty"`
	EndOTP           *OTP           `json:"endOtp,omitempty"`
	StartOTPVerified bool           `json:"startOtpVerified"`
	EndOTPVerified   bool           `json:"endOtpVerified"`
	StartPhoto       *PhotoEvidence `json:"startPhoto,omitempty"`
	EndPhoto         *PhotoEvidence `json:"endPhoto,omitempty"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	EndedAt          *time.Time     `json:"endedAt,omitempty"`
	HoursWorked      float64        `json:"hoursWorked"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// NewWorkLog returns a not-started log for key.
func NewWorkLog(key WorkLogKey, now time.Time) *WorkLog {
	return &WorkLog{
		WorkLogKey: key,
		Status:     WorkLogNotStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// OTP returns the live code slot for side.
func (w *WorkLog) OTP(side OTPSide) *OTP {
	if side == SideStart {
		return w.StartOTP
	}
	return w.EndOTP
}

// Verified reports whether side's code has been accepted.
func (w *WorkLog) Verified(side OTPSide) bool {
	if side == SideStart {
		return w.StartOTPVerified
	}
	return w.EndOTPVerified
}

// Photo returns the evidence captured for side, if any.
func (w *WorkLog) Photo(side OTPSide) *PhotoEvidence {
	if side == SideStart {
		return w.StartPhoto
	}
	return w.EndPhoto
}

// WorkLogOTPIssue is what the employer receives after generating a code.
type WorkLogOTPIssue struct {
	Code      string    `json:"code"`
	Side      OTPSide   `json:"side"`
	ExpiresAt time.Time `json:"expiresAt"`
	WorkLog   *WorkLog  `json:"workLog"`
}
