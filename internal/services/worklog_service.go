package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
	"github.com/AnshRaj112/workbridge/internal/worklog"
)

// WorkLogService runs the verification flow for the daily work log of a
// job/worker pair. A log is keyed by the date its shift started, so the end
// of a shift that runs past midnight still lands on it. Every transition happens under the repository lock; the
// job room then gets a workLogUpdated signal and the counterpart a
// notification.
type WorkLogService struct {
	repo      WorkLogRepository
	machine   *worklog.Machine
	photos    PhotoStore
	folder    string
	publisher Publisher
	notifier  Notifier
}

// NewWorkLogService wires the flow. photos may be nil, in which case photo
// uploads fail with ErrUnavailable.
func NewWorkLogService(repo WorkLogRepository, machine *worklog.Machine, photos PhotoStore, folder string, publisher Publisher, notifier Notifier) *WorkLogService {
	return &WorkLogService{
		repo:      repo,
		machine:   machine,
		photos:    photos,
		folder:    folder,
		publisher: publisher,
		notifier:  notifier,
	}
}

// Get returns the open shift's log, else today's, else a fresh not-started
// one. Only the worker and the log's employer may read it.
func (s *WorkLogService) Get(ctx context.Context, caller models.Identity, jobID, workerID string) (*models.WorkLog, error) {
	key, err := s.key(ctx, jobID, workerID, models.SideEnd)
	if err != nil {
		return nil, err
	}
	if caller.Role == models.RoleWorker && caller.ID != workerID {
		return nil, worklog.ErrForbiddenRole
	}
	wl, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if caller.Role == models.RoleEmployer && wl.EmployerID != "" && wl.EmployerID != caller.ID {
		return nil, worklog.ErrForbiddenRole
	}
	return wl, nil
}

func (s *WorkLogService) load(ctx context.Context, key models.WorkLogKey) (*models.WorkLog, error) {
	wl, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return models.NewWorkLog(key, s.machine.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load work log %s: %w", key, err)
	}
	return wl, nil
}

// GenerateOTP issues a code for side. The clear code is returned to the
// employer only; it is never stored or broadcast.
func (s *WorkLogService) GenerateOTP(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide) (*models.WorkLogOTPIssue, error) {
	key, err := s.key(ctx, jobID, workerID, side)
	if err != nil {
		return nil, err
	}

	issue := &models.WorkLogOTPIssue{Side: side}
	wl, err := s.repo.Update(ctx, key, func(wl *models.WorkLog) error {
		code, expires, err := s.machine.GenerateOTP(wl, caller, side)
		if err != nil {
			return err
		}
		issue.Code, issue.ExpiresAt = code, expires
		return nil
	})
	if err != nil {
		return nil, err
	}
	issue.WorkLog = wl

	s.changed(ctx, wl)
	s.notify(ctx, workerID, wl, fmt.Sprintf("Your %s code is ready", side), "Ask your employer for the code to check in.")
	return issue, nil
}

// VerifyOTP accepts the worker's code. A wrong or expired code leaves the log
// untouched.
func (s *WorkLogService) VerifyOTP(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide, code string) (*models.WorkLog, error) {
	key, err := s.key(ctx, jobID, workerID, side)
	if err != nil {
		return nil, err
	}

	var already bool
	wl, err := s.repo.Update(ctx, key, func(wl *models.WorkLog) error {
		already = wl.Verified(side)
		return s.machine.VerifyOTP(wl, caller, side, code)
	})
	if err != nil {
		return nil, err
	}
	if !already {
		s.changed(ctx, wl)
		s.notify(ctx, wl.EmployerID, wl, fmt.Sprintf("Worker verified the %s code", side), "Waiting for the attendance photo.")
	}
	return wl, nil
}

// AttachPhoto uploads the attendance photo and records it. The status is
// checked before uploading so a rejected request leaves nothing behind.
func (s *WorkLogService) AttachPhoto(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide, content io.Reader, location *models.GeoPoint) (*models.WorkLog, error) {
	if caller.Role != models.RoleWorker || caller.ID != workerID {
		return nil, worklog.ErrForbiddenRole
	}
	if _, err := models.ParseOTPSide(string(side)); err != nil {
		return nil, fmt.Errorf("%w: %v", worklog.ErrInvalidTransition, err)
	}
	key, err := s.key(ctx, jobID, workerID, side)
	if err != nil {
		return nil, err
	}

	current, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.Photo(side) != nil {
		return current, nil
	}
	if want := photoStatus(side); current.Status != want {
		return nil, fmt.Errorf("%w: %s photo requires %s, have %s", worklog.ErrInvalidTransition, side, want, current.Status)
	}
	if s.photos == nil {
		return nil, fmt.Errorf("%w: photo storage is not configured", ErrUnavailable)
	}

	url, err := s.photos.UploadPhoto(ctx, content, s.folder, key.JobID+"_"+key.WorkerID+"_"+key.WorkDate+"_"+string(side))
	if err != nil {
		return nil, fmt.Errorf("upload %s photo: %w", side, err)
	}

	wl, err := s.repo.Update(ctx, key, func(wl *models.WorkLog) error {
		return s.machine.AttachPhoto(wl, caller, side, models.PhotoEvidence{URL: url, Location: location})
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, wl)
	title := "Worker checked in"
	if side == models.SideEnd {
		title = fmt.Sprintf("Worker checked out after %.2f hours", wl.HoursWorked)
	}
	s.notify(ctx, wl.EmployerID, wl, title, "")
	return wl, nil
}

// ShareLocation broadcasts the worker's live position to the job room.
// Nothing is stored.
func (s *WorkLogService) ShareLocation(ctx context.Context, caller models.Identity, jobID string, point models.GeoPoint, workerName string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}
	if caller.Role != models.RoleWorker {
		return worklog.ErrForbiddenRole
	}
	payload := protocol.LocationPayload{
		JobID:      jobID,
		WorkerID:   caller.ID,
		Latitude:   point.Latitude,
		Longitude:  point.Longitude,
		WorkerName: workerName,
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.publisher.Publish(ctx, models.JobRoom(jobID), protocol.EventWorkerLocationUpdated, payload)
}

// key picks the log an operation on side acts on. End-side steps go to a
// shift still open from an earlier date; everything else uses today's log.
func (s *WorkLogService) key(ctx context.Context, jobID, workerID string, side models.OTPSide) (models.WorkLogKey, error) {
	if jobID == "" || workerID == "" {
		return models.WorkLogKey{}, fmt.Errorf("%w: job and worker ids are required", ErrInvalidInput)
	}
	today := s.machine.TodayKey(jobID, workerID)
	if side != models.SideEnd {
		return today, nil
	}
	open, err := s.repo.FindOpen(ctx, jobID, workerID)
	if errors.Is(err, ErrNotFound) {
		return today, nil
	}
	if err != nil {
		return models.WorkLogKey{}, fmt.Errorf("find open work log: %w", err)
	}
	return open.WorkLogKey, nil
}

func (s *WorkLogService) changed(ctx context.Context, wl *models.WorkLog) {
	payload := protocol.WorkLogUpdatedPayload{JobID: wl.JobID, WorkerID: wl.WorkerID}
	if err := s.publisher.Publish(ctx, models.JobRoom(wl.JobID), protocol.EventWorkLogUpdated, payload); err != nil {
		log.Printf("[worklog] %v", err)
	}
}

func (s *WorkLogService) notify(ctx context.Context, userID string, wl *models.WorkLog, title, body string) {
	if s.notifier == nil || userID == "" {
		return
	}
	_, err := s.notifier.Notify(ctx, models.Notification{
		UserID: userID,
		Kind:   models.NotificationKindWorkLog,
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"jobId":    wl.JobID,
			"workerId": wl.WorkerID,
			"workDate": wl.WorkDate,
			"status":   string(wl.Status),
		},
	})
	if err != nil {
		log.Printf("[worklog] notify %s: %v", userID, err)
	}
}

func photoStatus(side models.OTPSide) models.WorkLogStatus {
	if side == models.SideEnd {
		return models.WorkLogEndVerified
	}
	return models.WorkLogStartVerified
}
