package realtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// PhotoUpload is the attendance photo a worker submits for one side.
type PhotoUpload struct {
	Filename string
	Content  io.Reader
	Location *models.GeoPoint
}

// WorkLogAPI is the REST side of work verification. The server runs the
// state machine; every call returns the resulting log.
type WorkLogAPI interface {
	FetchWorkLog(ctx context.Context, jobID, workerID string) (*models.WorkLog, error)
	GenerateOTP(ctx context.Context, jobID, workerID string, side models.OTPSide) (*models.WorkLogOTPIssue, error)
	VerifyOTP(ctx context.Context, jobID, workerID string, side models.OTPSide, code string) (*models.WorkLog, error)
	UploadPhoto(ctx context.Context, jobID, workerID string, side models.OTPSide, photo PhotoUpload) (*models.WorkLog, error)
	ShareLocation(ctx context.Context, jobID string, point models.GeoPoint) error
}

// WorkerLocation is the last position broadcast for the watched worker.
type WorkerLocation struct {
	WorkerID   string
	WorkerName string
	Point      models.GeoPoint
	ReceivedAt time.Time
}

// JobWatchOption customises a JobWatch.
type JobWatchOption func(*JobWatch)

// WithWorkLogUpdate registers a callback run whenever a newer log is applied.
func WithWorkLogUpdate(fn func(*models.WorkLog)) JobWatchOption {
	return func(w *JobWatch) { w.onUpdate = fn }
}

// WithLocationUpdate registers a callback for workerLocationUpdated.
func WithLocationUpdate(fn func(WorkerLocation)) JobWatchOption {
	return func(w *JobWatch) { w.onLocation = fn }
}

// JobWatch mirrors today's work log for one (job, worker) pair. The state is
// always rebuilt from the fetched log, so a watch can be opened at any point
// of the day.
type JobWatch struct {
	jobID    string
	workerID string
	m        *Manager
	api      WorkLogAPI
	binder   *Binder

	onUpdate   func(*models.WorkLog)
	onLocation func(WorkerLocation)

	mu         sync.Mutex
	log        *models.WorkLog
	location   *WorkerLocation
	refreshing bool
	again      bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchJob joins the job room and loads the current log.
func WatchJob(ctx context.Context, m *Manager, api WorkLogAPI, jobID, workerID string, opts ...JobWatchOption) (*JobWatch, error) {
	if jobID == "" || workerID == "" {
		return nil, fmt.Errorf("watch job: job and worker ids are required")
	}
	bg, cancel := context.WithCancel(context.Background())
	w := &JobWatch{
		jobID:    jobID,
		workerID: workerID,
		m:        m,
		api:      api,
		binder:   NewBinder(m),
		ctx:      bg,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}

	logger := m.Logger()
	w.binder.Bind(protocol.EventWorkLogUpdated, Handle(logger, func(p protocol.WorkLogUpdatedPayload) {
		if p.JobID == w.jobID && p.WorkerID == w.workerID {
			w.refresh()
		}
	}))
	w.binder.Bind(protocol.EventWorkerLocationUpdated, Handle(logger, w.onLocationEvent))
	w.binder.BindState(func(s State) {
		if s == StateConnected {
			w.refresh()
		}
	})
	w.binder.Join(JobRoom(jobID))

	if err := w.Refresh(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// WorkLog returns a copy of the last applied log, or nil before the first fetch.
func (w *JobWatch) WorkLog() *models.WorkLog {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log == nil {
		return nil
	}
	cp := *w.log
	return &cp
}

// Status returns the current status, not-started before the first fetch.
func (w *JobWatch) Status() models.WorkLogStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log == nil {
		return models.WorkLogNotStarted
	}
	return w.log.Status
}

// LastLocation returns the last broadcast position of the worker.
func (w *JobWatch) LastLocation() (WorkerLocation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.location == nil {
		return WorkerLocation{}, false
	}
	return *w.location, true
}

// Refresh fetches the log synchronously.
func (w *JobWatch) Refresh(ctx context.Context) error {
	wl, err := w.api.FetchWorkLog(ctx, w.jobID, w.workerID)
	if err != nil {
		return fmt.Errorf("fetch work log %s/%s: %w", w.jobID, w.workerID, err)
	}
	w.apply(wl)
	return nil
}

// GenerateOTP issues a code for side. Employer only; the code is returned to
// the caller to hand to the worker and is not kept.
func (w *JobWatch) GenerateOTP(ctx context.Context, side models.OTPSide) (*models.WorkLogOTPIssue, error) {
	issue, err := w.api.GenerateOTP(ctx, w.jobID, w.workerID, side)
	if err != nil {
		return nil, err
	}
	w.apply(issue.WorkLog)
	return issue, nil
}

// VerifyOTP submits a code for side. Worker only. A failed attempt leaves the
// log as it was.
func (w *JobWatch) VerifyOTP(ctx context.Context, side models.OTPSide, code string) error {
	wl, err := w.api.VerifyOTP(ctx, w.jobID, w.workerID, side, code)
	if err != nil {
		return err
	}
	w.apply(wl)
	return nil
}

// UploadPhoto submits attendance evidence for side. Worker only.
func (w *JobWatch) UploadPhoto(ctx context.Context, side models.OTPSide, photo PhotoUpload) error {
	wl, err := w.api.UploadPhoto(ctx, w.jobID, w.workerID, side, photo)
	if err != nil {
		return err
	}
	w.apply(wl)
	return nil
}

// ShareLocation broadcasts the worker's position to the job room.
func (w *JobWatch) ShareLocation(ctx context.Context, point models.GeoPoint) error {
	return w.api.ShareLocation(ctx, w.jobID, point)
}

// Close leaves the job room and waits for a running refresh.
func (w *JobWatch) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.binder.Close()
	w.wg.Wait()
}

// refresh runs a background fetch. Signals arriving while one is in flight
// collapse into a single follow-up fetch.
func (w *JobWatch) refresh() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.refreshing {
		w.again = true
		w.mu.Unlock()
		return
	}
	w.refreshing = true
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		for {
			if err := w.Refresh(w.ctx); err != nil && w.ctx.Err() == nil {
				w.m.Logger().Printf("job %s: %v", w.jobID, err)
			}
			w.mu.Lock()
			if w.again && !w.closed {
				w.again = false
				w.mu.Unlock()
				continue
			}
			w.again = false
			w.refreshing = false
			w.mu.Unlock()
			return
		}
	}()
}

// apply installs wl unless an equally new or newer log is already held.
func (w *JobWatch) apply(wl *models.WorkLog) {
	if wl == nil || wl.JobID != w.jobID || wl.WorkerID != w.workerID {
		return
	}
	w.mu.Lock()
	if cur := w.log; cur != nil && cur.WorkDate == wl.WorkDate {
		if wl.UpdatedAt.Before(cur.UpdatedAt) {
			w.mu.Unlock()
			return
		}
		if wl.UpdatedAt.Equal(cur.UpdatedAt) && wl.Status == cur.Status {
			w.mu.Unlock()
			return
		}
	}
	cp := *wl
	w.log = &cp
	fn := w.onUpdate
	w.mu.Unlock()

	if fn != nil {
		out := cp
		fn(&out)
	}
}

func (w *JobWatch) onLocationEvent(p protocol.LocationPayload) {
	if p.JobID != "" && p.JobID != w.jobID {
		return
	}
	if p.WorkerID != w.workerID {
		return
	}
	loc := WorkerLocation{
		WorkerID:   p.WorkerID,
		WorkerName: p.WorkerName,
		Point:      models.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude},
		ReceivedAt: time.Now(),
	}
	w.mu.Lock()
	w.location = &loc
	fn := w.onLocation
	w.mu.Unlock()
	if fn != nil {
		fn(loc)
	}
}
