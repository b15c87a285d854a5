package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
	"github.com/AnshRaj112/workbridge/internal/testfixtures"
	"github.com/AnshRaj112/workbridge/internal/worklog"
)

// machineAPI runs the real state machine in memory, standing in for the
// worklog REST endpoints.
type machineAPI struct {
	mu      sync.Mutex
	machine *worklog.Machine
	clock   *testfixtures.Clock
	log     *models.WorkLog
	fetches atomic.Int32
	shared  []models.GeoPoint
}

func newMachineAPI(clock *testfixtures.Clock, codes ...string) *machineAPI {
	next := 0
	machine := worklog.NewMachine(
		worklog.WithClock(clock.Now),
		worklog.WithCodeSource(func() (string, error) {
			code := codes[next%len(codes)]
			next++
			return code, nil
		}),
	)
	wl := models.NewWorkLog(models.WorkLogKey{JobID: "j1", WorkerID: "w1", WorkDate: "2025-03-03"}, clock.Now())
	wl.EmployerID = "e1"
	return &machineAPI{machine: machine, clock: clock, log: wl}
}

func (a *machineAPI) snapshot() *models.WorkLog {
	cp := *a.log
	return &cp
}

func (a *machineAPI) FetchWorkLog(ctx context.Context, jobID, workerID string) (*models.WorkLog, error) {
	a.fetches.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(), nil
}

func (a *machineAPI) GenerateOTP(ctx context.Context, jobID, workerID string, side models.OTPSide) (*models.WorkLogOTPIssue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	code, expires, err := a.machine.GenerateOTP(a.log, employer, side)
	if err != nil {
		return nil, err
	}
	return &models.WorkLogOTPIssue{Code: code, Side: side, ExpiresAt: expires, WorkLog: a.snapshot()}, nil
}

func (a *machineAPI) VerifyOTP(ctx context.Context, jobID, workerID string, side models.OTPSide, code string) (*models.WorkLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.machine.VerifyOTP(a.log, worker, side, code); err != nil {
		return nil, err
	}
	return a.snapshot(), nil
}

func (a *machineAPI) UploadPhoto(ctx context.Context, jobID, workerID string, side models.OTPSide, photo PhotoUpload) (*models.WorkLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := models.PhotoEvidence{URL: "https://img.example/" + photo.Filename, Location: photo.Location, CapturedAt: a.clock.Now()}
	if err := a.machine.AttachPhoto(a.log, worker, side, ev); err != nil {
		return nil, err
	}
	return a.snapshot(), nil
}

func (a *machineAPI) ShareLocation(ctx context.Context, jobID string, point models.GeoPoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shared = append(a.shared, point)
	return nil
}

func TestJobWatchWorkDay(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	api := newMachineAPI(clock, "482913", "117734")
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	w, err := WatchJob(context.Background(), m, api, "j1", "w1")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 1, srv.last().count(protocol.EventJoinJobRoom))
	assert.Equal(t, models.WorkLogNotStarted, w.Status())

	ctx := context.Background()
	issue, err := w.GenerateOTP(ctx, models.SideStart)
	require.NoError(t, err)
	assert.Equal(t, "482913", issue.Code)
	assert.Equal(t, models.WorkLogStartOTPPending, w.Status())

	require.NoError(t, w.VerifyOTP(ctx, models.SideStart, "482913"))
	require.NoError(t, w.UploadPhoto(ctx, models.SideStart, PhotoUpload{Filename: "start.jpg", Content: strings.NewReader("jpeg")}))
	assert.Equal(t, models.WorkLogInProgress, w.Status())

	clock.Advance(8 * time.Hour)
	_, err = w.GenerateOTP(ctx, models.SideEnd)
	require.NoError(t, err)
	require.ErrorIs(t, w.VerifyOTP(ctx, models.SideEnd, "000000"), worklog.ErrInvalidOTP)
	assert.Equal(t, models.WorkLogEndOTPPending, w.Status())

	require.NoError(t, w.VerifyOTP(ctx, models.SideEnd, "117734"))
	require.NoError(t, w.UploadPhoto(ctx, models.SideEnd, PhotoUpload{Filename: "end.jpg", Content: strings.NewReader("jpeg")}))
	assert.Equal(t, models.WorkLogCompleted, w.Status())
	assert.InDelta(t, 8.0, w.WorkLog().HoursWorked, 0.01)
}

func TestJobWatchRefetchesOnUpdate(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	api := newMachineAPI(clock, "482913")
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, employer)

	var updates atomic.Int32
	w, err := WatchJob(context.Background(), m, api, "j1", "w1", WithWorkLogUpdate(func(*models.WorkLog) { updates.Add(1) }))
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, int32(1), api.fetches.Load())

	// Another session advanced the log; only the change signal arrives here.
	api.mu.Lock()
	_, _, err = api.machine.GenerateOTP(api.log, employer, models.SideStart)
	api.mu.Unlock()
	require.NoError(t, err)

	conn := srv.last()
	conn.push(t, protocol.EventWorkLogUpdated, protocol.WorkLogUpdatedPayload{JobID: "j1", WorkerID: "someone-else"})
	conn.push(t, protocol.EventWorkLogUpdated, protocol.WorkLogUpdatedPayload{JobID: "j1", WorkerID: "w1"})
	require.Eventually(t, func() bool { return w.Status() == models.WorkLogStartOTPPending }, waitFor, tick)
	assert.GreaterOrEqual(t, updates.Load(), int32(2))
}

func TestJobWatchResumesAfterReconnect(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	api := newMachineAPI(clock, "482913")
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	w, err := WatchJob(context.Background(), m, api, "j1", "w1")
	require.NoError(t, err)
	defer w.Close()

	srv.conn(0).drop()
	api.mu.Lock()
	_, _, err = api.machine.GenerateOTP(api.log, employer, models.SideStart)
	api.mu.Unlock()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.dials() == 2 && srv.conn(1).count(protocol.EventJoinJobRoom) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return w.Status() == models.WorkLogStartOTPPending }, waitFor, tick)
}

func TestJobWatchLocation(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	api := newMachineAPI(clock, "482913")
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, employer)

	w, err := WatchJob(context.Background(), m, api, "j1", "w1")
	require.NoError(t, err)
	defer w.Close()

	_, ok := w.LastLocation()
	assert.False(t, ok)

	conn := srv.last()
	conn.push(t, protocol.EventWorkerLocationUpdated, protocol.LocationPayload{JobID: "j1", WorkerID: "w2", Latitude: 1, Longitude: 1})
	conn.push(t, protocol.EventWorkerLocationUpdated, protocol.LocationPayload{JobID: "j1", WorkerID: "w1", Latitude: 12.97, Longitude: 77.59, WorkerName: "Ravi"})
	require.Eventually(t, func() bool {
		loc, ok := w.LastLocation()
		return ok && loc.WorkerName == "Ravi"
	}, waitFor, tick)
	loc, _ := w.LastLocation()
	assert.Equal(t, models.GeoPoint{Latitude: 12.97, Longitude: 77.59}, loc.Point)

	require.NoError(t, w.ShareLocation(context.Background(), models.GeoPoint{Latitude: 1, Longitude: 2}))
	assert.Len(t, api.shared, 1)
}
