package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/realtime"
)

// Session is what a development login returns.
type Session struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"identity"`
}

// DevSession logs in as any identity. Only non-production servers mount it.
func (c *Client) DevSession(ctx context.Context, userID string, role models.Role) (*Session, error) {
	var out Session
	body := map[string]string{"userId": userID, "role": string(role)}
	if err := c.doJSON(ctx, http.MethodPost, routePath("api", "auth", "dev-session"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartConversation returns the caller's conversation with counterpartID.
func (c *Client) StartConversation(ctx context.Context, counterpartID string) (*models.Conversation, error) {
	var out models.Conversation
	body := map[string]string{"counterpartId": counterpartID}
	if err := c.doJSON(ctx, http.MethodPost, routePath("api", "conversations"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.doJSON(ctx, http.MethodGet, routePath("api", "conversations"), nil, nil, &out)
	return out, err
}

// History returns up to limit messages older than before, oldest first. A
// zero before starts from the newest message.
func (c *Client) History(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, routePath("api", "conversations", conversationID, "messages"), q, nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*models.Message, error) {
	var out models.Message
	body := map[string]string{"text": text}
	if err := c.doJSON(ctx, http.MethodPost, routePath("api", "conversations", conversationID, "messages"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, routePath("api", "conversations", conversationID, "read"), nil, nil, nil)
}

func workLogPath(jobID, workerID string, parts ...string) string {
	return routePath(append([]string{"api", "jobs", jobID, "workers", workerID}, parts...)...)
}

func (c *Client) FetchWorkLog(ctx context.Context, jobID, workerID string) (*models.WorkLog, error) {
	var out models.WorkLog
	if err := c.doJSON(ctx, http.MethodGet, workLogPath(jobID, workerID, "worklog"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateOTP asks the server for a start or end code. Employers only.
func (c *Client) GenerateOTP(ctx context.Context, jobID, workerID string, side models.OTPSide) (*models.WorkLogOTPIssue, error) {
	var out models.WorkLogOTPIssue
	if err := c.doJSON(ctx, http.MethodPost, workLogPath(jobID, workerID, "otp", string(side)), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyOTP(ctx context.Context, jobID, workerID string, side models.OTPSide, code string) (*models.WorkLog, error) {
	var out models.WorkLog
	body := map[string]string{"code": code}
	if err := c.doJSON(ctx, http.MethodPost, workLogPath(jobID, workerID, "otp", string(side), "verify"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPhoto streams the photo as multipart form data.
func (c *Client) UploadPhoto(ctx context.Context, jobID, workerID string, side models.OTPSide, photo realtime.PhotoUpload) (*models.WorkLog, error) {
	if photo.Content == nil {
		return nil, fmt.Errorf("upload %s photo: no content", side)
	}
	filename := photo.Filename
	if filename == "" {
		filename = string(side) + ".jpg"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writePhotoForm(mw, filename, photo))
	}()

	target, err := c.resolve(workLogPath(jobID, workerID, "photo", string(side)), nil)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.WorkLog
	err = c.do(req, &out)
	pr.Close()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func writePhotoForm(mw *multipart.Writer, filename string, photo realtime.PhotoUpload) error {
	if photo.Location != nil {
		if err := mw.WriteField("latitude", strconv.FormatFloat(photo.Location.Latitude, 'f', -1, 64)); err != nil {
			return err
		}
		if err := mw.WriteField("longitude", strconv.FormatFloat(photo.Location.Longitude, 'f', -1, 64)); err != nil {
			return err
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, photo.Content); err != nil {
		return err
	}
	return mw.Close()
}

// ShareLocation broadcasts the worker's position to the job room.
func (c *Client) ShareLocation(ctx context.Context, jobID string, point models.GeoPoint) error {
	body := map[string]any{
		"latitude":  point.Latitude,
		"longitude": point.Longitude,
	}
	if c.WorkerName != "" {
		body["workerName"] = c.WorkerName
	}
	return c.doJSON(ctx, http.MethodPost, routePath("api", "jobs", jobID, "location"), nil, body, nil)
}

func (c *Client) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Notification
	err := c.doJSON(ctx, http.MethodGet, routePath("api", "notifications"), q, nil, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, routePath("api", "notifications", id, "read"), nil, nil, nil)
}

// MarkAllNotificationsRead returns how many notifications changed.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	err := c.doJSON(ctx, http.MethodPost, routePath("api", "notifications", "read-all"), nil, nil, &out)
	return out.Updated, err
}
