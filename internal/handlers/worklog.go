package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/workbridge/internal/models"
)

// maxPhotoSize bounds attendance photo uploads.
const maxPhotoSize = 10 << 20

// VerifyOTPRequest carries the code the worker typed in.
type VerifyOTPRequest struct {
	Code string `json:"code"`
}

// ShareLocationRequest is the worker's current position.
type ShareLocationRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	WorkerName string  `json:"workerName,omitempty"`
}

func workLogParams(w http.ResponseWriter, r *http.Request) (jobID, workerID string, side models.OTPSide, ok bool) {
	jobID = chi.URLParam(r, "jobID")
	workerID = chi.URLParam(r, "workerID")
	if s := chi.URLParam(r, "side"); s != "" {
		parsed, err := models.ParseOTPSide(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "side must be start or end.")
			return "", "", "", false
		}
		side = parsed
	}
	return jobID, workerID, side, true
}

// GetWorkLog returns today's work log for a job/worker pair.
func (a *API) GetWorkLog(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	jobID, workerID, _, ok := workLogParams(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	wl, err := a.WorkLogs.Get(ctx, caller, jobID, workerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// GenerateOTP issues a start or end code. Employers only.
func (a *API) GenerateOTP(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	jobID, workerID, side, ok := workLogParams(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	issue, err := a.WorkLogs.GenerateOTP(ctx, caller, jobID, workerID, side)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// VerifyOTP checks the worker's code. Workers only.
func (a *API) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	jobID, workerID, side, ok := workLogParams(w, r)
	if !ok {
		return
	}
	var req VerifyOTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	wl, err := a.WorkLogs.VerifyOTP(ctx, caller, jobID, workerID, side, strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// UploadPhoto accepts multipart form data: photo (file) plus optional
// latitude and longitude fields.
func (a *API) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	jobID, workerID, side, ok := workLogParams(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+1<<20)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Photo upload must be multipart form data under 10 MB.")
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodePhotoRequired, "A photo is required.")
		return
	}
	defer file.Close()
	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "The photo must be an image.")
		return
	}

	location, err := formLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*requestTimeout)
	defer cancel()

	wl, err := a.WorkLogs.AttachPhoto(ctx, caller, jobID, workerID, side, file, location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

type formError string

func (e formError) Error() string { return string(e) }

func formLocation(r *http.Request) (*models.GeoPoint, error) {
	latStr, lngStr := r.FormValue("latitude"), r.FormValue("longitude")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, formError("latitude and longitude must be valid coordinates.")
	}
	return &models.GeoPoint{Latitude: lat, Longitude: lng}, nil
}

// ShareLocation broadcasts the worker's live position to the job room.
func (a *API) ShareLocation(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	var req ShareLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	point := models.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := a.WorkLogs.ShareLocation(ctx, caller, chi.URLParam(r, "jobID"), point, strings.TrimSpace(req.WorkerName)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
