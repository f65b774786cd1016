package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"slices"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/export"
	"github.com/kozaktomas/rollcall/internal/imaging"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

// AttendanceHandler handles capture, ledger listing and export
type AttendanceHandler struct {
	service *attendance.Service
	stats   *StatsHandler
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc *attendance.Service, stats *StatsHandler) *AttendanceHandler {
	return &AttendanceHandler{
		service: svc,
		stats:   stats,
	}
}

// captureRequest is the JSON form of a capture: a browser data URL and an optional date
type captureRequest struct {
	Image string `json:"image"`
	Date  string `json:"date"`
}

// StudentRef identifies a student in capture results
type StudentRef struct {
	Roll string `json:"roll"`
	Name string `json:"name"`
}

// FaceMatchResponse is one detected face credited to a student
type FaceMatchResponse struct {
	FaceIndex int     `json:"face_index"`
	Roll      string  `json:"roll"`
	Name      string  `json:"name"`
	Distance  float64 `json:"distance"`
}

// RollError reports a per-roll problem without failing the whole capture
type RollError struct {
	Roll  string `json:"roll"`
	Error string `json:"error"`
}

// CaptureResponse represents the result of an attendance capture
type CaptureResponse struct {
	Date     string              `json:"date"`
	Outcome  string              `json:"outcome"`
	Faces    int                 `json:"faces"`
	Present  []string            `json:"present"`
	Marked   []StudentRef        `json:"marked"`
	Matches  []FaceMatchResponse `json:"matches"`
	Skipped  []RollError         `json:"skipped,omitempty"`
	Failures []RollError         `json:"failures,omitempty"`
	Reset    int64               `json:"reset"`
}

func rollErrors(m map[string]error) []RollError {
	if len(m) == 0 {
		return nil
	}
	result := make([]RollError, 0, len(m))
	for roll, err := range m {
		result = append(result, RollError{Roll: roll, Error: err.Error()})
	}
	slices.SortFunc(result, func(a, b RollError) int {
		switch {
		case a.Roll < b.Roll:
			return -1
		case a.Roll > b.Roll:
			return 1
		}
		return 0
	})
	return result
}

func toCaptureResponse(report *attendance.Report) CaptureResponse {
	resp := CaptureResponse{
		Date:     report.Date,
		Outcome:  string(report.Outcome),
		Faces:    report.Faces,
		Present:  report.Names(),
		Marked:   make([]StudentRef, 0, len(report.Marked)),
		Matches:  make([]FaceMatchResponse, 0, len(report.Matched)),
		Skipped:  rollErrors(report.Skipped),
		Failures: rollErrors(report.Failures),
		Reset:    report.Reset,
	}
	if resp.Present == nil {
		resp.Present = []string{}
	}
	for _, s := range report.Marked {
		resp.Marked = append(resp.Marked, StudentRef{Roll: s.Roll, Name: s.Name})
	}
	for _, m := range report.Matched {
		resp.Matches = append(resp.Matches, FaceMatchResponse{
			FaceIndex: m.FaceIndex,
			Roll:      m.Student.Roll,
			Name:      m.Student.Name,
			Distance:  m.Distance,
		})
	}
	return resp
}

// readCapture extracts the frame and optional date from a JSON or multipart request.
func readCapture(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req captureRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)).Decode(&req); err != nil {
			return nil, "", fmt.Errorf("decoding capture: %w", err)
		}
		image, err := imaging.DecodeDataURL(req.Image)
		return image, req.Date, err
	}

	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, "", fmt.Errorf("parsing form: %w", err)
	}
	image, err := readUpload(r, "image")
	if err != nil {
		return nil, "", err
	}
	if image == nil {
		// Browser captures post the frame as a data URL form field.
		image, err = imaging.DecodeDataURL(r.FormValue("image"))
	}
	return image, r.FormValue("date"), err
}

// Capture detects faces in a captured frame and marks the recognized students present
func (h *AttendanceHandler) Capture(w http.ResponseWriter, r *http.Request) {
	marker := middleware.TeacherFromContext(r.Context())
	if marker == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	image, date, err := readCapture(w, r)
	if err != nil {
		respondFormError(w, err)
		return
	}

	report, err := h.service.Capture(r.Context(), image, marker, date)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.stats.InvalidateCache()

	status := http.StatusOK
	if report.Outcome == attendance.OutcomeFailed {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, toCaptureResponse(report))
}

// parseFilter reads ledger filters from the query string and validates the dates.
func parseFilter(r *http.Request) (database.AttendanceFilter, error) {
	q := r.URL.Query()
	filter := database.AttendanceFilter{
		Date:  q.Get("date"),
		From:  q.Get("from"),
		To:    q.Get("to"),
		Roll:  q.Get("roll"),
		Class: q.Get("class"),
	}
	for _, d := range []string{filter.Date, filter.From, filter.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(database.DateLayout, d); err != nil {
			return filter, fmt.Errorf("%w: %q", attendance.ErrInvalidDate, d)
		}
	}
	return filter, nil
}

// AttendanceRecordResponse represents one ledger row
type AttendanceRecordResponse struct {
	Roll    string `json:"roll"`
	Name    string `json:"name"`
	Class   string `json:"class"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Teacher string `json:"teacher"`
	Status  string `json:"status"`
}

// List returns ledger rows, newest first
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	records, err := h.service.Records(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	result := make([]AttendanceRecordResponse, len(records))
	for i, rec := range records {
		result[i] = AttendanceRecordResponse{
			Roll:    rec.Roll,
			Name:    rec.Name,
			Class:   rec.Class,
			Date:    rec.Date,
			Time:    rec.Time,
			Teacher: rec.Teacher,
			Status:  string(rec.Status),
		}
	}
	respondJSON(w, http.StatusOK, result)
}

// Export downloads ledger rows as a spreadsheet
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	records, err := h.service.Records(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(filter)))
	if err := export.WriteXLSX(w, records); err != nil {
		// Headers are already sent; the client sees a truncated file.
		log.Printf("Error: writing export: %v", err)
	}
}
