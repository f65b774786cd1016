package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/detector"
	"github.com/kozaktomas/rollcall/internal/enrollment"
	"github.com/kozaktomas/rollcall/internal/imaging"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// validationResponse lists the invalid fields of a rejected request.
type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

// respondServiceError maps domain errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	var ve *enrollment.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, database.ErrDuplicateRoll):
		respondError(w, http.StatusConflict, "roll number already exists")
	case errors.Is(err, database.ErrStudentNotFound):
		respondError(w, http.StatusNotFound, "student not found")
	case errors.Is(err, detector.ErrNoFaceDetected):
		respondError(w, http.StatusUnprocessableEntity, "no face detected in the photo")
	case errors.Is(err, imaging.ErrInvalidImage):
		respondError(w, http.StatusBadRequest, "invalid image")
	case errors.Is(err, attendance.ErrInvalidDate):
		respondError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	default:
		log.Printf("Error: %s", sanitizeForLog(err.Error()))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readUpload returns the bytes of a multipart file field, or nil when the field is absent.
// The request's multipart form must already be parsed.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if _, err := imaging.Dimensions(data); err != nil {
		return nil, err
	}
	return data, nil
}

// respondFormError reports an unreadable form or upload as a bad request.
func respondFormError(w http.ResponseWriter, err error) {
	if errors.Is(err, imaging.ErrInvalidImage) {
		respondError(w, http.StatusBadRequest, "invalid image")
		return
	}
	respondError(w, http.StatusBadRequest, "invalid form data")
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
