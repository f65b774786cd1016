package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/enrollment"
)

// StudentsHandler handles the student directory endpoints
type StudentsHandler struct {
	enrollment *enrollment.Service
	stats      *StatsHandler
}

// NewStudentsHandler creates a new students handler
func NewStudentsHandler(svc *enrollment.Service, stats *StatsHandler) *StudentsHandler {
	return &StudentsHandler{
		enrollment: svc,
		stats:      stats,
	}
}

// StudentResponse represents a student in API responses
type StudentResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Roll        string `json:"roll"`
	Class       string `json:"class"`
	HasPhoto    bool   `json:"has_photo"`
	HasTemplate *bool  `json:"has_template,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toStudentResponse(s database.Student) StudentResponse {
	resp := StudentResponse{
		ID:       s.ID,
		Name:     s.Name,
		Roll:     s.Roll,
		Class:    s.Class,
		HasPhoto: s.PhotoPath != "",
	}
	if !s.CreatedAt.IsZero() {
		resp.CreatedAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// LookAlikeResponse is an enrolled student whose template resembles a newly registered face
type LookAlikeResponse struct {
	Roll     string  `json:"roll"`
	Distance float64 `json:"distance"`
}

// RegisterResponse represents the response of a registration
type RegisterResponse struct {
	Student    StudentResponse     `json:"student"`
	LookAlikes []LookAlikeResponse `json:"look_alikes,omitempty"`
}

// studentID parses the {id} URL parameter.
func studentID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// parseStudentForm reads the name, roll and class fields plus an optional photo.
func parseStudentForm(r *http.Request) (enrollment.Input, []byte, error) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return enrollment.Input{}, nil, err
	}
	in := enrollment.Input{
		Name:  r.FormValue("name"),
		Roll:  r.FormValue("roll"),
		Class: r.FormValue("class"),
	}
	photo, err := readUpload(r, "photo")
	return in, photo, err
}

// List returns all students, or those matching the q query parameter
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		students []database.Student
		err      error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		students, err = h.enrollment.Search(r.Context(), q)
	} else {
		students, err = h.enrollment.List(r.Context())
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	result := make([]StudentResponse, len(students))
	for i, s := range students {
		result[i] = toStudentResponse(s)
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns a single student
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	student, err := h.enrollment.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := toStudentResponse(*student)
	hasTemplate, err := h.enrollment.HasTemplate(r.Context(), student.Roll)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp.HasTemplate = &hasTemplate
	respondJSON(w, http.StatusOK, resp)
}

// Create registers a new student from a multipart form with a reference photo
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, photo, err := parseStudentForm(r)
	if err != nil {
		respondFormError(w, err)
		return
	}
	if photo == nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}

	reg, err := h.enrollment.Register(r.Context(), in, photo)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.stats.InvalidateCache()

	resp := RegisterResponse{Student: toStudentResponse(*reg.Student)}
	for _, m := range reg.LookAlikes {
		resp.LookAlikes = append(resp.LookAlikes, LookAlikeResponse{Roll: m.Roll, Distance: m.Distance})
	}
	respondJSON(w, http.StatusCreated, resp)
}

// Update edits a student. The photo field is optional.
func (h *StudentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	in, photo, err := parseStudentForm(r)
	if err != nil {
		respondFormError(w, err)
		return
	}

	student, err := h.enrollment.Update(r.Context(), id, in, photo)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.stats.InvalidateCache()
	respondJSON(w, http.StatusOK, toStudentResponse(*student))
}

// Delete removes a student and their template
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	if err := h.enrollment.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	h.stats.InvalidateCache()
	w.WriteHeader(http.StatusNoContent)
}

// Photo serves the student's registration photo
func (h *StudentsHandler) Photo(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	student, err := h.enrollment.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if student.PhotoPath == "" {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeFile(w, r, student.PhotoPath)
}
