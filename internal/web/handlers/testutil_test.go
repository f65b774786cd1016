package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/detector"
	"github.com/kozaktomas/rollcall/internal/enrollment"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

const testDate = "2024-03-04"

// testConfig creates a minimal config with one teacher account (password "secret")
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	return &config.Config{
		Matching:   config.MatchingConfig{Tolerance: 0.5, Metric: config.MetricEuclidean, Policy: config.PolicyFirst},
		Attendance: config.AttendanceConfig{ResetMode: config.ResetEveryCall, TimeZone: "UTC"},
		Auth:       config.AuthConfig{Teachers: map[string]string{"mrs-novak": string(hash)}},
	}
}

// fakeDetector returns canned faces for every image.
type fakeDetector struct {
	faces []detector.Face
	err   error
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte) ([]detector.Face, error) {
	return f.faces, f.err
}

func (f *fakeDetector) set(encodings ...[]float32) {
	f.faces = nil
	for i, e := range encodings {
		f.faces = append(f.faces, detector.Face{Index: i, Encoding: e, Score: 0.99})
	}
}

// handlerFixture wires the real services over in-memory stores.
type handlerFixture struct {
	cfg        *config.Config
	detector   *fakeDetector
	students   *mock.MockStudentStore
	store      *mock.MockEncodingStore
	ledger     *mock.MockLedger
	index      *database.StoreIndex
	enrollment *enrollment.Service
	attendance *attendance.Service
	stats      *StatsHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		cfg:      testConfig(t),
		detector: &fakeDetector{},
		students: mock.NewMockStudentStore(),
		store:    mock.NewMockEncodingStore(),
		ledger:   mock.NewMockLedger(),
	}
	idx := database.NewEncodingIndex(config.MetricEuclidean)
	f.index = database.NewStoreIndex(idx, f.store)
	f.enrollment = enrollment.NewService(f.students, f.store, f.detector, idx, t.TempDir(), f.cfg.Matching.Tolerance)

	reconciler := attendance.NewReconciler(f.ledger, f.students, f.cfg.Attendance)
	reconciler.SetClock(func() time.Time { return time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC) })
	f.attendance = attendance.NewService(f.detector, f.students, f.store, facematch.NewMatcher(f.cfg.Matching), reconciler)
	f.stats = NewStatsHandler(f.enrollment, f.attendance, f.index)
	return f
}

// enroll adds a student with a stored template directly to the stores.
func (f *handlerFixture) enroll(t *testing.T, name, roll, class string, encoding []float32) database.Student {
	t.Helper()
	s := f.students.AddStudent(database.Student{Name: name, Roll: roll, Class: class})
	if err := f.store.SaveEncoding(context.Background(), roll, encoding); err != nil {
		t.Fatal(err)
	}
	return s
}

// testPNG returns a small encoded image.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST request with form fields and file parts
func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, data := range files {
		part, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// withTeacher attaches a signed-in teacher session to the request
func withTeacher(r *http.Request, teacherID string) *http.Request {
	ctx := middleware.SetSessionInContext(r.Context(), &middleware.Session{ID: "test-session", TeacherID: teacherID})
	return r.WithContext(ctx)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
