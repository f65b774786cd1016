package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func createStudent(t *testing.T, h *StudentsHandler, fields map[string]string, photo []byte) *httptest.ResponseRecorder {
	t.Helper()
	files := map[string][]byte{}
	if photo != nil {
		files["photo"] = photo
	}
	req := multipartRequest(t, "/api/v1/students", fields, files)
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)
	return recorder
}

var aliceFields = map[string]string{"name": "Alice Nováková", "roll": "A1", "class": "7A"}

func TestStudentsHandler_Create(t *testing.T) {
	f := newHandlerFixture(t)
	f.detector.set([]float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	recorder := createStudent(t, h, aliceFields, testPNG(t))

	assertStatusCode(t, recorder, http.StatusCreated)
	var resp RegisterResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Student.ID == 0 || resp.Student.Roll != "A1" || !resp.Student.HasPhoto {
		t.Errorf("unexpected student %+v", resp.Student)
	}
	if !f.store.Has("A1") {
		t.Error("expected template stored under A1")
	}
}

func TestStudentsHandler_Create_ReportsLookAlikes(t *testing.T) {
	f := newHandlerFixture(t)
	f.detector.set([]float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	assertStatusCode(t, createStudent(t, h, aliceFields, testPNG(t)), http.StatusCreated)

	f.detector.set([]float32{0.1, 0})
	recorder := createStudent(t, h, map[string]string{"name": "Anna", "roll": "A9", "class": "7A"}, testPNG(t))

	assertStatusCode(t, recorder, http.StatusCreated)
	var resp RegisterResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.LookAlikes) != 1 || resp.LookAlikes[0].Roll != "A1" {
		t.Errorf("expected A1 reported as look-alike, got %+v", resp.LookAlikes)
	}
}

func TestStudentsHandler_Create_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		photo   func(t *testing.T) []byte
		noFace  bool
		status  int
		message string
	}{
		{
			name:    "missing photo",
			fields:  aliceFields,
			photo:   func(*testing.T) []byte { return nil },
			status:  http.StatusBadRequest,
			message: "photo is required",
		},
		{
			name:    "not an image",
			fields:  aliceFields,
			photo:   func(*testing.T) []byte { return []byte("hello") },
			status:  http.StatusBadRequest,
			message: "invalid image",
		},
		{
			name:    "no face",
			fields:  aliceFields,
			photo:   testPNG,
			noFace:  true,
			status:  http.StatusUnprocessableEntity,
			message: "no face detected in the photo",
		},
		{
			name:    "missing roll",
			fields:  map[string]string{"name": "Alice", "class": "7A"},
			photo:   testPNG,
			status:  http.StatusBadRequest,
			message: "validation failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			if !tc.noFace {
				f.detector.set([]float32{0, 0})
			}
			h := NewStudentsHandler(f.enrollment, f.stats)

			recorder := createStudent(t, h, tc.fields, tc.photo(t))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
			if n, _ := f.students.CountStudents(t.Context()); n != 0 {
				t.Errorf("no student should be created, got %d", n)
			}
		})
	}
}

func TestStudentsHandler_Create_DuplicateRoll(t *testing.T) {
	f := newHandlerFixture(t)
	f.detector.set([]float32{0, 0})
	f.enroll(t, "Alice", "A1", "7A", []float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	recorder := createStudent(t, h, aliceFields, testPNG(t))

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "roll number already exists")
}

func TestStudentsHandler_ListAndSearch(t *testing.T) {
	f := newHandlerFixture(t)
	f.enroll(t, "Alice Nováková", "A1", "7A", []float32{0, 0})
	f.enroll(t, "Bob Dvořák", "B2", "8B", []float32{1, 1})
	h := NewStudentsHandler(f.enrollment, f.stats)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"A1", "B2"}},
		{"?q=novakova", []string{"A1"}},
		{"?q=8b", []string{"B2"}},
		{"?q=nobody", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest("GET", "/api/v1/students"+tc.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var result []StudentResponse
			parseJSONResponse(t, recorder, &result)
			if len(result) != len(tc.want) {
				t.Fatalf("expected %d students, got %+v", len(tc.want), result)
			}
			for i, roll := range tc.want {
				if result[i].Roll != roll {
					t.Errorf("result[%d] = %s, want %s", i, result[i].Roll, roll)
				}
			}
		})
	}
}

func TestStudentsHandler_Get(t *testing.T) {
	f := newHandlerFixture(t)
	alice := f.enroll(t, "Alice", "A1", "7A", []float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/students/1", nil), map[string]string{"id": "1"})
	h.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp StudentResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.ID != alice.ID || resp.HasTemplate == nil || !*resp.HasTemplate {
		t.Errorf("unexpected response %+v", resp)
	}

	for _, id := range []string{"99", "abc", "0"} {
		recorder = httptest.NewRecorder()
		h.Get(recorder, requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"id": id}))
		if recorder.Code != http.StatusNotFound && recorder.Code != http.StatusBadRequest {
			t.Errorf("id %s: expected 404 or 400, got %d", id, recorder.Code)
		}
	}
}

func TestStudentsHandler_Update_RollChangeMovesTemplate(t *testing.T) {
	f := newHandlerFixture(t)
	f.enroll(t, "Alice", "A1", "7A", []float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	req := multipartRequest(t, "/api/v1/students/1", map[string]string{"name": "Alice", "roll": "A7", "class": "8A"}, nil)
	req.Method = http.MethodPut
	recorder := httptest.NewRecorder()
	h.Update(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp StudentResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Roll != "A7" || resp.Class != "8A" {
		t.Errorf("unexpected response %+v", resp)
	}
	if f.store.Has("A1") || !f.store.Has("A7") {
		t.Error("expected template moved from A1 to A7")
	}
}

func TestStudentsHandler_Update_DuplicateRoll(t *testing.T) {
	f := newHandlerFixture(t)
	f.enroll(t, "Alice", "A1", "7A", []float32{0, 0})
	f.enroll(t, "Bob", "B2", "7A", []float32{1, 1})
	h := NewStudentsHandler(f.enrollment, f.stats)

	req := multipartRequest(t, "/api/v1/students/1", map[string]string{"name": "Alice", "roll": "B2", "class": "7A"}, nil)
	req.Method = http.MethodPut
	recorder := httptest.NewRecorder()
	h.Update(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusConflict)
	if !f.store.Has("A1") {
		t.Error("template for A1 must be untouched")
	}
}

func TestStudentsHandler_Delete(t *testing.T) {
	f := newHandlerFixture(t)
	f.enroll(t, "Alice", "A1", "7A", []float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)

	recorder := httptest.NewRecorder()
	h.Delete(recorder, requestWithChiParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusNoContent)
	if f.store.Has("A1") {
		t.Error("expected template removed")
	}

	recorder = httptest.NewRecorder()
	h.Delete(recorder, requestWithChiParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestStudentsHandler_Photo(t *testing.T) {
	f := newHandlerFixture(t)
	f.detector.set([]float32{0, 0})
	h := NewStudentsHandler(f.enrollment, f.stats)
	photo := testPNG(t)
	assertStatusCode(t, createStudent(t, h, aliceFields, photo), http.StatusCreated)

	recorder := httptest.NewRecorder()
	h.Photo(recorder, requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	if !bytes.Equal(recorder.Body.Bytes(), photo) {
		t.Error("served photo differs from the uploaded one")
	}

	f.enroll(t, "Bob", "B2", "7A", []float32{1, 1})
	recorder = httptest.NewRecorder()
	h.Photo(recorder, requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"id": "2"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}
