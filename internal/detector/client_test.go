package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/imaging"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return buf.Bytes()
}

// newFaceServer returns a server answering /embed/face with resp and recording the uploaded image.
func newFaceServer(t *testing.T, status int, resp any, uploaded *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
		} else {
			defer file.Close()
			if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("expected image/jpeg part, got %s", ct)
			}
			if uploaded != nil {
				*uploaded, _ = io.ReadAll(file)
			}
		}
		w.WriteHeader(status)
		if s, ok := resp.(string); ok {
			_, _ = w.Write([]byte(s))
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestDetect(t *testing.T) {
	resp := faceResponse{
		FacesCount: 2,
		Faces: []faceDetection{
			{FaceIndex: 0, Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}, BBox: []float64{10, 10, 50, 60}, DetScore: 0.98},
			{FaceIndex: 1, Dim: 3, Embedding: []float32{0.4, 0.5, 0.6}, BBox: []float64{70, 10, 90, 40}, DetScore: 0.91},
		},
		Model: "buffalo_l",
	}
	server := newFaceServer(t, http.StatusOK, resp, nil)
	defer server.Close()

	client := NewClient(config.DetectorConfig{URL: server.URL + "/", Dim: 3, MaxImageSize: 1920})
	faces, err := client.Detect(context.Background(), testJPEG(t, 100, 80))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].Index != 0 || faces[1].Index != 1 {
		t.Errorf("faces out of detection order: %+v", faces)
	}
	if faces[0].Score != 0.98 {
		t.Errorf("expected score 0.98, got %f", faces[0].Score)
	}
	if faces[1].Region[0] != 70 {
		t.Errorf("expected unscaled region, got %v", faces[1].Region)
	}

	encodings := Encodings(faces)
	if len(encodings) != 2 || encodings[1][2] != 0.6 {
		t.Errorf("unexpected encodings %v", encodings)
	}
}

func TestDetect_NoFaces(t *testing.T) {
	server := newFaceServer(t, http.StatusOK, faceResponse{FacesCount: 0, Faces: []faceDetection{}}, nil)
	defer server.Close()

	client := NewClient(config.DetectorConfig{URL: server.URL, Dim: 128})
	faces, err := client.Detect(context.Background(), testJPEG(t, 40, 40))
	if err != nil {
		t.Fatalf("expected no error for an empty frame, got %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}

	_, err = DetectOne(context.Background(), client, testJPEG(t, 40, 40))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestDetect_DownscalesLargeImages(t *testing.T) {
	var uploaded []byte
	resp := faceResponse{
		FacesCount: 1,
		Faces:      []faceDetection{{FaceIndex: 0, Embedding: []float32{1, 2}, BBox: []float64{10, 20, 30, 40}}},
	}
	server := newFaceServer(t, http.StatusOK, resp, &uploaded)
	defer server.Close()

	client := NewClient(config.DetectorConfig{URL: server.URL, Dim: 2, MaxImageSize: 100})
	faces, err := client.Detect(context.Background(), testJPEG(t, 400, 200))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	size, err := imaging.Dimensions(uploaded)
	if err != nil {
		t.Fatalf("uploaded image not decodable: %v", err)
	}
	if size.X != 100 || size.Y != 50 {
		t.Errorf("expected 100x50 upload, got %dx%d", size.X, size.Y)
	}
	want := []float64{40, 80, 120, 160}
	for i, v := range want {
		if faces[0].Region[i] != v {
			t.Errorf("region[%d] = %f, want %f", i, faces[0].Region[i], v)
		}
	}
}

func TestDetect_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := newFaceServer(t, http.StatusInternalServerError, "model not loaded", nil)
		defer server.Close()

		client := NewClient(config.DetectorConfig{URL: server.URL})
		if _, err := client.Detect(context.Background(), testJPEG(t, 20, 20)); err == nil {
			t.Error("expected error for a 500 response")
		}
	})

	t.Run("bad json", func(t *testing.T) {
		server := newFaceServer(t, http.StatusOK, "{not json", nil)
		defer server.Close()

		client := NewClient(config.DetectorConfig{URL: server.URL})
		if _, err := client.Detect(context.Background(), testJPEG(t, 20, 20)); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		resp := faceResponse{Faces: []faceDetection{{Embedding: []float32{1, 2, 3}}}}
		server := newFaceServer(t, http.StatusOK, resp, nil)
		defer server.Close()

		client := NewClient(config.DetectorConfig{URL: server.URL, Dim: 128})
		if _, err := client.Detect(context.Background(), testJPEG(t, 20, 20)); err == nil {
			t.Error("expected error for unexpected encoding length")
		}
	})

	t.Run("invalid image", func(t *testing.T) {
		client := NewClient(config.DetectorConfig{URL: "http://127.0.0.1:1"})
		_, err := client.Detect(context.Background(), []byte("not an image"))
		if !errors.Is(err, imaging.ErrInvalidImage) {
			t.Errorf("expected ErrInvalidImage, got %v", err)
		}
	})
}
