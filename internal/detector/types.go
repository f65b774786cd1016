// Package detector talks to the face embedding server that finds faces and encodes them.
package detector

import (
	"context"
	"errors"
)

// ErrNoFaceDetected is returned when an image that must contain a face has none.
var ErrNoFaceDetected = errors.New("no face detected")

// Face is one detected face.
type Face struct {
	Index    int
	Region   []float64 // [x1, y1, x2, y2] in pixels of the submitted image
	Score    float64
	Encoding []float32
}

// Detector finds faces in an image and returns them in detection order.
// An empty result is valid and means no faces were found.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Face, error)
}

// Encodings returns the encodings of the faces in order.
func Encodings(faces []Face) [][]float32 {
	encodings := make([][]float32, len(faces))
	for i, f := range faces {
		encodings[i] = f.Encoding
	}
	return encodings
}

// faceDetection represents a single detected face in the server response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}
