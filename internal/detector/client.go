package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/imaging"
)

const (
	defaultDetectorURL = "http://localhost:8000"
	defaultTimeout     = 60 * time.Second
)

// Client computes face encodings using the embedding server
type Client struct {
	baseURL      string
	dim          int
	maxImageSize int
	client       *http.Client
}

// NewClient creates a new detector client
func NewClient(cfg config.DetectorConfig) *Client {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		dim:          cfg.Dim,
		maxImageSize: cfg.MaxImageSize,
		client:       &http.Client{Timeout: defaultTimeout},
	}
}

// postMultipartImage posts the image as the "file" field of a multipart form.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image`+imaging.Extension(imageData)+`"`)
	h.Set("Content-Type", imaging.DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// prepare downscales large images and returns the factor that maps regions back to the original.
func (c *Client) prepare(imageData []byte) ([]byte, float64, error) {
	size, err := imaging.Dimensions(imageData)
	if err != nil {
		return nil, 0, err
	}
	if c.maxImageSize <= 0 || (size.X <= c.maxImageSize && size.Y <= c.maxImageSize) {
		return imageData, 1, nil
	}

	resized, err := imaging.ResizeImage(imageData, c.maxImageSize)
	if err != nil {
		return nil, 0, err
	}
	scale := float64(max(size.X, size.Y)) / float64(c.maxImageSize)
	return resized, scale, nil
}

// Detect finds faces in the image and computes their encodings, in detection order.
// Overlapping detections of the same face are collapsed to the highest-scoring one.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	data, scale, err := c.prepare(imageData)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, d := range faceResp.Faces {
		if len(d.Embedding) == 0 {
			continue
		}
		if c.dim > 0 && len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("detector returned %d-dimensional encoding, expected %d", len(d.Embedding), c.dim)
		}
		region := make([]float64, len(d.BBox))
		for i, v := range d.BBox {
			region[i] = v * scale
		}
		faces = append(faces, Face{
			Index:    d.FaceIndex,
			Region:   region,
			Score:    d.DetScore,
			Encoding: d.Embedding,
		})
	}
	return dropDuplicates(faces), nil
}

// DetectOne returns the first detected face, or ErrNoFaceDetected.
func DetectOne(ctx context.Context, d Detector, imageData []byte) (*Face, error) {
	faces, err := d.Detect(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	return &faces[0], nil
}
