package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestResizeImage(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		maxSize    int
		wantWidth  int
		wantHeight int
	}{
		{"landscape downscaled", 400, 200, 100, 100, 50},
		{"portrait downscaled", 200, 400, 100, 50, 100},
		{"small image kept", 80, 60, 100, 80, 60},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := encodePNG(t, createTestImage(tc.width, tc.height))

			resized, err := ResizeImage(data, tc.maxSize)
			if err != nil {
				t.Fatalf("ResizeImage failed: %v", err)
			}
			if got := DetectMIMEType(resized); got != "image/jpeg" {
				t.Errorf("expected JPEG output, got %s", got)
			}

			size, err := Dimensions(resized)
			if err != nil {
				t.Fatalf("Dimensions failed: %v", err)
			}
			if size.X != tc.wantWidth || size.Y != tc.wantHeight {
				t.Errorf("got %dx%d, want %dx%d", size.X, size.Y, tc.wantWidth, tc.wantHeight)
			}
		})
	}
}

func TestResizeImage_Invalid(t *testing.T) {
	_, err := ResizeImage([]byte("not an image"), 100)
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	jpg := encodeJPEG(t, createTestImage(20, 10))
	encoded := base64.StdEncoding.EncodeToString(jpg)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"jpeg data URL", "data:image/jpeg;base64," + encoded, false},
		{"bare base64", encoded, false},
		{"empty", "", true},
		{"missing comma", "data:image/jpeg;base64", true},
		{"not base64 encoded", "data:image/jpeg," + encoded, true},
		{"bad base64", "data:image/jpeg;base64,!!!", true},
		{"not an image", "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("hello world")), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := DecodeDataURL(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Errorf("expected ErrInvalidImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(data, jpg) {
				t.Error("decoded bytes differ from the original image")
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"bmp", []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, "image/bmp"},
		{"webp", []byte{0x52, 0x49, 0x46, 0x46, 0, 0, 0, 0, 0x57, 0x45, 0x42, 0x50}, "image/webp"},
		{"too short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("plain text data"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMIMEType(tc.data); got != tc.want {
				t.Errorf("DetectMIMEType() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	if got := Extension(encodePNG(t, createTestImage(4, 4))); got != ".png" {
		t.Errorf("expected .png, got %s", got)
	}
	if got := Extension(encodeJPEG(t, createTestImage(4, 4))); got != ".jpg" {
		t.Errorf("expected .jpg, got %s", got)
	}
}
