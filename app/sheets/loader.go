package sheets

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/minio/highwayhash"
)

// hashKey is the hardcoded key used for sheet content hashing. A fixed key
// keeps the same image at the same hash across sessions, which is what the
// detection cache needs.
var hashKey = []byte("planlens sheet hash\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")

// Sheet is one loaded drawing image: its raw bytes for detection uploads,
// its content hash for cache keys, and its intrinsic pixel size.
type Sheet struct {
	Path          string `json:"path"`
	FileName      string `json:"fileName"`
	Hash          string `json:"hash"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`

	data []byte
	img  image.Image
}

// Data returns the raw file bytes for upload to the detection service.
func (s *Sheet) Data() []byte {
	return s.data
}

// Load reads and decodes a sheet image from disk.
func Load(path string) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sheet image %s: %w", path, err)
	}

	hash, err := contentHash(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &Sheet{
		Path:          path,
		FileName:      filepath.Base(path),
		Hash:          hash,
		NaturalWidth:  bounds.Dx(),
		NaturalHeight: bounds.Dy(),
		data:          data,
		img:           img,
	}, nil
}

// DataURL returns the full image as a PNG data URL for the frontend.
func (s *Sheet) DataURL() (string, error) {
	return encodeDataURL(s.img)
}

// Thumbnail renders the sheet scaled to fit within maxW x maxH, preserving
// aspect ratio, as a PNG data URL. Used by the workspace switcher strip.
func (s *Sheet) Thumbnail(maxW, maxH int) (string, error) {
	if maxW <= 0 || maxH <= 0 {
		return "", fmt.Errorf("invalid thumbnail bounds %dx%d", maxW, maxH)
	}
	thumb := imaging.Fit(s.img, maxW, maxH, imaging.Lanczos)
	return encodeDataURL(thumb)
}

// CropPreview renders the given natural-pixel rectangle as a PNG data URL.
// Used when the detection service response does not include its own crop
// preview.
func (s *Sheet) CropPreview(x, y, w, h int) (string, error) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(s.img.Bounds())
	if rect.Empty() {
		return "", fmt.Errorf("crop (%d,%d %dx%d) outside image bounds", x, y, w, h)
	}
	crop := imaging.Crop(s.img, rect)
	return encodeDataURL(crop)
}

func encodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// contentHash calculates a HighwayHash of the image bytes using the fixed
// key.
func contentHash(data []byte) (string, error) {
	h, err := highwayhash.New(hashKey)
	if err != nil {
		return "", fmt.Errorf("failed to create hash: %w", err)
	}
	if _, err := h.Write(data); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
