// SPDX-License-Identifier: MIT

package mask

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/ManuGH/maskd/internal/log"
)

// EncodePNG serializes the mask as a single-channel PNG, base64 text.
// A mask that violates the {0, 255} invariant is replaced by an empty mask
// of the same shape; the substitution is logged, never surfaced as an error.
// Corrupted model output must not poison the wire format.
func EncodePNG(m *Mask) (string, error) {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return "", fmt.Errorf("cannot encode mask with empty shape")
	}
	if err := m.Validate(); err != nil {
		logger := log.WithComponent("mask")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "mask.encode_sanitized").
			Int("width", m.Width).
			Int("height", m.Height).
			Msg("invalid mask replaced by empty mask before encoding")
		m = New(m.Width, m.Height)
	}

	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Pix)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodePNG parses a base64 PNG into a mask. Multi-channel input is reduced
// to its first channel; any pixel value other than 0 or 255 is rejected.
func DecodePNG(b64 string) (*Mask, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}

	m := fromFirstChannel(img)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("decoded mask is not binary: %w", err)
	}
	return m, nil
}

// fromFirstChannel extracts the first channel of img without thresholding.
func fromFirstChannel(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			m.Pix[y*m.Width+x] = firstChannel(img, b.Min.X+x, b.Min.Y+y)
		}
	}
	return m
}

func firstChannel(img image.Image, x, y int) uint8 {
	switch src := img.(type) {
	case *image.Gray:
		return src.GrayAt(x, y).Y
	case *image.RGBA:
		return src.RGBAAt(x, y).R
	case *image.NRGBA:
		return src.NRGBAAt(x, y).R
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return uint8(r >> 8)
	}
}
