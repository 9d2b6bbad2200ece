// SPDX-License-Identifier: MIT

// Package mask implements the binary segmentation mask model: a working-
// dimension grid whose value set is exactly {0, 255}, plus the PNG/base64
// wire codec and the normalization applied to user-edited uploads.
package mask

import (
	"fmt"
)

// On and Off are the only legal pixel values.
const (
	Off uint8 = 0
	On  uint8 = 255
)

// Mask is a single-object binary mask in the session's working dimensions.
// Pix is row-major, len == Width*Height.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New returns an all-zero mask of the given dimensions.
func New(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the pixel value at (x, y). Out-of-bounds reads return Off.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return Off
	}
	return m.Pix[y*m.Width+x]
}

// Set writes v at (x, y). Out-of-bounds writes are ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Validate checks the shape and the {0, 255} value invariant.
func (m *Mask) Validate() error {
	if m == nil {
		return fmt.Errorf("mask is nil")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("mask has invalid dimensions %dx%d", m.Width, m.Height)
	}
	if len(m.Pix) != m.Width*m.Height {
		return fmt.Errorf("mask pixel buffer has %d bytes, want %d", len(m.Pix), m.Width*m.Height)
	}
	for i, v := range m.Pix {
		if v != Off && v != On {
			return fmt.Errorf("mask pixel %d has value %d, want 0 or 255", i, v)
		}
	}
	return nil
}

// CountNonzero returns the number of On pixels.
func (m *Mask) CountNonzero() int {
	n := 0
	for _, v := range m.Pix {
		if v != Off {
			n++
		}
	}
	return n
}

// Empty reports whether the mask has no On pixels.
func (m *Mask) Empty() bool {
	return m.CountNonzero() == 0
}

// Shifted returns a copy translated by (dx, dy) with zero fill, used by the
// propagation simulator.
func (m *Mask) Shifted(dx, dy int) *Mask {
	out := New(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] == On {
				out.Set(x+dx, y+dy, On)
			}
		}
	}
	return out
}
