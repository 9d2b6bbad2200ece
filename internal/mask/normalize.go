// SPDX-License-Identifier: MIT

package mask

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// NormalizeUpload converts a user-edited mask image into a session mask:
// first channel of multi-channel input, nearest-neighbor resize to the
// working dimensions when shapes differ, then threshold at 128 into {0, 255}.
//
// First-channel extraction (rather than max-across-channels) matches the
// original upload pipeline and is pinned by tests.
func NormalizeUpload(img image.Image, width, height int) (*Mask, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}

	gray := channelToGray(img)
	if gray.Bounds().Dx() != width || gray.Bounds().Dy() != height {
		// Nearest neighbor keeps the upload binary through the resize.
		resized := resize.Resize(uint(width), uint(height), gray, resize.NearestNeighbor)
		gray = toGray(resized)
	}

	m := New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if gray.GrayAt(x, y).Y >= 128 {
				m.Pix[y*width+x] = On
			}
		}
	}
	return m, nil
}

// channelToGray projects the first channel of img into a Gray image.
func channelToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = firstChannel(img, b.Min.X+x, b.Min.Y+y)
		}
	}
	return out
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && img.Bounds().Min == image.Pt(0, 0) {
		return g
	}
	return channelToGray(img)
}
