// Package fingerprint computes difference hashes of frames so near-identical
// captures can be told apart from genuinely new ones.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Hash is a 64-bit difference hash.
type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Compute decodes an image and returns its difference hash. The image is
// scaled to 9x8 luma samples; each bit records whether a sample is brighter
// than its right neighbour.
func Compute(data []byte) (Hash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	small := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash Hash
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if small.GrayAt(x, y).Y > small.GrayAt(x+1, y).Y {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash, nil
}

// Distance is the number of differing bits.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Near reports whether h is within maxDistance bits of any of others.
func Near(h Hash, others []Hash, maxDistance int) bool {
	for _, o := range others {
		if Distance(h, o) <= maxDistance {
			return true
		}
	}
	return false
}
