package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/facepass/internal/constants"
)

// NormalizeFrame validates an encoded frame and returns it as JPEG with its dimensions.
// JPEG input is returned unchanged; PNG, BMP and WebP are re-encoded.
func NormalizeFrame(data []byte) ([]byte, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	if format == "jpeg" {
		return data, cfg.Width, cfg.Height, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), cfg.Width, cfg.Height, nil
}
