// Package embeddingtest provides in-memory embedding capabilities and test images.
package embeddingtest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/kozaktomas/facepass/internal/embedding"
)

// JPEG returns a small solid-color gray JPEG. Shades at least 16 apart encode to different bytes.
func JPEG(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Detector returns descriptors registered per image. Unregistered images have no face.
type Detector struct {
	mu          sync.Mutex
	descriptors map[string]embedding.Descriptor
	errors      map[string]error
	calls       int
}

func NewDetector() *Detector {
	return &Detector{
		descriptors: make(map[string]embedding.Descriptor),
		errors:      make(map[string]error),
	}
}

// Set registers the descriptor returned for img.
func (d *Detector) Set(img []byte, desc embedding.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.descriptors[string(img)] = desc
}

// Fail makes detection of img return err.
func (d *Detector) Fail(img []byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors[string(img)] = err
}

func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Detector) Detect(_ context.Context, img []byte) (embedding.Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err, ok := d.errors[string(img)]; ok {
		return nil, err
	}
	if desc, ok := d.descriptors[string(img)]; ok {
		return desc, nil
	}
	return nil, embedding.ErrNoFace
}

// Classifier returns expressions registered per image. Unregistered images have no face.
type Classifier struct {
	mu          sync.Mutex
	expressions map[string]embedding.Expressions
	errors      map[string]error
}

func NewClassifier() *Classifier {
	return &Classifier{
		expressions: make(map[string]embedding.Expressions),
		errors:      make(map[string]error),
	}
}

// Set registers a single dominant expression for img.
func (c *Classifier) Set(img []byte, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expressions[string(img)] = embedding.Expressions{label: 0.9, "other": 0.1}
}

// Fail makes classification of img return err.
func (c *Classifier) Fail(img []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[string(img)] = err
}

func (c *Classifier) ClassifyExpression(_ context.Context, img []byte) (embedding.Expressions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errors[string(img)]; ok {
		return nil, err
	}
	if expr, ok := c.expressions[string(img)]; ok {
		return expr, nil
	}
	return nil, embedding.ErrNoFace
}

var (
	_ embedding.Detector             = (*Detector)(nil)
	_ embedding.ExpressionClassifier = (*Classifier)(nil)
)
