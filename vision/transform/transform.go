// Package transform implements the image preprocessing and augmentation
// pipeline that turns a decoded image into a fixed-size CHW float32 tensor.
package transform

import (
	"fmt"
	"image"
	"math/rand"
	"sync"

	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// Transform maps an image to an image. Geometric and photometric steps
// compose into a pipeline; tensor conversion happens once at the end.
type Transform interface {
	Apply(img image.Image) (image.Image, error)
}

// Resize scales the image to Width x Height with bilinear interpolation.
type Resize struct {
	Width  int
	Height int
}

// Apply scales the image.
func (t Resize) Apply(img image.Image) (image.Image, error) {
	if t.Width <= 0 || t.Height <= 0 {
		return nil, fmt.Errorf("resize: invalid target %dx%d", t.Width, t.Height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// CenterCrop extracts a Width x Height region from the image center.
type CenterCrop struct {
	Width  int
	Height int
}

// Apply crops the image center.
func (t CenterCrop) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	if bounds.Dx() < t.Width || bounds.Dy() < t.Height {
		return nil, fmt.Errorf("center crop: image %dx%d smaller than crop %dx%d",
			bounds.Dx(), bounds.Dy(), t.Width, t.Height)
	}
	x0 := bounds.Min.X + (bounds.Dx()-t.Width)/2
	y0 := bounds.Min.Y + (bounds.Dy()-t.Height)/2
	return cropRGBA(img, image.Rect(x0, y0, x0+t.Width, y0+t.Height)), nil
}

// RandomCrop extracts a Width x Height region at a random offset. Safe for
// concurrent use: the random source is guarded, so parallel sample loaders
// can share one pipeline.
type RandomCrop struct {
	Width  int
	Height int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomCrop creates a seeded random crop.
func NewRandomCrop(width, height int, seed int64) *RandomCrop {
	return &RandomCrop{
		Width:  width,
		Height: height,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Apply crops a random region.
func (t *RandomCrop) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	if bounds.Dx() < t.Width || bounds.Dy() < t.Height {
		return nil, fmt.Errorf("random crop: image %dx%d smaller than crop %dx%d",
			bounds.Dx(), bounds.Dy(), t.Width, t.Height)
	}
	t.mu.Lock()
	dx := t.rng.Intn(bounds.Dx() - t.Width + 1)
	dy := t.rng.Intn(bounds.Dy() - t.Height + 1)
	t.mu.Unlock()

	x0 := bounds.Min.X + dx
	y0 := bounds.Min.Y + dy
	return cropRGBA(img, image.Rect(x0, y0, x0+t.Width, y0+t.Height)), nil
}

// RandomHorizontalFlip mirrors the image left-right with probability P.
type RandomHorizontalFlip struct {
	P float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomHorizontalFlip creates a seeded random flip.
func NewRandomHorizontalFlip(p float64, seed int64) *RandomHorizontalFlip {
	return &RandomHorizontalFlip{
		P:   p,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Apply flips the image with probability P.
func (t *RandomHorizontalFlip) Apply(img image.Image) (image.Image, error) {
	t.mu.Lock()
	flip := t.rng.Float64() < t.P
	t.mu.Unlock()
	if !flip {
		return img, nil
	}

	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			dst.Set(bounds.Dx()-1-x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return dst, nil
}

// Pipeline chains image transforms and finishes with tensor conversion:
// CHW float32, scaled to [0, 1], then normalized per channel.
type Pipeline struct {
	steps []Transform
	mean  [3]float32
	std   [3]float32
}

// NewPipeline creates a pipeline with the given steps and per-channel
// normalization constants.
func NewPipeline(mean, std [3]float32, steps ...Transform) *Pipeline {
	return &Pipeline{steps: steps, mean: mean, std: std}
}

// Process runs the image transforms and converts the result to a tensor.
func (p *Pipeline) Process(img image.Image) (*tensor.Dense, error) {
	var err error
	for i, step := range p.steps {
		img, err = step.Apply(img)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return toTensor(img, p.mean, p.std), nil
}

// ImageNet normalization constants, the convention for fine-tuning
// classifiers pretrained on ImageNet.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Augmented builds the training-time pipeline: upscale, random crop to the
// target size, random horizontal flip, normalize.
func Augmented(size int, seed int64) *Pipeline {
	scaled := size + size/8
	return NewPipeline(ImageNetMean, ImageNetStd,
		Resize{Width: scaled, Height: scaled},
		NewRandomCrop(size, size, seed),
		NewRandomHorizontalFlip(0.5, seed+1),
	)
}

// Plain builds the deterministic pipeline used for evaluation and for the
// non-augmented training regime: upscale, center crop, normalize.
func Plain(size int) *Pipeline {
	scaled := size + size/8
	return NewPipeline(ImageNetMean, ImageNetStd,
		Resize{Width: scaled, Height: scaled},
		CenterCrop{Width: size, Height: size},
	)
}

// toTensor converts an image to CHW float32 in [0, 1], normalized per
// channel.
func toTensor(img image.Image, mean, std [3]float32) *tensor.Dense {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*width + x
			data[0*plane+idx] = (float32(r)/65535.0 - mean[0]) / std[0]
			data[1*plane+idx] = (float32(g)/65535.0 - mean[1]) / std[1]
			data[2*plane+idx] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}

	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, height, width), tensor.WithBacking(data))
}

// cropRGBA copies the region r of src into a fresh image anchored at the
// origin.
func cropRGBA(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.Set(x, y, src.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}
