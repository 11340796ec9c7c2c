// Package dataset loads labeled image datasets from a class-per-subdirectory
// layout and serves them as tensor samples through a transform pipeline.
package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"

	"finetune/training"
	"finetune/vision/transform"
)

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
	pipeline   *transform.Pipeline
}

// NewImageFolderDataset creates a dataset from a directory structure.
// Samples are decoded lazily in Get; the pipeline turns each decoded image
// into a tensor and can be swapped per training regime with WithPipeline.
func NewImageFolderDataset(root string, extensions []string, pipeline *transform.Pipeline) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}

	d := &ImageFolderDataset{
		classToIdx: make(map[string]int),
		pipeline:   pipeline,
	}

	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	classIdx := 0
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}

		className := filepath.Base(classPath)
		d.classNames = append(d.classNames, className)
		d.classToIdx[className] = classIdx

		for _, ext := range extensions {
			files, err := filepath.Glob(filepath.Join(classPath, "*"+ext))
			if err != nil {
				continue
			}
			for _, file := range files {
				d.imagePaths = append(d.imagePaths, file)
				d.labels = append(d.labels, classIdx)
			}
		}

		classIdx++
	}

	if len(d.imagePaths) == 0 {
		return nil, fmt.Errorf("%w: no images found in %s", training.ErrEmptyDataset, root)
	}

	return d, nil
}

// WithPipeline returns a view of the dataset that decodes through a
// different transform pipeline. The underlying file list is shared, so the
// augmented and plain regimes see exactly the same examples.
func (d *ImageFolderDataset) WithPipeline(pipeline *transform.Pipeline) *ImageFolderDataset {
	clone := *d
	clone.pipeline = pipeline
	return &clone
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Get decodes the image at the given index and runs it through the
// transform pipeline.
func (d *ImageFolderDataset) Get(idx int) (training.Sample, error) {
	if idx < 0 || idx >= len(d.imagePaths) {
		return training.Sample{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.imagePaths))
	}

	file, err := os.Open(d.imagePaths[idx])
	if err != nil {
		return training.Sample{}, fmt.Errorf("failed to open %s: %w", d.imagePaths[idx], err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return training.Sample{}, fmt.Errorf("failed to decode %s: %w", d.imagePaths[idx], err)
	}

	input, err := d.pipeline.Process(img)
	if err != nil {
		return training.Sample{}, fmt.Errorf("failed to transform %s: %w", d.imagePaths[idx], err)
	}

	return training.Sample{Input: input, Label: d.labels[idx]}, nil
}

// Split splits the dataset into train and validation sets with a
// deterministic shuffle driven by the given seed.
func (d *ImageFolderDataset) Split(trainRatio float64, seed int64) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	return d.subset(indices[:trainSize]), d.subset(indices[trainSize:])
}

// subset creates a dataset over the given indices, sharing class metadata.
func (d *ImageFolderDataset) subset(indices []int) *ImageFolderDataset {
	sub := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
		pipeline:   d.pipeline,
	}
	for i, idx := range indices {
		sub.imagePaths[i] = d.imagePaths[idx]
		sub.labels[i] = d.labels[idx]
	}
	return sub
}
