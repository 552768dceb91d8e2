package analysis

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Classifications produced by ImageClassifier.
const (
	ClassNonImage       = "Non-Image Document"
	ClassLowResolution  = "Low Resolution Image"
	ClassRadiograph     = "Radiograph"
	ClassScannedPage    = "Scanned Document"
	ClassClinicalPhoto  = "Clinical Photograph"
	heatmapSuffix       = ".heatmap.png"
	minUsefulDimension  = 64
	portraitAspectRatio = 1.3
)

// ImageClassifier is the built-in CV stage. It decodes only the image header
// and classifies by color model and geometry.
type ImageClassifier struct{}

func NewImageClassifier() *ImageClassifier {
	return &ImageClassifier{}
}

func (c *ImageClassifier) Classify(ctx context.Context, art Artifact) (CVResult, error) {
	if err := ctx.Err(); err != nil {
		return CVResult{}, err
	}
	if len(art.Content) == 0 {
		return CVResult{}, ErrEmptyArtifact
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(art.Content))
	if err != nil {
		return CVResult{Classification: ClassNonImage, Confidence: 1}, nil
	}

	res := CVResult{HeatmapRef: heatmapRef(art.Key)}
	w, h := cfg.Width, cfg.Height
	switch {
	case w < minUsefulDimension || h < minUsefulDimension:
		res.Classification, res.Confidence = ClassLowResolution, 0.5
	case isGray(cfg.ColorModel):
		res.Classification, res.Confidence = ClassRadiograph, 0.8
	case float64(h) >= float64(w)*portraitAspectRatio:
		res.Classification, res.Confidence = ClassScannedPage, 0.65
	default:
		res.Classification, res.Confidence = ClassClinicalPhoto, 0.6
	}
	return res, nil
}

func isGray(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}

func heatmapRef(key string) string {
	if key == "" {
		return ""
	}
	return key + heatmapSuffix
}
