package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"intellimed/pkg/domain"
)

// Stage names used in errors, logs and metrics.
const (
	StageOCR = "ocr"
	StageNLP = "nlp"
	StageCV  = "cv"
)

// Artifact is an uploaded file handed to the analysis stages.
type Artifact struct {
	Key         string
	Filename    string
	ContentType string
	Content     []byte
}

// CVResult is the output of the vision stage.
type CVResult struct {
	Classification string
	Confidence     float64
	HeatmapRef     string
}

// NLPResult is the output of the language stage.
type NLPResult struct {
	Summary  string
	Entities []domain.Entity
}

// OCRStage extracts text from an artifact.
type OCRStage interface {
	Extract(ctx context.Context, art Artifact) (string, error)
}

// CVStage classifies an artifact visually.
type CVStage interface {
	Classify(ctx context.Context, art Artifact) (CVResult, error)
}

// NLPStage analyzes OCR output.
type NLPStage interface {
	Analyze(ctx context.Context, text string) (NLPResult, error)
}

// Pipeline runs OCR and CV concurrently, starts NLP once OCR finishes,
// and joins on NLP and CV.
type Pipeline struct {
	ocr     OCRStage
	cv      CVStage
	nlp     NLPStage
	metrics *Metrics
	logger  *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage outcomes and durations.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline wires the three stages into one task graph.
func NewPipeline(ocr OCRStage, cv CVStage, nlp NLPStage, opts ...Option) *Pipeline {
	p := &Pipeline{ocr: ocr, cv: cv, nlp: nlp, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultPipeline builds a pipeline from the built-in local stages.
func NewDefaultPipeline(opts ...Option) *Pipeline {
	return NewPipeline(NewTextExtractor(), NewImageClassifier(), NewLexiconAnalyzer(), opts...)
}

// Run executes the stage graph and returns the aggregated result.
// Any stage failure fails the whole run with a *domain.StageError; a failing
// stage does not cancel the other branch.
func (p *Pipeline) Run(ctx context.Context, art Artifact) (domain.AnalysisResult, error) {
	var (
		text  string
		nlp   NLPResult
		cv    CVResult
		start = time.Now()
	)
	p.metrics.startRun()

	var g errgroup.Group
	g.Go(func() error {
		if err := p.runStage(ctx, StageOCR, art.Key, func() error {
			out, err := p.ocr.Extract(ctx, art)
			text = out
			return err
		}); err != nil {
			return err
		}
		return p.runStage(ctx, StageNLP, art.Key, func() error {
			out, err := p.nlp.Analyze(ctx, text)
			nlp = out
			return err
		})
	})
	g.Go(func() error {
		return p.runStage(ctx, StageCV, art.Key, func() error {
			out, err := p.cv.Classify(ctx, art)
			cv = out
			return err
		})
	})
	err := g.Wait()
	p.metrics.finishRun(time.Since(start), err)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	entities := nlp.Entities
	if entities == nil {
		entities = []domain.Entity{}
	}
	return domain.AnalysisResult{
		OCRText:          text,
		NLPSummary:       nlp.Summary,
		NLPEntities:      entities,
		CVClassification: cv.Classification,
		CVConfidence:     cv.Confidence,
		CVHeatmapRef:     cv.HeatmapRef,
	}, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage, key string, fn func() error) error {
	start := time.Now()
	err := callStage(fn)
	elapsed := time.Since(start)
	p.metrics.observeStage(stage, elapsed, err)
	if err != nil {
		p.logger.WarnContext(ctx, "analysis stage failed", "stage", stage, "artifact", key, "duration_ms", elapsed.Milliseconds(), "err", err)
		return &domain.StageError{Stage: stage, Err: err}
	}
	p.logger.DebugContext(ctx, "analysis stage finished", "stage", stage, "artifact", key, "duration_ms", elapsed.Milliseconds())
	return nil
}

// callStage runs fn on a pipeline goroutine, where an unrecovered panic would
// take down the process.
func callStage(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn()
}
