package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"golang.org/x/sync/errgroup"
)

// BatchExtractor reads up to batchSize raw submissions from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawSubmission, error)
}

// Transformer turns a raw submission into a verification result message.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawSubmission) (domain.OutputMessage, error)
}

// BatchLoader writes verification results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, msgs []domain.OutputMessage) error
}

// Pipeline runs the read-verify-publish loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	concurrency int
}

// New creates a Pipeline. Submissions within a batch are verified by up to
// concurrency goroutines; results are published in source order.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize, concurrency int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		concurrency: max(concurrency, 1),
	}
}

// CheckReadiness returns nil once the pipeline has published at least one result.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any submissions yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "concurrency", p.concurrency)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Start at 200ms, double on each consecutive failure, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one cycle. It returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.SubmissionsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	loaded, ok := p.verifyAndLoad(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

type outcome struct {
	msg domain.OutputMessage
	err error
}

// transformAll verifies every submission of the batch with bounded parallelism.
// A failed submission does not cancel its siblings.
func (p *Pipeline) transformAll(ctx context.Context, rawBatch []domain.RawSubmission) []outcome {
	results := make([]outcome, len(rawBatch))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, raw := range rawBatch {
		g.Go(func() error {
			msg, err := p.transformer.Transform(ctx, raw)
			results[i] = outcome{msg: msg, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// verifyAndLoad publishes the verified results and commits offsets.
// Submissions that fail permanently are logged, counted and committed so they
// are not redelivered. Transient failures are retried with backoff before
// anything in the batch is committed, since a later commit on the partition
// would skip them. It returns the number of published results and false if
// the pipeline should stop.
func (p *Pipeline) verifyAndLoad(ctx context.Context, rawBatch []domain.RawSubmission, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	results, ok := p.transformUntilSettled(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return 0, false
	}

	outBatch := make([]domain.OutputMessage, 0, len(rawBatch))
	successfulRaws := make([]domain.RawSubmission, 0, len(rawBatch))

	for i, raw := range rawBatch {
		if err := results[i].err; err != nil {
			p.logger.Warn("verification failed, skipping submission",
				"error", err,
				"reason", ErrorReason(err),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.VerifyErrors.WithLabelValues(ErrorReason(err)).Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		outBatch = append(outBatch, results[i].msg)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(outBatch) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(outBatch))
		return 0, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.ResultsProduced.Add(float64(len(outBatch)))

	for _, raw := range successfulRaws {
		p.commitOffset(ctx, raw)
	}

	return len(outBatch), true
}

// transformUntilSettled verifies the batch, re-running submissions that
// failed transiently until every result is a success or a permanent failure.
// It returns false if the context ends first.
func (p *Pipeline) transformUntilSettled(ctx context.Context, rawBatch []domain.RawSubmission, backoff *time.Duration, maxBackoff time.Duration) ([]outcome, bool) {
	results := p.transformAll(ctx, rawBatch)
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		var retry []int
		for i, r := range results {
			if r.err != nil && !Permanent(r.err) {
				retry = append(retry, i)
				p.metrics.VerifyErrors.WithLabelValues(ErrorReason(r.err)).Inc()
				p.logger.Error("verification failed, retrying submission",
					"error", r.err,
					"topic", rawBatch[i].Topic,
					"partition", rawBatch[i].Partition,
					"offset", rawBatch[i].Offset,
				)
			}
		}
		if len(retry) == 0 {
			return results, true
		}
		if !p.backoffOrStop(ctx, backoff, maxBackoff) {
			return nil, false
		}

		again := make([]domain.RawSubmission, len(retry))
		for j, i := range retry {
			again[j] = rawBatch[i]
		}
		for j, r := range p.transformAll(ctx, again) {
			results[retry[j]] = r
		}
	}
}

// Reasons reported in the verify_errors_total metric.
const (
	ReasonMalformed = "malformed"
	ReasonInvalid   = "invalid"
	ReasonSuspended = "suspended"
	ReasonStore     = "store"
)

// ErrorReason classifies a verification error for metrics and logs.
func ErrorReason(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return ReasonMalformed
	case errors.Is(err, domain.ErrIncompleteEvidence),
		errors.Is(err, domain.ErrInvalidCoordinates),
		errors.Is(err, domain.ErrSubmissionConflict):
		return ReasonInvalid
	case errors.Is(err, domain.ErrSubmitterSuspended):
		return ReasonSuspended
	default:
		return ReasonStore
	}
}

// Permanent reports whether err would recur on every retry of the same
// submission. Anything else is treated as an outage of the store.
func Permanent(err error) bool {
	return ErrorReason(err) != ReasonStore
}

// backoffOrStop sleeps for the current backoff and advances it. It returns
// false if the context was cancelled.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawSubmission) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
