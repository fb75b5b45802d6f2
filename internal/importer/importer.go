// Package importer loads items from CSV sources into the item repository in
// batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/validator"
)

// DefaultBatchSize is the number of valid rows submitted per write.
const DefaultBatchSize = 100

// ErrInvalidBatchSize is returned by New when BatchSize is below 1.
var ErrInvalidBatchSize = errors.New("batch size must be at least 1")

// ErrNoRows is returned, wrapped in model.ErrSourceUnreadable, when a source
// has a header but no data rows.
var ErrNoRows = errors.New("source has no data rows")

// State is the phase an import run is in.
type State string

// Import states. A run moves Idle -> Reading -> (Truncating) -> Writing and
// ends in Done or Failed.
const (
	StateIdle       State = "idle"
	StateReading    State = "reading"
	StateTruncating State = "truncating"
	StateWriting    State = "writing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Options configures an Importer.
type Options struct {
	// BatchSize of 0 selects DefaultBatchSize.
	BatchSize    int
	DropExisting bool
}

// Importer runs CSV imports against a repository. It is not safe for
// concurrent use.
type Importer struct {
	repo   repository.ItemRepository
	opts   Options
	logger *zap.Logger
	state  State
}

// New creates an Importer.
func New(repo repository.ItemRepository, opts Options, logger *zap.Logger) (*Importer, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, opts.BatchSize)
	}

	return &Importer{
		repo:   repo,
		opts:   opts,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// State returns the current state.
func (im *Importer) State() State {
	return im.state
}

func (im *Importer) setState(s State) {
	im.logger.Debug("import state changed",
		zap.String("from", string(im.state)),
		zap.String("to", string(s)),
	)
	im.state = s
}

// pending is a validated row waiting to be written.
type pending struct {
	line  int
	input model.ItemInput
}

// Run imports src. A source that cannot be opened, has no usable header or
// has no data rows fails with model.ErrSourceUnreadable before anything is
// dropped or written. A store failure stops the run; the partial report is returned
// together with an error wrapping model.ErrIncompleteImport.
func (im *Importer) Run(ctx context.Context, src Source) (*Report, error) {
	report := newReport(src.Name(), time.Now().UTC())
	im.state = StateIdle
	im.setState(StateReading)

	im.logger.Info("import started",
		zap.String("source", src.Name()),
		zap.Int("batch_size", im.opts.BatchSize),
		zap.Bool("drop_existing", im.opts.DropExisting),
	)

	rc, err := src.Open(ctx)
	if err != nil {
		return im.failed(report, fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err))
	}
	defer func() {
		_ = rc.Close()
	}()

	rows, err := newRowReader(rc)
	if err != nil {
		return im.failed(report, fmt.Errorf("%w: %s: %w", model.ErrSourceUnreadable, src.Name(), err))
	}

	if _, err := rows.peek(); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrNoRows
		}
		return im.failed(report, fmt.Errorf("%w: %s: %w", model.ErrSourceUnreadable, src.Name(), err))
	}

	if im.opts.DropExisting {
		im.setState(StateTruncating)
		dropped, err := im.repo.DropAll(ctx)
		if err != nil {
			return im.incomplete(report, err)
		}
		report.DroppedCount = dropped
	}

	im.setState(StateWriting)

	batch := make([]pending, 0, im.opts.BatchSize)
	for {
		r, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return im.incomplete(report, fmt.Errorf("read rows: %w: %w", model.ErrSourceUnreadable, err))
		}

		if r.blank {
			continue
		}
		report.TotalRows++

		if r.parseErr != nil {
			report.skip(r.line, r.parseErr.Error())
			continue
		}

		input, err := validator.ValidateItem(r.payload)
		if err != nil {
			report.skip(r.line, err.Error())
			continue
		}

		input.Origin = &model.ImportOrigin{Source: src.Name(), Line: r.line}
		batch = append(batch, pending{line: r.line, input: input})
		if len(batch) < im.opts.BatchSize {
			continue
		}

		if err := im.flush(ctx, report, batch); err != nil {
			return im.incomplete(report, err)
		}
		batch = batch[:0]
	}

	if len(batch) > 0 {
		if err := im.flush(ctx, report, batch); err != nil {
			return im.incomplete(report, err)
		}
	}

	report.finish(StatusCompleted)
	im.setState(StateDone)

	im.logger.Info("import finished",
		zap.String("source", report.Source),
		zap.Int("total_rows", report.TotalRows),
		zap.Int("imported", report.ImportedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("failed", report.FailedCount),
		zap.Int64("dropped", report.DroppedCount),
		zap.Float64("success_rate", report.SuccessRate()),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

// flush writes one batch. Per-item rejections are recorded as failed rows;
// a returned error means nothing in the batch is known to be written.
func (im *Importer) flush(ctx context.Context, report *Report, batch []pending) error {
	inputs := make([]model.ItemInput, len(batch))
	for i, p := range batch {
		inputs[i] = p.input
	}

	results, err := im.repo.BulkCreate(ctx, inputs)
	if err != nil {
		for _, p := range batch {
			report.fail(p.line, err.Error())
		}
		return err
	}

	imported := 0
	for _, res := range results {
		if res.Err != nil {
			report.fail(batch[res.Index].line, res.Err.Error())
			continue
		}
		imported++
	}
	report.ImportedCount += imported

	im.logger.Info("batch written",
		zap.Int("rows", len(batch)),
		zap.Int("imported", imported),
		zap.Int("first_line", batch[0].line),
	)

	return nil
}

func (im *Importer) failed(report *Report, err error) (*Report, error) {
	report.finish(StatusFailed)
	im.setState(StateFailed)
	im.logger.Error("import failed", zap.String("source", report.Source), zap.Error(err))
	return report, err
}

func (im *Importer) incomplete(report *Report, cause error) (*Report, error) {
	report.finish(StatusIncomplete)
	im.setState(StateFailed)
	im.logger.Error("import stopped before completion",
		zap.String("source", report.Source),
		zap.Int("imported", report.ImportedCount),
		zap.Error(cause),
	)
	return report, fmt.Errorf("%w: %w", model.ErrIncompleteImport, cause)
}
