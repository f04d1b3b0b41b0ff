package curation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/go-emom/emotion"
	"github.com/tsawler/go-emom/metrics"
)

// FilterDataset partitions paths into the images f accepts and the ones it
// rejects. A filter error never aborts the batch: the image is quarantined.
// The only error returned is context cancellation.
func (p *Parser) FilterDataset(ctx context.Context, paths []string, f Filter) (confirmed, quarantined []string, err error) {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return confirmed, quarantined, err
		}

		path = p.resolve(path)
		ok, ferr := f.Accept(ctx, Candidate{
			Name: path,
			Open: func() (io.ReadCloser, error) { return p.Fs.Open(path) },
		})
		if ferr != nil {
			p.countFilterError(ferr)
			p.Logger.Warn().Err(ferr).Str("path", path).Msg("quarantined after filter error")
		}

		if ok {
			confirmed = append(confirmed, path)
			p.Metrics.QuarantineDecisions.WithLabelValues(metrics.OutcomeConfirmed).Inc()
		} else {
			quarantined = append(quarantined, path)
			p.Metrics.QuarantineDecisions.WithLabelValues(metrics.OutcomeQuarantined).Inc()
		}
	}

	p.Logger.Info().
		Int("confirmed", len(confirmed)).
		Int("quarantined", len(quarantined)).
		Msg("dataset filtered")

	return confirmed, quarantined, nil
}

func (p *Parser) countFilterError(err error) {
	var detErr *DetectionError
	var labelErr *emotion.UnknownLabelError
	switch {
	case errors.As(err, &detErr):
		p.Metrics.DetectorErrors.Inc()
	case errors.As(err, &labelErr):
		p.Metrics.FilterErrors.WithLabelValues(metrics.ReasonUnknownLabel).Inc()
	default:
		p.Metrics.FilterErrors.WithLabelValues(metrics.ReasonUnreadable).Inc()
	}
}

// PrepareResult is the outcome of PrepareDataset
type PrepareResult struct {
	Confirmed   []string // final paths under the save directory
	Quarantined []string // final paths under the quarantine directory
}

// PrepareDataset runs f over every file of datasetDir, relocating confirmed
// images to saveDir and rejected ones to quarantineDir, each under its label folder.
func (p *Parser) PrepareDataset(ctx context.Context, datasetDir, saveDir, quarantineDir string, f Filter, opts MoveOptions) (*PrepareResult, error) {
	paths, err := ListFiles(p.Fs, p.resolve(datasetDir))
	if err != nil {
		return nil, err
	}

	confirmed, quarantined, err := p.FilterDataset(ctx, paths, f)
	if err != nil {
		return nil, err
	}

	result := &PrepareResult{}
	if len(confirmed) > 0 {
		report, err := p.MoveDataset(ctx, datasetDir, saveDir, confirmed, opts)
		if report != nil {
			result.Confirmed = report.Placed
		}
		if err != nil {
			return result, fmt.Errorf("failed to relocate confirmed images: %w", err)
		}
	}
	if len(quarantined) > 0 {
		report, err := p.MoveDataset(ctx, datasetDir, quarantineDir, quarantined, opts)
		if report != nil {
			result.Quarantined = report.Placed
		}
		if err != nil {
			return result, fmt.Errorf("failed to relocate quarantined images: %w", err)
		}
	}

	return result, nil
}
