// Package curation turns emotion-labelled zip archives into a clean,
// canonically labelled image dataset split into train and test folders.
//
// The pipeline stages run synchronously, one after another:
//
//	archive -> ParseArchive (extract, Normalize, MoveDataset) -> raw pool
//	raw pool -> PrepareDataset (FilterDataset, MoveDataset) -> clean + quarantine
//	clean -> SplitAndMove (SplitDataset, MoveDataset) -> train/ + test/
//
// All filesystem access goes through an afero.Fs.
package curation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tsawler/go-emom/emotion"
	"github.com/tsawler/go-emom/metrics"
)

const (
	// DefaultStagingName is the staging subdirectory created inside the dataset directory
	DefaultStagingName = "temp"

	// DefaultDatasetDir is where archives are extracted when no dataset directory is given
	DefaultDatasetDir = "raw/common"
)

// Parser runs the curation stages against a data directory.
// Relative paths given to its methods are resolved under DataDir, which
// NewParser makes absolute.
type Parser struct {
	DataDir     string
	Fs          afero.Fs
	Folders     emotion.FolderMap
	StagingName string
	Logger      zerolog.Logger
	Metrics     *metrics.Curation
}

// Option configures a Parser
type Option func(*Parser)

// WithFs sets the filesystem (default afero.NewOsFs)
func WithFs(fs afero.Fs) Option {
	return func(p *Parser) { p.Fs = fs }
}

// WithFolderMap replaces the default folder-to-label map
func WithFolderMap(m emotion.FolderMap) Option {
	return func(p *Parser) { p.Folders = m }
}

// WithLogger sets the logger (default zerolog.Nop)
func WithLogger(l zerolog.Logger) Option {
	return func(p *Parser) { p.Logger = l }
}

// WithMetrics sets the collectors the parser reports to
func WithMetrics(m *metrics.Curation) Option {
	return func(p *Parser) { p.Metrics = m }
}

// WithStagingName overrides the staging subdirectory name
func WithStagingName(name string) Option {
	return func(p *Parser) { p.StagingName = name }
}

// NewParser creates a parser rooted at dataDir
func NewParser(dataDir string, opts ...Option) *Parser {
	p := &Parser{
		DataDir:     dataDir,
		Fs:          afero.NewOsFs(),
		Folders:     emotion.DefaultFolderMap(),
		StagingName: DefaultStagingName,
		Logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Discard()
	}
	if p.DataDir != "" && !filepath.IsAbs(p.DataDir) {
		if abs, err := filepath.Abs(p.DataDir); err == nil {
			p.DataDir = abs
		}
	}
	return p
}

func (p *Parser) resolve(path string) string {
	if filepath.IsAbs(path) || p.DataDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(p.DataDir, path)
}

// Path resolves path against DataDir the way every Parser method does
func (p *Parser) Path(path string) string {
	return p.resolve(path)
}

// GetFilePaths lists every file of a dataset directory
func (p *Parser) GetFilePaths(datasetDir string) ([]string, error) {
	return ListFiles(p.Fs, p.resolve(datasetDir))
}

// ExtractResult is the outcome of ParseArchive
type ExtractResult struct {
	RunID       string
	Archive     string
	DatasetName string
	Placed      []string // final dataset entry paths
	Counts      map[emotion.Label]int
}

// ParseArchive extracts the members of archivePath accepted by filter (an
// ExtensionFilter when nil) into a staging folder inside datasetDir,
// normalizes names and labels, and moves the result into datasetDir/<label>.
//
// An unreadable archive yields an *ArchiveError. An unmapped label folder
// yields an *emotion.UnknownLabelError and leaves the staging folder in place
// for inspection.
func (p *Parser) ParseArchive(ctx context.Context, archivePath, datasetDir string, filter Filter) (*ExtractResult, error) {
	if filter == nil {
		filter = ExtensionFilter{}
	}
	if datasetDir == "" {
		datasetDir = DefaultDatasetDir
	}

	runID := uuid.NewString()
	log := p.Logger.With().Str("run_id", runID).Logger()

	archive := p.resolve(archivePath)
	datasetPath := p.resolve(datasetDir)
	staging := filepath.Join(datasetPath, p.StagingName)

	if err := p.Fs.MkdirAll(datasetPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory: %w", err)
	}
	if exists(p.Fs, staging) {
		return nil, fmt.Errorf("staging directory %s already exists", staging)
	}
	if err := p.Fs.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	members, err := p.extractArchive(ctx, archive, staging, filter)
	if err != nil {
		var archiveErr *ArchiveError
		if errors.As(err, &archiveErr) && len(members) == 0 {
			p.DeleteDataset(staging)
		}
		return nil, err
	}

	name := DatasetName(archive)
	norm, err := p.Normalize(staging, name, members)
	if err != nil {
		log.Error().Err(err).Str("staging", staging).Msg("normalization aborted")
		return nil, err
	}

	report, err := p.MoveDataset(ctx, staging, datasetPath, norm.Files, MoveOptions{})
	result := &ExtractResult{
		RunID:       runID,
		Archive:     archive,
		DatasetName: name,
		Counts:      norm.Counts,
	}
	if report != nil {
		result.Placed = report.Placed
	}
	if err != nil {
		return result, err
	}

	log.Info().
		Str("archive", archive).
		Str("dataset", datasetPath).
		Int("images", len(result.Placed)).
		Msg("archive parsed")

	return result, nil
}
