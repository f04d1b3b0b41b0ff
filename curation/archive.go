package curation

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/tsawler/go-emom/emotion"
)

// extractArchive copies the members of archivePath accepted by filter into
// staging, keeping their internal paths. It returns the extracted member
// names in archive order, slash separated.
func (p *Parser) extractArchive(ctx context.Context, archivePath, staging string, filter Filter) ([]string, error) {
	f, err := p.Fs.Open(archivePath)
	if err != nil {
		return nil, &ArchiveError{Path: archivePath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &ArchiveError{Path: archivePath, Err: err}
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, &ArchiveError{Path: archivePath, Err: err}
	}

	var selected []*zip.File
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(member.Name)) {
			return nil, &ArchiveError{Path: archivePath, Err: fmt.Errorf("unsafe member path %q", member.Name)}
		}

		m := member
		ok, err := filter.Accept(ctx, Candidate{
			Name: m.Name,
			Open: func() (io.ReadCloser, error) { return m.Open() },
		})
		if err != nil {
			var labelErr *emotion.UnknownLabelError
			if errors.As(err, &labelErr) {
				return nil, fmt.Errorf("member %s: %w", m.Name, err)
			}
			p.Logger.Warn().Err(err).Str("member", m.Name).Msg("member rejected by filter")
			continue
		}
		if ok {
			selected = append(selected, m)
		}
	}

	names := make([]string, 0, len(selected))
	for _, member := range selected {
		if err := ctx.Err(); err != nil {
			return names, err
		}
		if err := extractMember(p.Fs, member, staging); err != nil {
			return names, &ArchiveError{Path: archivePath, Err: err}
		}
		names = append(names, member.Name)
		p.Metrics.FilesExtracted.Inc()
	}

	p.Logger.Info().
		Str("archive", archivePath).
		Int("members", len(zr.File)).
		Int("extracted", len(names)).
		Msg("archive extracted")

	return names, nil
}

func extractMember(fs afero.Fs, member *zip.File, staging string) error {
	target := filepath.Join(staging, filepath.FromSlash(member.Name))
	if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open member %s: %w", member.Name, err)
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		if errors.Is(err, zip.ErrChecksum) {
			return fmt.Errorf("member %s is corrupt: %w", member.Name, err)
		}
		return fmt.Errorf("failed to extract member %s: %w", member.Name, err)
	}
	return out.Close()
}
