package curation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/tsawler/go-emom/metrics"
)

// MoveOptions controls how MoveDataset relocates files
type MoveOptions struct {
	Copy              bool // copy instead of move; the source tree is left untouched
	PreserveStructure bool // keep the path relative to src instead of only the parent folder
}

// MoveReport lists the outcome of a relocation batch
type MoveReport struct {
	Placed []string // destination paths, in input order
	Failed []*FileError
	Pruned []string // directories removed after a move
}

// MoveDataset relocates paths (every file under src when paths is nil) into dst.
// Each file goes to dst/<parent folder name>, or dst/<path relative to src>
// with PreserveStructure. A destination that already exists is never
// overwritten; the file gets a "_dup<k>" suffix instead.
//
// Per-file failures are logged and skipped. When any occurred the returned
// error is a *MoveError; files already relocated are not rolled back.
func (p *Parser) MoveDataset(ctx context.Context, src, dst string, paths []string, opts MoveOptions) (*MoveReport, error) {
	srcPath := p.resolve(src)
	dstPath := p.resolve(dst)

	if paths == nil {
		var err error
		paths, err = ListFiles(p.Fs, srcPath)
		if err != nil {
			return nil, err
		}
	}

	op := metrics.OpMove
	if opts.Copy {
		op = metrics.OpCopy
	}

	report := &MoveReport{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path = p.resolve(path)
		labelDir, err := destinationDir(srcPath, dstPath, path, opts.PreserveStructure)
		if err != nil {
			report.Failed = append(report.Failed, &FileError{Path: path, Op: op, Err: err})
			continue
		}

		placed, err := p.relocate(path, labelDir, opts.Copy)
		if err != nil {
			fe := &FileError{Path: path, Op: op, Err: err}
			report.Failed = append(report.Failed, fe)
			p.Metrics.MoveFailures.Inc()
			p.Logger.Warn().Err(err).Str("path", path).Str("op", op).Msg("relocation failed")
			continue
		}

		report.Placed = append(report.Placed, placed)
		p.Metrics.FilesMoved.WithLabelValues(op).Inc()
	}

	if !opts.Copy {
		report.Pruned = p.DeleteDataset(srcPath)
	}

	p.Logger.Info().
		Str("src", srcPath).
		Str("dst", dstPath).
		Str("op", op).
		Int("placed", len(report.Placed)).
		Int("failed", len(report.Failed)).
		Msg("dataset relocated")

	if len(report.Failed) > 0 {
		return report, &MoveError{Failures: report.Failed, Total: len(paths)}
	}
	return report, nil
}

func destinationDir(src, dst, path string, preserve bool) (string, error) {
	if !preserve {
		return filepath.Join(dst, filepath.Base(filepath.Dir(path))), nil
	}
	rel, err := filepath.Rel(src, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is not under %s", path, src)
	}
	return filepath.Join(dst, filepath.Dir(rel)), nil
}

func (p *Parser) relocate(path, dir string, copyFile bool) (string, error) {
	if err := p.Fs.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	target := uniquePath(p.Fs, filepath.Join(dir, filepath.Base(path)))
	if copyFile {
		return target, copyTo(p.Fs, path, target)
	}

	err := p.Fs.Rename(path, target)
	if !errors.Is(err, syscall.EXDEV) {
		return target, err
	}

	// src and dst are on different devices
	if err := copyTo(p.Fs, path, target); err != nil {
		return "", err
	}
	if err := p.Fs.Remove(path); err != nil {
		p.Fs.Remove(target)
		return "", err
	}
	return target, nil
}

// uniquePath returns path, or the first free "<stem>_dup<k><ext>" variant of it
func uniquePath(fs afero.Fs, path string) string {
	if !exists(fs, path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s_dup%d%s", stem, k, ext)
		if !exists(fs, candidate) {
			return candidate
		}
	}
}

func copyTo(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return err
	}
	return out.Close()
}

// DeleteDataset removes every empty directory under root, root included,
// deepest first. Directories that still hold entries are logged and kept.
// It returns the removed directories.
func (p *Parser) DeleteDataset(root string) []string {
	root = p.resolve(root)

	var dirs []string
	err := afero.Walk(p.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		p.Logger.Warn().Err(err).Str("root", root).Msg("failed to scan directories")
	}

	sort.SliceStable(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	var removed []string
	for _, dir := range dirs {
		if err := removeIfEmpty(p.Fs, dir); err != nil {
			p.Logger.Debug().Str("dir", dir).Msg("directory not empty")
			continue
		}
		removed = append(removed, dir)
		p.Metrics.DirsPruned.Inc()
		p.Logger.Debug().Str("dir", dir).Msg("directory deleted")
	}
	return removed
}
