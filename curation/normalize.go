package curation

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tsawler/go-emom/emotion"
)

// NormalizeResult describes the renames applied in a staging area
type NormalizeResult struct {
	Files   []string                 // staged paths after renaming
	Folders map[string]emotion.Label // raw folder -> canonical label
	Counts  map[emotion.Label]int
}

// Normalize renames extracted members to <datasetName>_image_<n>.<ext>, with n
// counting from 1 within this call, and merges every raw label folder into
// its canonical label folder. All folders are resolved before anything is
// renamed, so an unknown folder leaves the staging area as extracted.
func (p *Parser) Normalize(staging, datasetName string, members []string) (*NormalizeResult, error) {
	result := &NormalizeResult{
		Folders: make(map[string]emotion.Label),
		Counts:  make(map[emotion.Label]int),
	}

	for _, member := range members {
		raw := path.Dir(member)
		if _, seen := result.Folders[raw]; seen {
			continue
		}
		label, err := p.Folders.Lookup(path.Base(raw))
		if err != nil {
			return nil, err
		}
		result.Folders[raw] = label
	}

	// Park every member under a temporary name first: a member may already
	// carry a final name that an earlier rename would otherwise replace.
	parked := make([]string, len(members))
	for i, member := range members {
		src := filepath.Join(staging, filepath.FromSlash(member))
		tmp := filepath.Join(filepath.Dir(src), fmt.Sprintf(".normalize_%d.tmp", i+1))
		if err := p.Fs.Rename(src, tmp); err != nil {
			return nil, fmt.Errorf("failed to rename %s: %w", member, err)
		}
		parked[i] = tmp
	}

	for i, member := range members {
		raw := path.Dir(member)
		label := result.Folders[raw]

		newName := fmt.Sprintf("%s_image_%d.%s", datasetName, i+1, extension(member))
		labelDir := filepath.Join(staging, filepath.FromSlash(path.Dir(raw)), string(label))
		if err := p.Fs.MkdirAll(labelDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create label folder %s: %w", labelDir, err)
		}

		dst := uniquePath(p.Fs, filepath.Join(labelDir, newName))
		if err := p.Fs.Rename(parked[i], dst); err != nil {
			return nil, fmt.Errorf("failed to rename %s: %w", member, err)
		}

		result.Files = append(result.Files, dst)
		result.Counts[label]++
	}

	// Raw folders that were not already canonical are now empty
	raws := make([]string, 0, len(result.Folders))
	for raw, label := range result.Folders {
		if path.Base(raw) != string(label) {
			raws = append(raws, raw)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(raws)))
	for _, raw := range raws {
		dir := filepath.Join(staging, filepath.FromSlash(raw))
		if err := removeIfEmpty(p.Fs, dir); err != nil {
			p.Logger.Debug().Err(err).Str("dir", dir).Msg("raw label folder kept")
		}
	}

	p.Logger.Debug().
		Str("dataset", datasetName).
		Int("files", len(result.Files)).
		Int("folders", len(result.Folders)).
		Msg("labels normalized")

	return result, nil
}

// DatasetName derives the file name prefix from an archive path: its base name up to the first dot
func DatasetName(archivePath string) string {
	base := filepath.Base(archivePath)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// removeIfEmpty removes dir only when it has no entries
func removeIfEmpty(fs afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("directory %s is not empty", dir)
	}
	return fs.Remove(dir)
}
