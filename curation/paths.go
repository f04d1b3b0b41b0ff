package curation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ListFiles returns every regular file under root, recursively.
// Directories and symlinks are skipped.
func ListFiles(fs afero.Fs, root string) ([]string, error) {
	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", root, err)
	}
	return files, nil
}

// ListImages returns the files under root that pass IsImage
func ListImages(fs afero.Fs, root string) ([]string, error) {
	files, err := ListFiles(fs, root)
	if err != nil {
		return nil, err
	}
	images := files[:0]
	for _, f := range files {
		if IsImage(filepath.Base(f)) {
			images = append(images, f)
		}
	}
	return images, nil
}

// labelOf returns the folder-derived label name of a dataset entry
func labelOf(path string) string {
	return filepath.Base(filepath.Dir(path))
}

func exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}
