package curation

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ManifestSuffix is appended to a dataset directory to name its manifest.
// The manifest sits beside the directory so stages that walk the dataset never see it.
const ManifestSuffix = ".manifest.pb"

// ManifestPath returns the manifest location for datasetDir
func ManifestPath(datasetDir string) string {
	return filepath.Clean(datasetDir) + ManifestSuffix
}

// Manifest records what a curation run produced
type Manifest struct {
	RunID       string
	CreatedAt   time.Time
	Archives    []string
	Counts      map[string]int // images per label
	Train       []string
	Test        []string
	Quarantined []string
}

// Record adds the labels of paths to the manifest counts
func (m *Manifest) Record(paths []string) {
	if m.Counts == nil {
		m.Counts = make(map[string]int)
	}
	for _, p := range paths {
		m.Counts[labelOf(p)]++
	}
}

func (m *Manifest) toStruct() (*structpb.Struct, error) {
	counts := make(map[string]any, len(m.Counts))
	for k, v := range m.Counts {
		counts[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"run_id":      m.RunID,
		"created_at":  m.CreatedAt.UTC().Format(time.RFC3339),
		"archives":    toAnySlice(m.Archives),
		"counts":      counts,
		"train":       toAnySlice(m.Train),
		"test":        toAnySlice(m.Test),
		"quarantined": toAnySlice(m.Quarantined),
	})
}

// WriteManifest serializes m as a protobuf Struct to path
func WriteManifest(fs afero.Fs, path string, m *Manifest) error {
	s, err := m.toStruct()
	if err != nil {
		return fmt.Errorf("failed to build manifest: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest
func ReadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	fields := s.GetFields()
	m := &Manifest{
		RunID:       fields["run_id"].GetStringValue(),
		Archives:    fromListValue(fields["archives"]),
		Train:       fromListValue(fields["train"]),
		Test:        fromListValue(fields["test"]),
		Quarantined: fromListValue(fields["quarantined"]),
		Counts:      make(map[string]int),
	}
	if ts := fields["created_at"].GetStringValue(); ts != "" {
		if m.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("invalid manifest timestamp: %w", err)
		}
	}
	for k, v := range fields["counts"].GetStructValue().GetFields() {
		m.Counts[k] = int(v.GetNumberValue())
	}
	return m, nil
}

// UpdateManifest applies fn to the manifest at path, starting a new one when
// none exists yet, and writes the result back
func UpdateManifest(fs afero.Fs, path string, fn func(*Manifest)) (*Manifest, error) {
	var m *Manifest
	if exists(fs, path) {
		var err error
		if m, err = ReadManifest(fs, path); err != nil {
			return nil, err
		}
	} else {
		m = &Manifest{
			RunID:     uuid.NewString(),
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Counts:    make(map[string]int),
		}
	}

	fn(m)
	if err := WriteManifest(fs, path, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Labels returns the labels present in the manifest counts, sorted
func (m *Manifest) Labels() []string {
	labels := make([]string, 0, len(m.Counts))
	for k := range m.Counts {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func fromListValue(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, item := range values {
		out[i] = item.GetStringValue()
	}
	return out
}

// RecordManifest updates the manifest beside datasetDir
func (p *Parser) RecordManifest(datasetDir string, fn func(*Manifest)) (*Manifest, error) {
	return UpdateManifest(p.Fs, ManifestPath(p.resolve(datasetDir)), fn)
}
