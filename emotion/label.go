package emotion

import (
	"fmt"
	"sort"
	"strings"
)

// Label is one of the seven canonical emotion categories
type Label string

const (
	Angry    Label = "angry"
	Disgust  Label = "disgust"
	Fear     Label = "fear"
	Happy    Label = "happy"
	Neutral  Label = "neutral"
	Sad      Label = "sad"
	Surprise Label = "surprise"
)

// NumClasses is the size of the canonical label set
const NumClasses = 7

// labels is ordered by integer class index
var labels = [NumClasses]Label{Angry, Disgust, Fear, Happy, Neutral, Sad, Surprise}

// Labels returns the canonical labels ordered by class index
func Labels() []Label {
	out := make([]Label, NumClasses)
	copy(out, labels[:])
	return out
}

// Index returns the integer class of the label, or -1 if the label is not canonical
func (l Label) Index() int {
	for i, c := range labels {
		if c == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a canonical label
func (l Label) Valid() bool {
	return l.Index() >= 0
}

func (l Label) String() string {
	return string(l)
}

// Parse converts a canonical folder name to a Label.
// Only exact canonical names are accepted; raw archive variants go through a FolderMap.
func Parse(name string) (Label, error) {
	l := Label(name)
	if !l.Valid() {
		return "", &UnknownLabelError{Folder: name}
	}
	return l, nil
}

// FromIndex returns the label with the given class index
func FromIndex(idx int) (Label, error) {
	if idx < 0 || idx >= NumClasses {
		return "", fmt.Errorf("class index %d out of range [0, %d)", idx, NumClasses)
	}
	return labels[idx], nil
}

// UnknownLabelError reports a folder name that does not map to a canonical label
type UnknownLabelError struct {
	Folder string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown label folder %q", e.Folder)
}

// FolderMap maps lowercase raw archive folder names to canonical labels
type FolderMap map[string]Label

// DefaultFolderMap returns the synonyms seen in the source archives
func DefaultFolderMap() FolderMap {
	return FolderMap{
		"angry":      Angry,
		"anger":      Angry,
		"disgust":    Disgust,
		"disgusted":  Disgust,
		"fear":       Fear,
		"fearful":    Fear,
		"happy":      Happy,
		"happiness":  Happy,
		"neutral":    Neutral,
		"neutrality": Neutral,
		"sad":        Sad,
		"sadness":    Sad,
		"surprise":   Surprise,
		"surprised":  Surprise,
	}
}

// NewFolderMap builds a map from raw strings, lowercasing keys and validating values
func NewFolderMap(raw map[string]string) (FolderMap, error) {
	m := make(FolderMap, len(raw))
	for folder, name := range raw {
		l, err := Parse(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("folder map entry %q: %w", folder, err)
		}
		m[strings.ToLower(folder)] = l
	}
	return m, nil
}

// Lookup resolves a raw folder name case-insensitively
func (m FolderMap) Lookup(folder string) (Label, error) {
	if l, ok := m[strings.ToLower(folder)]; ok {
		return l, nil
	}
	return "", &UnknownLabelError{Folder: folder}
}

// Folders returns the map's keys in sorted order
func (m FolderMap) Folders() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
