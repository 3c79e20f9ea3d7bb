package datasets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BackgroundLabel is the shared "nothing happening" class of temporal
// training.
const BackgroundLabel = "counting_background"

// ErrUnknownLabel is returned when a data file names a label that is not in
// the active mapping.
var ErrUnknownLabel = errors.New("unknown label")

// LabelMap is an ordered bijection between class names and indices 0..n-1.
type LabelMap struct {
	names []string
	index map[string]int
}

// NewLabelMap assigns indices in the order of names. Names must be unique.
func NewLabelMap(names []string) (*LabelMap, error) {
	m := &LabelMap{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if _, dup := m.index[n]; dup {
			return nil, fmt.Errorf("duplicate label %q", n)
		}
		m.index[n] = i
	}
	return m, nil
}

// TemporalLabelNames expands class names into position-aware labels:
// the background class followed by <class>_position_1 and <class>_position_2
// for every class.
func TemporalLabelNames(classes []string) []string {
	out := make([]string, 0, 1+2*len(classes))
	out = append(out, BackgroundLabel)
	for _, c := range classes {
		out = append(out, c+"_position_1", c+"_position_2")
	}
	return out
}

// Len returns the number of labels.
func (m *LabelMap) Len() int { return len(m.names) }

// Names returns the labels in index order.
func (m *LabelMap) Names() []string { return append([]string(nil), m.names...) }

// Name returns the label with index i.
func (m *LabelMap) Name(i int) string { return m.names[i] }

// Index looks up a label. Unknown labels yield an error wrapping
// ErrUnknownLabel that names the key.
func (m *LabelMap) Index(name string) (int, error) {
	i, ok := m.index[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownLabel, name)
	}
	return i, nil
}

// MarshalJSON writes a JSON object whose keys appear in index order.
func (m *LabelMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, n := range m.names {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", i)
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a name->index object. Indices must cover 0..n-1
// exactly once.
func (m *LabelMap) UnmarshalJSON(b []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	names := make([]string, len(raw))
	seen := make([]bool, len(raw))
	for n, i := range raw {
		if i < 0 || i >= len(raw) || seen[i] {
			return fmt.Errorf("label mapping is not a bijection onto 0..%d (label %q -> %d)", len(raw)-1, n, i)
		}
		seen[i] = true
		names[i] = n
	}
	parsed, err := NewLabelMap(names)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Save writes the mapping as indented JSON (label2int.json).
func (m *LabelMap) Save(path string) error {
	compact, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return err
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("write label mapping %s: %w", path, err)
	}
	return nil
}

// LoadLabelMap reads a mapping written by Save.
func LoadLabelMap(path string) (*LabelMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label mapping %s: %w", path, err)
	}
	var m LabelMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode label mapping %s: %w", path, err)
	}
	return &m, nil
}

// ClassNames lists the class sub-directories of a videos directory, sorted,
// ignoring hidden entries.
func ClassNames(videosDir string) ([]string, error) {
	entries, err := os.ReadDir(videosDir)
	if err != nil {
		return nil, fmt.Errorf("read videos dir %s: %w", videosDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, filepath.Base(e.Name()))
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no class directories found in %s", videosDir)
	}
	return names, nil
}
