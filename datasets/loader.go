package datasets

import (
	"io"
	"math/rand"
)

// DefaultBatchSize is the training batch size used when none is given.
const DefaultBatchSize = 16

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	// NumTimesteps is the window length in feature rows. Sequences shorter
	// than this are padded at the start by repeating their first row.
	NumTimesteps int
	// FullSequence yields whole (padded) sequences instead of one random
	// window per video.
	FullSequence bool
	Seed         int64
}

// Batch is a group of examples.
type Batch struct {
	Videos []string
	Inputs [][][]float32
	Labels []int
	// Tags holds per-row labels for each input in temporal mode.
	Tags [][]int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.Inputs) }

// Loader iterates a Dataset in batches. Call Reset before every epoch.
type Loader struct {
	ds    Dataset
	opts  LoaderOptions
	rng   *rand.Rand
	order []int
	pos   int
}

// NewLoader creates a training loader.
func NewLoader(ds Dataset, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.NumTimesteps <= 0 {
		opts.NumTimesteps = 1
	}
	l := &Loader{
		ds:   ds,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
	l.Reset()
	return l
}

// NewValidationLoader yields one whole sequence per batch in dataset order,
// padded to at least numTimesteps rows.
func NewValidationLoader(ds Dataset, numTimesteps int) *Loader {
	return NewLoader(ds, LoaderOptions{
		BatchSize:    1,
		Shuffle:      false,
		NumTimesteps: numTimesteps,
		FullSequence: true,
	})
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.opts.BatchSize }

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.ds.Len()
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Reset rewinds the loader, reshuffling if enabled.
func (l *Loader) Reset() {
	n := l.ds.Len()
	if len(l.order) != n {
		l.order = make([]int, n)
	}
	for i := range l.order {
		l.order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(n, func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// Next returns the next batch, or io.EOF at the end of the epoch.
func (l *Loader) Next() (*Batch, error) {
	if l.pos >= len(l.order) {
		return nil, io.EOF
	}
	end := l.pos + l.opts.BatchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	b := &Batch{}
	for _, idx := range l.order[l.pos:end] {
		ex, err := l.ds.Example(idx)
		if err != nil {
			return nil, err
		}
		rows, tags := padFront(ex.Features, ex.Tags, l.opts.NumTimesteps)
		if !l.opts.FullSequence {
			rows, tags = l.window(rows, tags)
		}
		b.Videos = append(b.Videos, ex.Video)
		b.Inputs = append(b.Inputs, rows)
		b.Labels = append(b.Labels, ex.Label)
		if tags != nil {
			b.Tags = append(b.Tags, tags)
		}
	}
	l.pos = end
	return b, nil
}

// window cuts a random NumTimesteps-row window.
func (l *Loader) window(rows [][]float32, tags []int) ([][]float32, []int) {
	n := l.opts.NumTimesteps
	pos := 0
	if len(rows) > n {
		pos = l.rng.Intn(len(rows) - n + 1)
	}
	rows = rows[pos : pos+n]
	if tags != nil {
		tags = tags[pos : pos+n]
	}
	return rows, tags
}

// padFront repeats the first row (and tag) until there are at least n rows.
func padFront(rows [][]float32, tags []int, n int) ([][]float32, []int) {
	if len(rows) >= n || len(rows) == 0 {
		return rows, tags
	}
	missing := n - len(rows)
	paddedRows := make([][]float32, 0, n)
	for i := 0; i < missing; i++ {
		paddedRows = append(paddedRows, rows[0])
	}
	paddedRows = append(paddedRows, rows...)
	if tags == nil {
		return paddedRows, nil
	}
	paddedTags := make([]int, 0, n)
	for i := 0; i < missing; i++ {
		paddedTags = append(paddedTags, tags[0])
	}
	return paddedRows, append(paddedTags, tags...)
}

