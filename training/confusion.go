package training

import (
	"fmt"
	"image/color"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ConfusionMatrix counts predictions; rows are true labels, columns are
// predicted labels.
type ConfusionMatrix struct {
	counts *mat.Dense
}

// NewConfusionMatrix creates an n x n zero matrix.
func NewConfusionMatrix(n int) *ConfusionMatrix {
	return &ConfusionMatrix{counts: mat.NewDense(n, n, nil)}
}

// Add records one prediction.
func (c *ConfusionMatrix) Add(trueLabel, predicted int) {
	c.counts.Set(trueLabel, predicted, c.counts.At(trueLabel, predicted)+1)
}

// Size returns the number of classes.
func (c *ConfusionMatrix) Size() int {
	r, _ := c.counts.Dims()
	return r
}

// At returns the count for (trueLabel, predicted).
func (c *ConfusionMatrix) At(trueLabel, predicted int) int {
	return int(c.counts.At(trueLabel, predicted))
}

// Total returns the number of recorded predictions.
func (c *ConfusionMatrix) Total() int {
	return int(mat.Sum(c.counts))
}

// Accuracy is the fraction of predictions on the diagonal.
func (c *ConfusionMatrix) Accuracy() float64 {
	total := mat.Sum(c.counts)
	if total == 0 {
		return 0
	}
	return mat.Trace(c.counts) / total
}

// Dense exposes the underlying counts.
func (c *ConfusionMatrix) Dense() *mat.Dense { return c.counts }

// SaveNPY writes the counts as a float64 NumPy array.
func (c *ConfusionMatrix) SaveNPY(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := npyio.Write(f, c.counts); err != nil {
		return fmt.Errorf("write npy %s: %w", path, err)
	}
	return f.Close()
}

// confusionGrid adapts the matrix to plotter.GridXYZ. Rows of the matrix are
// drawn top-down.
type confusionGrid struct{ c *ConfusionMatrix }

func (g confusionGrid) Dims() (int, int) { n := g.c.Size(); return n, n }
func (g confusionGrid) X(col int) float64 { return float64(col) }
func (g confusionGrid) Y(row int) float64 { return float64(row) }
func (g confusionGrid) Z(col, row int) float64 {
	return g.c.counts.At(g.c.Size()-1-row, col)
}

// SavePNG renders the matrix as an annotated heat map.
func (c *ConfusionMatrix) SavePNG(path string, labels []string) error {
	n := c.Size()
	if len(labels) != n {
		return fmt.Errorf("confusion matrix has %d classes but %d labels were given", n, len(labels))
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Confusion matrix (accuracy %.1f%%)", 100*c.Accuracy())
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "true"

	hm := plotter.NewHeatMap(confusionGrid{c}, palette.Heat(12, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	cells := plotter.XYLabels{}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(col), Y: float64(n - 1 - row)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%d", c.At(row, col)))
		}
	}
	counts, err := plotter.NewLabels(cells)
	if err != nil {
		return err
	}
	for i := range counts.TextStyle {
		counts.TextStyle[i].Color = color.Black
		counts.TextStyle[i].XAlign = -0.5
		counts.TextStyle[i].YAlign = -0.5
	}
	p.Add(counts)

	reversed := make([]string, n)
	for i, l := range labels {
		reversed[n-1-i] = l
	}
	p.NominalX(labels...)
	p.NominalY(reversed...)

	size := vg.Length(2+n) * vg.Inch
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
