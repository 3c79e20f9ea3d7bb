package training

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// OutputNames are the files a training run writes into its output directory.
var OutputNames = []string{
	LabelMapName,
	TrainingRecordName,
	LastCheckpointName,
	BestCheckpointName,
	ConfusionMatrixPNG,
	ConfusionMatrixNPY,
}

// ExistingOutputs returns the run files already present in pathOut.
func ExistingOutputs(pathOut string) []string {
	var found []string
	for _, name := range OutputNames {
		p := filepath.Join(pathOut, name)
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}

// ConfirmOverwrite asks whether the files in pathOut may be overwritten. It
// re-prompts until the answer is y or n; end of input counts as no.
func ConfirmOverwrite(in io.Reader, out io.Writer, pathOut string) (bool, error) {
	sc := bufio.NewScanner(in)
	for {
		if _, err := fmt.Fprintf(out, "Warning: This will overwrite existing files in %s. Proceed? (Y/N) ", pathOut); err != nil {
			return false, err
		}
		if !sc.Scan() {
			return false, sc.Err()
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}
