package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a JSON array of class labels. Index i names model output i.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty label list", ErrLabelMismatch)
	}
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("%w: label %d is blank", ErrLabelMismatch, i)
		}
	}
	return labels, nil
}

// FileLoader returns a Loader reading a dense model and label list from disk.
func FileLoader(modelPath, labelsPath string) Loader {
	return func() (Scorer, []string, error) {
		model, err := LoadDenseModel(modelPath)
		if err != nil {
			return nil, nil, err
		}
		labels, err := LoadLabels(labelsPath)
		if err != nil {
			return nil, nil, err
		}
		return model, labels, nil
	}
}
