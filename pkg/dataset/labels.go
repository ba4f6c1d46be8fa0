package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

type labelFile struct {
	Annotations []struct {
		Disease []string `json:"disease"`
	} `json:"annotations"`
}

// ReadLabels returns the de-duplicated, sorted disease tags of a label file.
// A missing file yields no tags and no error.
func ReadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels extracts disease tags from label JSON.
func ParseLabels(data []byte) ([]string, error) {
	var lf labelFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	seen := make(map[string]bool)
	var tags []string
	for _, ann := range lf.Annotations {
		for _, d := range ann.Disease {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			tags = append(tags, d)
		}
	}
	sort.Strings(tags)
	return tags, nil
}
