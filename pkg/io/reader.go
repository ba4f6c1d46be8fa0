// Package io provides input/output utilities for feature matrices and
// scoring results.
package io

import "context"

// Reader is the interface for reading feature vectors from various sources.
type Reader interface {
	// Read returns the complete matrix, one vector per row.
	Read() ([][]float64, error)

	// Stream returns a channel of vectors for incremental processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing scoring results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close flushes and releases resources.
	Close() error
}

// Result represents one scored sample.
type Result struct {
	ID               string  `json:"id"`
	Score            float64 `json:"score"`
	Threshold        float64 `json:"threshold"`
	IsAnomaly        bool    `json:"is_anomaly"`
	PredictedDisease bool    `json:"predicted_disease"`
	// Uncertainty is set for ensemble results.
	Uncertainty float64  `json:"uncertainty,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}
