package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-leads/models"
)

// DualWriter archives to CSV and JSONL at the same time.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens both archive files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{csvWriter: csvWriter, jsonWriter: jsonWriter}, nil
}

// Write appends leads to both files. The JSONL file is still written when
// the CSV write fails.
func (dw *DualWriter) Write(leads []models.LeadRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csvWriter.Write(leads); err != nil {
		errs = append(errs, fmt.Errorf("csv write: %w", err))
	}
	if err := dw.jsonWriter.Write(leads); err != nil {
		errs = append(errs, fmt.Errorf("json write: %w", err))
	}
	return errors.Join(errs...)
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv close: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close: %w", err))
	}
	return errors.Join(errs...)
}
