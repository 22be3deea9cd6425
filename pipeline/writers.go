package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-leads/models"
)

// OutputWriter receives each cycle's normalized snapshot.
type OutputWriter interface {
	Write(leads []models.LeadRecord) error
	Close() error
}

var csvHeader = []string{
	"sn", "full_name", "message", "phone_number", "document_number",
	"salary", "dob", "created", "scraped_at",
}

// CSVWriter appends records to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter opens filename for appending. The header row is written only
// when the file is new or empty.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVWriter{file: f, writer: writer}, nil
}

// Write appends leads to the CSV output.
func (cw *CSVWriter) Write(leads []models.LeadRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, lead := range leads {
		dob := lead.DOBString()
		if dob == "" {
			dob = lead.DOBRaw
		}
		record := []string{
			lead.SerialNumber,
			lead.FullName,
			lead.Message,
			lead.PhoneNumber,
			lead.DocumentNumber,
			lead.Salary,
			dob,
			lead.CreatedText,
			lead.ScrapedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter appends newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends leads in JSONL format.
func (jw *JSONWriter) Write(leads []models.LeadRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for i := range leads {
		if err := jw.encoder.Encode(&leads[i]); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// NewArchive opens the archive writer for format ("csv", "json" or "dual").
// In dual mode the extension of path is replaced by .csv and .jsonl.
func NewArchive(path, format string) (OutputWriter, error) {
	switch format {
	case "csv":
		return NewCSVWriter(path)
	case "json":
		return NewJSONWriter(path)
	case "dual":
		base := strings.TrimSuffix(path, filepath.Ext(path))
		return NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
