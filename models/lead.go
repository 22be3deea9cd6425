// Package models defines data structures for the lead scraper.
package models

import (
	"fmt"
	"time"
)

// LeadRecord represents one row of the lead table.
type LeadRecord struct {
	SerialNumber   string     `csv:"sn" json:"sn"`
	FullName       string     `csv:"full_name" json:"full_name"`
	Message        string     `csv:"message" json:"message"`
	PhoneNumber    string     `csv:"phone_number" json:"phone_number"`
	DocumentNumber string     `csv:"document_number" json:"document_number"`
	Salary         string     `csv:"salary" json:"salary"`
	DOBRaw         string     `csv:"dob_raw" json:"dob_raw"`
	DOB            *time.Time `csv:"dob" json:"dob,omitempty"`
	CreatedText    string     `csv:"created" json:"created"`
	ScrapedAt      time.Time  `csv:"scraped_at" json:"scraped_at"`
}

// NaturalKey identifies a lead across scrapes.
type NaturalKey struct {
	Phone    string
	Document string
	Created  string
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Phone, k.Document, k.Created)
}

// Key returns the record's natural key.
func (l LeadRecord) Key() NaturalKey {
	return NaturalKey{Phone: l.PhoneNumber, Document: l.DocumentNumber, Created: l.CreatedText}
}

// DOBString formats the parsed date of birth as YYYY-MM-DD, or "" when absent.
func (l LeadRecord) DOBString() string {
	if l.DOB == nil {
		return ""
	}
	return l.DOB.Format(time.DateOnly)
}

// BatchResult is the per-row accounting of one UpsertBatch call.
type BatchResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Errored    int `json:"errored"`
	// Skipped counts unidentifiable rows. It is reported for observability
	// only and is not part of the three accounted totals.
	Skipped int `json:"skipped"`
}

// CycleResult holds the outcome of one scrape cycle.
type CycleResult struct {
	StartTime       time.Time
	EndTime         time.Time
	Seen            int
	Inserted        int
	Duplicates      int
	Errored         int
	Skipped         int
	Reauthenticated int
	// Stored is the table size after the batch, or -1 when unknown.
	Stored int
}

// Duration reports how long the cycle took.
func (r *CycleResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
