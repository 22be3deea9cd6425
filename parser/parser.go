package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-leads/models"
)

// Column positions in the lead table.
const (
	ColSerial = iota
	ColName
	ColMessage
	ColPhone
	ColDocument
	ColSalary
	ColDOB
	ColCreated

	// ExpectedColumns is the minimum cell count of a data row.
	ExpectedColumns
)

// ErrMissingPhone marks a record that cannot be identified.
var ErrMissingPhone = errors.New("lead missing phone number")

var (
	dayMonthYear = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	plainNumber  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

	isoLayouts = []string{
		time.DateOnly,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		time.DateTime,
	}

	currencyMarks = []string{"₹", "Rs.", "Rs", "INR", "Â£", "£", "$", "€", "USD", "EUR", "GBP"}
)

// ValidateLead ensures the record carries its identifying field.
func ValidateLead(l *models.LeadRecord) error {
	if l == nil {
		return errors.New("lead is nil")
	}
	if strings.TrimSpace(l.PhoneNumber) == "" {
		return ErrMissingPhone
	}
	return nil
}

// CollapseSpace folds runs of whitespace into one space and trims the edges.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAmount strips currency marks and thousands separators from a
// numeric-looking cell. Text that is not a number once stripped is returned
// with whitespace collapsed and otherwise untouched.
func NormalizeAmount(s string) string {
	text := CollapseSpace(s)
	stripped := text
	for _, mark := range currencyMarks {
		stripped = strings.ReplaceAll(stripped, mark, "")
	}
	stripped = strings.ReplaceAll(stripped, ",", "")
	stripped = strings.ReplaceAll(stripped, " ", "")
	stripped = strings.TrimPrefix(stripped, "/-")
	stripped = strings.TrimSuffix(stripped, "/-")
	if plainNumber.MatchString(stripped) {
		return stripped
	}
	return text
}

// NormalizeDate parses an ISO-8601 or D/M/YYYY date into a calendar date.
// Dates that do not exist (31/4, 29/2 outside leap years) are rejected
// instead of rolling over into the next month. Timestamps keep the calendar
// date as written, whatever their offset.
func NormalizeDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}

	m := dayMonthYear.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

func daysIn(month time.Month, year int) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// LeadFromCells maps one extracted table row onto a lead record. Rows shorter
// than ExpectedColumns yield nil.
func LeadFromCells(cells []string, scrapedAt time.Time) *models.LeadRecord {
	if len(cells) < ExpectedColumns {
		return nil
	}

	lead := &models.LeadRecord{
		SerialNumber:   CollapseSpace(cells[ColSerial]),
		FullName:       CollapseSpace(cells[ColName]),
		Message:        CollapseSpace(cells[ColMessage]),
		PhoneNumber:    CollapseSpace(cells[ColPhone]),
		DocumentNumber: CollapseSpace(cells[ColDocument]),
		Salary:         NormalizeAmount(cells[ColSalary]),
		DOBRaw:         CollapseSpace(cells[ColDOB]),
		CreatedText:    CollapseSpace(cells[ColCreated]),
		ScrapedAt:      scrapedAt,
	}
	if dob, ok := NormalizeDate(lead.DOBRaw); ok {
		lead.DOB = &dob
	}
	return lead
}
