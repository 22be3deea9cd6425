package scraper

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const leadTableHTML = `<html><body>
<table>
  <thead><tr><th>S.No</th><th>Name</th><th>Message</th><th>Number</th><th>PAN</th><th>Salary</th><th>DOB</th><th>Created</th></tr></thead>
  <tbody>
    <tr><td>1</td><td>  Ravi
        Kumar </td><td>Interested</td><td>9876543210</td><td>ABCDE1234F</td><td>&#8377; 45,000</td><td>5/3/1990</td><td>04-11-2025 10:15</td></tr>
    <tr><td colspan="8">Loading more…</td></tr>
    <tr><td>2</td><td>Asha</td><td>Call back</td><td>9000000000</td><td></td><td>30000</td><td>31/4/1992</td><td>04-11-2025 10:20</td></tr>
  </tbody>
</table>
</body></html>`

func TestParseRows(t *testing.T) {
	rows, err := ParseRows(leadTableHTML, "tbody tr", 8)
	if err != nil {
		t.Fatalf("parse rows: %v", err)
	}

	want := [][]string{
		{"1", "Ravi Kumar", "Interested", "9876543210", "ABCDE1234F", "₹ 45,000", "5/3/1990", "04-11-2025 10:15"},
		{"2", "Asha", "Call back", "9000000000", "", "30000", "31/4/1992", "04-11-2025 10:20"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRowsEmptyState(t *testing.T) {
	html := `<table><tbody><tr><td>No data available</td></tr></tbody></table>`
	rows, err := ParseRows(html, "tbody tr", 8)
	if err != nil {
		t.Fatalf("parse rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}
