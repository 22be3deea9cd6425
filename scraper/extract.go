package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-leads/parser"
)

// ParseRows reads every row matched by rowSelector as a slice of
// whitespace-collapsed cell texts. Rows with fewer than minCells cells are
// presentational (headers, empty states) and are dropped.
func ParseRows(html, rowSelector string, minCells int) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	rows := make([][]string, 0)
	doc.Find(rowSelector).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < minCells {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, parser.CollapseSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	return rows, nil
}
