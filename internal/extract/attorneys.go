// internal/extract/attorneys.go
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Attorney is one counsel entry of the attorney table.
type Attorney struct {
	Atty      string `json:"atty"`
	Direction string `json:"direction,omitempty"`
}

// Attorneys groups counsel by the side they appear for.
type Attorneys struct {
	Plaintiff []Attorney `json:"plaintiff"`
	Defendant []Attorney `json:"defendant"`
}

// ParseAttorneys reads the case-detail attorney table.
//
// Rows whose first cell mentions "plaintiff" or "defendant" switch the current side.
// A row whose single cell spans the table (first and second column equal) is the
// direction note for the previous entry on that side; any other row is a new attorney.
// Rows before the first side header are attributed to the plaintiff.
func ParseAttorneys(tableHTML string) (*Attorneys, error) {
	doc, err := htmlquery.Parse(strings.NewReader(tableHTML))
	if err != nil {
		return nil, fmt.Errorf("parse attorney table: %w", err)
	}
	table := htmlquery.FindOne(doc, "//table")
	if table == nil {
		return nil, fmt.Errorf("attorney table not found")
	}

	out := &Attorneys{Plaintiff: []Attorney{}, Defendant: []Attorney{}}
	plaintiff := true

	for _, row := range directRows(table) {
		cols := rowColumns(row)
		if len(cols) == 0 || cols[0] == "" {
			continue
		}
		first := strings.ToLower(cols[0])
		switch {
		case strings.Contains(first, "plaintiff"):
			plaintiff = true
			continue
		case strings.Contains(first, "defendant"):
			plaintiff = false
			continue
		}

		side := &out.Defendant
		if plaintiff {
			side = &out.Plaintiff
		}
		if len(cols) > 1 && cols[0] == cols[1] {
			if n := len(*side); n > 0 {
				(*side)[n-1].Direction = cols[0]
			}
			continue
		}
		*side = append(*side, Attorney{Atty: cols[0]})
	}
	return out, nil
}

// directRows returns the rows of table without descending into nested tables.
func directRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	for _, row := range htmlquery.Find(table, ".//tr") {
		if nearestTable(row) == table {
			rows = append(rows, row)
		}
	}
	return rows
}

func nearestTable(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "table" {
			return p
		}
	}
	return nil
}

// rowColumns returns the normalized cell texts of row with colspans expanded, so a cell
// spanning two columns appears twice.
func rowColumns(row *html.Node) []string {
	var cols []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		text := strings.Join(strings.Fields(htmlquery.InnerText(c)), " ")
		span := 1
		if v, err := strconv.Atoi(htmlquery.SelectAttr(c, "colspan")); err == nil && v > 1 {
			span = v
		}
		for i := 0; i < span; i++ {
			cols = append(cols, text)
		}
	}
	return cols
}
