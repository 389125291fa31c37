package retrieval

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/vetter/internal/models"
)

// Row is one submission row of the inbox list
type Row struct {
	Index    int // position among all rows matched by the row locator
	Title    string
	HasScore bool // the similarity score link is rendered
	Score    string
}

// NormalizeTitle lowercases s and collapses all whitespace runs to one space
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TitlesMatch compares titles ignoring case and whitespace variation
func TitlesMatch(a, b string) bool {
	return NormalizeTitle(a) == NormalizeTitle(b)
}

// ParseRows extracts inbox rows from html. All locators must be CSS.
func ParseRows(html string, row, title, scoreLink, scoreText models.Locator) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var rows []Row
	doc.Find(row.Query).Each(func(i int, sel *goquery.Selection) {
		r := Row{
			Index: i,
			Title: strings.TrimSpace(sel.Find(title.Query).First().Text()),
		}
		if scoreLink.Query != "" && sel.Find(scoreLink.Query).Length() > 0 {
			r.HasScore = true
		}
		if scoreText.Query != "" {
			r.Score = strings.TrimSpace(sel.Find(scoreText.Query).First().Text())
		}
		rows = append(rows, r)
	})
	return rows, nil
}

// FindRow returns the first row whose title matches. Titles are not guaranteed unique,
// so an older submission sharing the title would win if it sorts first.
func FindRow(rows []Row, title string) (Row, bool) {
	for _, r := range rows {
		if TitlesMatch(r.Title, title) {
			return r, true
		}
	}
	return Row{}, false
}
