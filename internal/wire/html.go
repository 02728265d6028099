package wire

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

const startTable = `<style>table, th, td {border: 1px solid black;}</style>` +
	`<body><table style="width:700px"><tr>` +
	`<th>Num</th><th>Url Cached</th><th>Expiration Date</th>` +
	`<th>Cache Hits</th><th>Delete</th></tr>`

const endTable = `</table></body>`

// CacheRow is one line of the management page's cache table.
type CacheRow struct {
	URI        string
	Expiration string
	Hits       int
}

// BuildCacheTable renders the cache listing table, sorted by URI so the page
// is stable across renders (the original iterated an unordered dict).
func BuildCacheTable(rows []CacheRow) string {
	sorted := make([]CacheRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })

	var b strings.Builder
	b.WriteString(startTable)
	for i, row := range sorted {
		fmt.Fprintf(&b,
			`<tr align="center"><td>%d</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>`,
			i+1, html.EscapeString(row.URI), html.EscapeString(row.Expiration), row.Hits, DeleteForm(row.URI),
		)
	}
	b.WriteString(endTable)
	return b.String()
}

// DeleteForm builds the inline form that deletes one cache entry.
func DeleteForm(uri string) string {
	return fmt.Sprintf(
		`<form action="/manage" enctype="multipart/form-data" method="GET">`+
			`<input type="hidden" name="url" value="%s">`+
			`<input type="submit" value="delete"></form>`,
		html.EscapeString(uri),
	)
}

// DeleteAllForm builds the form that purges the entire cache.
func DeleteAllForm() string {
	return `<form action="/manage" enctype="multipart/form-data" method="GET">` +
		`<input type="hidden" name="url" value="all">` +
		`<input type="submit" value="delete all"></form>`
}

// RefreshForm builds the manual refresh button.
func RefreshForm() string {
	return `<form action="/manage"><input type="submit" value="refresh"></form>`
}
