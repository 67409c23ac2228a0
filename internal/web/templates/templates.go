// Package templates holds the HTML fragments served to HTMX clients.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tabula/internal/preview"
)

// ErrorAlert renders a dismissable error box with the support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`+
				`<p class="alert-action">%s</p><p class="alert-code">Code: %s</p></div>`,
			templ.EscapeString(message), templ.EscapeString(action), templ.EscapeString(code))
		return err
	})
}

// PreviewTable renders a preview as a table. caption is shown above it and
// versionID is carried on the wrapper for follow-up requests.
func PreviewTable(p preview.Preview, caption string, versionID int64) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		sw := &stickyWriter{w: w}
		sw.printf(`<div class="preview" data-version-id="%d">`, versionID)
		if caption != "" {
			sw.printf(`<p class="preview-caption">%s</p>`, templ.EscapeString(caption))
		}
		sw.printf(`<table class="preview-table"><thead><tr>`)
		for _, c := range p.Columns {
			sw.printf(`<th>%s</th>`, templ.EscapeString(c))
		}
		sw.printf(`</tr></thead><tbody>`)
		for _, row := range p.Rows {
			sw.printf(`<tr>`)
			for _, cell := range row.Cells() {
				sw.printf(`<td>%s</td>`, templ.EscapeString(formatCell(cell)))
			}
			sw.printf(`</tr>`)
		}
		sw.printf(`</tbody></table>`)
		if shown := len(p.Rows); shown < p.TotalRows {
			sw.printf(`<p class="preview-more">Showing %d of %d rows</p>`, shown, p.TotalRows)
		}
		sw.printf(`</div>`)
		return sw.err
	})
}

func formatCell(c preview.Cell) string {
	switch v := c.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// stickyWriter keeps the first write error so rendering code stays linear.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) printf(format string, args ...any) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintf(s.w, format, args...)
}
