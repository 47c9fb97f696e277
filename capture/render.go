package capture

import (
	"strings"
	"time"

	"github.com/onnwee/fwlog/db"
)

// FormatTimestamp renders an item timestamp (unix seconds) in the export
// header format.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).Format("2006/01/02 15:04:05")
}

// RenderLog renders items to the flat export text: one block per item,
// blocks separated by a blank line. Each block is a header line
// "Name(ID) YYYY/MM/DD HH:MM:SS" followed by the message body with every
// line prefixed by one space.
func RenderLog(items []db.Item) string {
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		var b strings.Builder
		b.WriteString(it.DisplayName)
		b.WriteString("(")
		b.WriteString(it.AuthorID)
		b.WriteString(") ")
		b.WriteString(FormatTimestamp(it.Timestamp))
		b.WriteString("\n")
		lines := strings.Split(it.Text, "\n")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(" ")
			b.WriteString(line)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
