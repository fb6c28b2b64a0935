package telegram

import (
	"html"
	"strings"
	"unicode/utf8"

	"streamrelay/internal/chat"
)

// renderHTML flattens content into Telegram HTML. "**x**" in the text becomes <b>x</b>.
func renderHTML(c chat.Content) string {
	var b strings.Builder
	if t := strings.TrimSpace(c.Text); t != "" {
		b.WriteString(bold(html.EscapeString(t)))
	}
	if e := c.Embed; e != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		title := html.EscapeString(e.Title)
		if e.URL != "" && title != "" {
			b.WriteString(`<a href="` + html.EscapeString(e.URL) + `">` + title + "</a>")
		} else {
			b.WriteString(title)
		}
		if e.Description != "" {
			b.WriteString("\n" + html.EscapeString(e.Description))
		}
		for _, f := range e.Fields {
			b.WriteString("\n<b>" + html.EscapeString(f.Name) + ":</b> " + html.EscapeString(f.Value))
		}
		// The preview renders the first link; put the image behind a zero-width anchor.
		if e.ImageURL != "" {
			b.WriteString(`<a href="` + html.EscapeString(e.ImageURL) + `">&#8203;</a>`)
		}
	}
	return truncate(b.String(), textLimit)
}

func bold(s string) string {
	for {
		i := strings.Index(s, "**")
		if i < 0 {
			return s
		}
		j := strings.Index(s[i+2:], "**")
		if j < 0 {
			return s
		}
		s = s[:i] + "<b>" + s[i+2:i+2+j] + "</b>" + s[i+4+j:]
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	rs := []rune(s)[:limit]
	// Don't leave a dangling tag.
	if i := strings.LastIndexByte(string(rs), '<'); i >= 0 && !strings.Contains(string(rs)[i:], ">") {
		return string(rs)[:i]
	}
	return string(rs)
}
