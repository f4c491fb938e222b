package lines

import "strings"

var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, ";", `\,`, ",", `\n`, "\n", `\N`, "\n")
)

// EscapeText escapes an iCalendar TEXT value.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// UnescapeText reverses EscapeText.
func UnescapeText(s string) string {
	return textUnescaper.Replace(s)
}

// SplitList splits a raw comma separated TEXT list on unescaped commas and
// unescapes each item. Empty items are dropped.
func SplitList(raw string) []string {
	var (
		out     []string
		cur     strings.Builder
		escaped bool
	)
	flush := func() {
		if v := strings.TrimSpace(UnescapeText(cur.String())); v != "" {
			out = append(out, v)
		}
		cur.Reset()
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			cur.WriteByte('\\')
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ',':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// JoinList escapes and joins items into a TEXT list value.
func JoinList(items []string) string {
	esc := make([]string, len(items))
	for i, it := range items {
		esc[i] = EscapeText(it)
	}
	return strings.Join(esc, ",")
}
