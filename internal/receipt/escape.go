package receipt

import "strings"

// specialChars start markup, math, code or syntax in typst content.
const specialChars = "\\#*_`<>@$~[]=-+/'"

// enumMarker is the position of the dot in a leading "12." that typst
// would read as a numbered list item, -1 if there is none.
func enumMarker(line string) int {
	i := len(line) - len(strings.TrimLeft(line, " \t"))
	digits := i
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == digits || i >= len(line) || line[i] != '.' {
		return -1
	}
	return i
}

func escapeLine(line string) string {
	marker := enumMarker(line)

	var b strings.Builder
	b.Grow(len(line))
	for i, r := range line {
		if i == marker || strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Escape makes arbitrary text safe to place in typst markup. Single line
// breaks become forced breaks, blank lines stay paragraph breaks.
func Escape(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = escapeLine(strings.TrimRight(lines[i], " \t"))
	}

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			if lines[i-1] != "" && line != "" {
				b.WriteString(" \\")
			}
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
