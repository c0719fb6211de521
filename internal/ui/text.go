package ui

// TruncateWithEllipsis truncates text to maxRunes and appends an ellipsis when needed.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "…"
}

// TruncateMiddle keeps both ends of s, which suits file paths where the
// directory prefix and the extension both matter. The result is at most
// maxRunes long including the ellipsis.
func TruncateMiddle(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	if maxRunes < 3 {
		return TruncateWithEllipsis(s, maxRunes)
	}
	keep := maxRunes - 1
	head := keep / 2
	tail := keep - head
	return string(r[:head]) + "…" + string(r[len(r)-tail:])
}
