package gcode

import "strings"

// StripComments removes ';' comments and parenthesised comments from a line
func StripComments(line string) string {
	if !strings.ContainsAny(line, ";(") {
		return strings.TrimSpace(line)
	}
	var sb strings.Builder
	inParen := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inParen:
			if c == ')' {
				inParen = false
			}
		case c == ';':
			return strings.TrimSpace(sb.String())
		case c == '(':
			inParen = true
		default:
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// SplitLines splits text on any of \n, \r\n or \r
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// StreamLines extracts the lines to send to a controller: blank and
// comment-only lines are dropped and trailing ';' comments are cut off.
func StreamLines(text string) []string {
	var out []string
	for _, line := range SplitLines(text) {
		if StripComments(line) == "" {
			continue
		}
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
