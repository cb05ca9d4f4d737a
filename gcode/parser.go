package gcode

// Word is a single letter/number pair such as G1 or M5
type Word struct {
	Letter byte
	Number float64
}

// Command is one parsed line of G-code
type Command struct {
	Codes      []Word           // G and M words in line order
	Parameters map[byte]float64 // every other word (X, Y, F, S, P, L, ...)
	Comment    string           // text of the first comment on the line
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank and comment-only lines
// return a command without words; an empty string returns nil. Words whose
// number cannot be parsed are skipped.
func (p *Parser) ParseLine(line string) (*Command, error) {
	if len(line) == 0 {
		return nil, nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
	}

	i := 0
	for i < len(line) {
		// Skip whitespace
		for i < len(line) && (line[i] == ' ' || line[i] == '\t' || line[i] == '\r') {
			i++
		}

		if i >= len(line) {
			break
		}

		// Line comment
		if line[i] == ';' {
			if cmd.Comment == "" {
				cmd.Comment = line[i+1:]
			}
			break
		}

		// Parenthesised comment, not nested
		if line[i] == '(' {
			end := i + 1
			for end < len(line) && line[end] != ')' {
				end++
			}
			if cmd.Comment == "" {
				cmd.Comment = line[i+1 : end]
			}
			i = end + 1
			continue
		}

		if isLetter(line[i]) {
			letter := toUpper(line[i])
			i++

			value, newPos := parseFloat(line, i)
			if newPos > i {
				if letter == 'G' || letter == 'M' {
					cmd.Codes = append(cmd.Codes, Word{Letter: letter, Number: value})
				} else {
					cmd.Parameters[letter] = value
				}
				i = newPos
			}
		} else {
			i++
		}
	}

	return cmd, nil
}

// HasCode reports whether the line carries the given G or M word
func (cmd *Command) HasCode(letter byte, number float64) bool {
	for _, w := range cmd.Codes {
		if w.Letter == letter && w.Number == number {
			return true
		}
	}
	return false
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// parseFloat parses a floating-point number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	intPart := 0.0
	fracPart := 0.0
	fracDigits := 0

	// Parse integer part
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		intPart = intPart*10 + float64(s[pos]-'0')
		pos++
	}

	// Parse fractional part
	if pos < len(s) && s[pos] == '.' {
		pos++
		fracStart := pos
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			fracPart = fracPart*10.0 + float64(s[pos]-'0')
			pos++
		}
		fracDigits = pos - fracStart
	}

	if pos == start || (pos == start+1 && s[start] == '.') {
		return 0, start - 1 // No valid number found
	}

	// Combine integer and fractional parts
	value := intPart
	if fracDigits > 0 {
		divisor := 1.0
		for i := 0; i < fracDigits; i++ {
			divisor *= 10.0
		}
		value += fracPart / divisor
	}

	if negative {
		value = -value
	}

	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
