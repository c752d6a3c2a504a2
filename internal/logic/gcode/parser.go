// Package gcode parses the G-code subset the controller accepts and turns
// it into planner blocks.
package gcode

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/stat"
)

// Command is one parsed G-code line.
type Command struct {
	Type       byte // 'G', 'M' or 0 for a parameter-only line
	Number     int
	Parameters map[byte]float64
	Comment    string
}

// Has reports whether a parameter letter was given.
func (c *Command) Has(letter byte) bool {
	_, ok := c.Parameters[letter]
	return ok
}

// Get returns a parameter or def when absent.
func (c *Command) Get(letter byte, def float64) float64 {
	if v, ok := c.Parameters[letter]; ok {
		return v
	}
	return def
}

// Parse parses a single line. A blank or comment-only line yields a nil
// command and no error.
func Parse(line string) (*Command, error) {
	i := 0
	skipSpace := func() {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t' || line[i] == '\r') {
			i++
		}
	}
	skipSpace()
	if i >= len(line) {
		return nil, nil
	}
	cmd := &Command{Parameters: make(map[byte]float64)}

	// optional line number
	if toUpper(line[i]) == 'N' {
		i++
		_, i = scanNumber(line, i)
		skipSpace()
	}

	for i < len(line) {
		skipSpace()
		if i >= len(line) {
			break
		}
		c := line[i]
		if c == ';' || c == '(' {
			cmd.Comment = strings.TrimSpace(line[i:])
			break
		}
		if !isLetter(c) {
			return nil, errors.Wrapf(stat.ErrInputValue, "unexpected %q at column %d", c, i+1)
		}
		letter := toUpper(c)
		i++
		skipSpace()
		text, next := scanNumber(line, i)
		if text == "" {
			return nil, errors.Wrapf(stat.ErrInputValue, "missing value for %c", letter)
		}
		i = next
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(stat.ErrInputValue, "bad number %q for %c", text, letter)
		}
		if (letter == 'G' || letter == 'M') && cmd.Type == 0 {
			cmd.Type = letter
			cmd.Number = int(v)
			continue
		}
		cmd.Parameters[letter] = v
	}
	if cmd.Type == 0 && len(cmd.Parameters) == 0 {
		return nil, nil
	}
	return cmd, nil
}

func scanNumber(s string, i int) (string, int) {
	start := i
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == start || (i == start+1 && (s[start] == '-' || s[start] == '+')) {
		return "", start
	}
	return s[start:i], i
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
