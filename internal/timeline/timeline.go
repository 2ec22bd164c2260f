// Package timeline implements the table that maps playback offsets to slides.
//
// The serialized form is one entry per line, "mm:ss -> N", where N is the
// one-based slide number. In memory slides are zero-based.
package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed    = errors.New("malformed timeline entry")
	ErrNotMonotonic = errors.New("timeline offsets must not decrease")
)

// Entry switches to Slide once playback reaches Offset seconds.
type Entry struct {
	Offset int
	Slide  int
}

// String formats the entry as "mm:ss -> N" with a one-based slide number.
func (e Entry) String() string {
	return fmt.Sprintf("%s -> %d", FormatOffset(e.Offset), e.Slide+1)
}

// Table is ordered by Offset, non-decreasing.
type Table []Entry

// ParseError reports the line that could not be parsed.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timeline line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a serialized timeline. Blank lines are skipped; any other
// malformed line fails the whole parse.
func Parse(raw string) (Table, error) {
	var table Table
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Text: line, Err: err}
		}
		if n := len(table); n > 0 && entry.Offset < table[n-1].Offset {
			return nil, &ParseError{Line: i + 1, Text: line, Err: ErrNotMonotonic}
		}
		table = append(table, entry)
	}
	return table, nil
}

func parseLine(line string) (Entry, error) {
	timePart, slidePart, ok := strings.Cut(line, "->")
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing \"->\"", ErrMalformed)
	}

	mm, ss, ok := strings.Cut(strings.TrimSpace(timePart), ":")
	if !ok {
		return Entry{}, fmt.Errorf("%w: offset is not mm:ss", ErrMalformed)
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil || minutes < 0 {
		return Entry{}, fmt.Errorf("%w: bad minutes %q", ErrMalformed, mm)
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(ss))
	if err != nil || seconds < 0 || seconds > 59 {
		return Entry{}, fmt.Errorf("%w: bad seconds %q", ErrMalformed, ss)
	}

	slide, err := strconv.Atoi(strings.TrimSpace(slidePart))
	if err != nil || slide < 1 {
		return Entry{}, fmt.Errorf("%w: bad slide number %q", ErrMalformed, slidePart)
	}

	return Entry{Offset: minutes*60 + seconds, Slide: slide - 1}, nil
}

// FormatOffset renders whole seconds as zero-padded mm:ss.
func FormatOffset(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// String serializes the table, one entry per line.
func (t Table) String() string {
	lines := make([]string, len(t))
	for i, e := range t {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// Append adds an entry at the end. Offsets earlier than the last entry are
// raised to it so the table stays ordered.
func (t *Table) Append(offset, slide int) Entry {
	if n := len(*t); n > 0 && offset < (*t)[n-1].Offset {
		offset = (*t)[n-1].Offset
	}
	e := Entry{Offset: offset, Slide: slide}
	*t = append(*t, e)
	return e
}

// Lookup returns the slide of the last entry whose offset does not exceed
// position. ok is false when position precedes every entry.
func (t Table) Lookup(position float64) (slide int, ok bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if float64(t[i].Offset) <= position {
			return t[i].Slide, true
		}
	}
	return 0, false
}
