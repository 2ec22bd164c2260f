package timeline

import (
	"errors"
	"testing"
)

func TestLookup_Floor(t *testing.T) {
	table := Table{{Offset: 0, Slide: 0}, {Offset: 10, Slide: 1}, {Offset: 25, Slide: 2}}

	cases := []struct {
		at   float64
		want int
	}{
		{9, 0}, {10, 1}, {24, 1}, {25, 2}, {100, 2}, {10.5, 1},
	}
	for _, c := range cases {
		got, ok := table.Lookup(c.at)
		if !ok || got != c.want {
			t.Errorf("Lookup(%v) = %d, %v; want %d", c.at, got, ok, c.want)
		}
	}
}

func TestLookup_BeforeFirstEntry(t *testing.T) {
	table := Table{{Offset: 5, Slide: 1}}
	if _, ok := table.Lookup(4.9); ok {
		t.Error("expected no change before the first entry")
	}
	if _, ok := Table(nil).Lookup(10); ok {
		t.Error("empty table must never report a slide")
	}
}

func TestEntry_RoundTrip(t *testing.T) {
	entry := Entry{Offset: 70, Slide: 2}
	if got := entry.String(); got != "01:10 -> 3" {
		t.Fatalf("expected \"01:10 -> 3\", got %q", got)
	}

	table, err := Parse(entry.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table) != 1 || table[0] != entry {
		t.Errorf("expected [%v], got %v", entry, table)
	}
}

func TestTable_RoundTrip(t *testing.T) {
	original := Table{{0, 0}, {15, 1}, {15, 3}, {600, 2}, {6000, 0}}

	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("expected %d entries, got %d", len(original), len(parsed))
	}
	for i := range original {
		if parsed[i] != original[i] {
			t.Errorf("entry %d: expected %v, got %v", i, original[i], parsed[i])
		}
	}
}

func TestParse_ToleratesWhitespaceAndBlankLines(t *testing.T) {
	table, err := Parse("\n 00:00->1 \r\n\n00:10   ->  2\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table) != 2 || table[1] != (Entry{Offset: 10, Slide: 1}) {
		t.Errorf("unexpected table %v", table)
	}
}

func TestParse_RejectsMalformedLines(t *testing.T) {
	bad := []string{
		"00:10 2",
		"0010 -> 2",
		"aa:10 -> 2",
		"00:xx -> 2",
		"00:75 -> 2",
		"00:10 -> two",
		"00:10 -> 0",
		"-1:10 -> 1",
	}
	for _, line := range bad {
		_, err := Parse("00:00 -> 1\n" + line)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("%q: expected ParseError, got %v", line, err)
			continue
		}
		if perr.Line != 2 || !errors.Is(err, ErrMalformed) {
			t.Errorf("%q: expected malformed error on line 2, got %v", line, err)
		}
	}
}

func TestParse_RejectsDecreasingOffsets(t *testing.T) {
	_, err := Parse("00:20 -> 1\n00:10 -> 2")
	if !errors.Is(err, ErrNotMonotonic) {
		t.Errorf("expected ErrNotMonotonic, got %v", err)
	}
}

func TestAppend_KeepsOrder(t *testing.T) {
	var table Table
	table.Append(5, 1)
	e := table.Append(3, 2)

	if e.Offset != 5 {
		t.Errorf("expected clamped offset 5, got %d", e.Offset)
	}
	if table.String() != "00:05 -> 2\n00:05 -> 3" {
		t.Errorf("unexpected serialization %q", table.String())
	}
}

func TestFormatOffset(t *testing.T) {
	if got := FormatOffset(0); got != "00:00" {
		t.Errorf("got %q", got)
	}
	if got := FormatOffset(3599); got != "59:59" {
		t.Errorf("got %q", got)
	}
	if got := FormatOffset(6000); got != "100:00" {
		t.Errorf("got %q", got)
	}
}
