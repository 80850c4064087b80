// Package ticket formats and advances the human-readable, per-day
// sequential numbers used for sale tickets and register shifts.
package ticket

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scheme describes one numbering family: a prefix and the zero-padded
// width of its daily sequence.
type Scheme struct {
	Prefix   string
	SeqWidth int
}

var (
	// Sale tickets: TKT-YYYYMMDD-NNNNNN.
	Sale = Scheme{Prefix: "TKT", SeqWidth: 6}
	// Register shifts: TURNO-YYYYMMDD-NNNN.
	Shift = Scheme{Prefix: "TURNO", SeqWidth: 4}
)

// Format renders the number for a given date and sequence value.
func (s Scheme) Format(date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%0*d", s.Prefix, date.Format("20060102"), s.SeqWidth, seq)
}

// Seq extracts the sequence value from a previously issued number.
// Returns 0 for an empty or malformed number, so Next starts the day
// at sequence 1.
func (s Scheme) Seq(number string) int {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != s.Prefix {
		return 0
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// Next derives the smallest unused number for the date from the last
// number issued that day. It must be called inside the same transaction
// that inserts the row carrying the number; the unique constraint on the
// column is the backstop that turns a concurrent race into a retryable
// conflict.
func (s Scheme) Next(date time.Time, lastIssued string) string {
	return s.Format(date, s.Seq(lastIssued)+1)
}
