// Package cellref converts between spreadsheet cell addresses such as "AD18"
// and 1-based (row, column) coordinates.
package cellref

import (
	"fmt"
	"strconv"
	"strings"
)

// maxColumnLetters keeps column arithmetic far away from int overflow.
const maxColumnLetters = 7

// MaxColumn is the last column with at most maxColumnLetters letters
// ("ZZZZZZZ").
var MaxColumn = func() int {
	n, p := 0, 1
	for i := 0; i < maxColumnLetters; i++ {
		p *= 26
		n += p
	}
	return n
}()

// InvalidAddressError reports an address string that cannot be decoded, or
// coordinates that cannot be encoded.
type InvalidAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid cell address %q: %s", e.Input, e.Reason)
}

// Address is a cell position. Row and Col are both 1-based.
type Address struct {
	Row int
	Col int
}

// String returns the canonical address, e.g. "AD18".
func (a Address) String() string {
	return ColumnName(a.Col) + strconv.Itoa(a.Row)
}

// Less orders addresses row-major: top-to-bottom, then left-to-right.
func (a Address) Less(b Address) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

// Encode returns the canonical address for a 1-based row and column.
func Encode(row, col int) (string, error) {
	if row < 1 || col < 1 {
		return "", &InvalidAddressError{
			Input:  fmt.Sprintf("(%d,%d)", row, col),
			Reason: "row and column must be >= 1",
		}
	}
	if col > MaxColumn {
		return "", &InvalidAddressError{
			Input:  fmt.Sprintf("(%d,%d)", row, col),
			Reason: "column is out of range",
		}
	}
	return Address{Row: row, Col: col}.String(), nil
}

// MustEncode is Encode for coordinates known to be valid.
func MustEncode(row, col int) string {
	s, err := Encode(row, col)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses an address such as "AD18" into its row and column.
// Lowercase letters are accepted; "$" anchors are not.
func Decode(s string) (row, col int, err error) {
	addr, err := Parse(s)
	if err != nil {
		return 0, 0, err
	}
	return addr.Row, addr.Col, nil
}

// Parse is Decode returning an Address.
func Parse(s string) (Address, error) {
	if s == "" {
		return Address{}, &InvalidAddressError{Input: s, Reason: "empty address"}
	}

	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	switch {
	case i == 0:
		return Address{}, &InvalidAddressError{Input: s, Reason: "address must start with column letters"}
	case i > maxColumnLetters:
		return Address{}, &InvalidAddressError{Input: s, Reason: "column is out of range"}
	case i == len(s):
		return Address{}, &InvalidAddressError{Input: s, Reason: "missing row number"}
	}

	col, err := ColumnNumber(s[:i])
	if err != nil {
		return Address{}, &InvalidAddressError{Input: s, Reason: err.Error()}
	}

	digits := s[i:]
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return Address{}, &InvalidAddressError{Input: s, Reason: "row must be a positive integer"}
		}
	}
	row, err := strconv.Atoi(digits)
	if err != nil {
		return Address{}, &InvalidAddressError{Input: s, Reason: "row is out of range"}
	}
	if row < 1 {
		return Address{}, &InvalidAddressError{Input: s, Reason: "row must be >= 1"}
	}

	return Address{Row: row, Col: col}, nil
}

// Canonical re-encodes an address, upper-casing the column letters.
func Canonical(s string) (string, error) {
	addr, err := Parse(s)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// ColumnName converts a 1-based column number to bijective base-26 letters.
// 1 -> "A", 26 -> "Z", 27 -> "AA", 30 -> "AD". Columns outside
// [1, MaxColumn] yield "".
func ColumnName(col int) string {
	if col < 1 || col > MaxColumn {
		return ""
	}
	var buf [maxColumnLetters + 1]byte
	i := len(buf)
	for col > 0 {
		col--
		i--
		buf[i] = byte('A' + col%26)
		col /= 26
	}
	return string(buf[i:])
}

// ColumnNumber converts column letters to a 1-based column number.
func ColumnNumber(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	if len(name) > maxColumnLetters {
		return 0, fmt.Errorf("column %q is out of range", name)
	}
	col := 0
	for _, ch := range strings.ToUpper(name) {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		col = col*26 + int(ch-'A') + 1
	}
	return col, nil
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
