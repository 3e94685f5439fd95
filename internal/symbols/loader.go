package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultSuffix is the Yahoo exchange suffix for the Indonesia Stock Exchange
const DefaultSuffix = ".JK"

// ErrInvalidSymbol is returned for tickers that are not plain exchange codes
var ErrInvalidSymbol = errors.New("invalid symbol")

// Normalize trims, upper-cases and strips an exchange suffix (".JK") so the
// result is a bare ticker
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return s
}

// Validate checks that a normalized ticker is 1–6 letters or digits
func Validate(symbol string) error {
	if len(symbol) == 0 || len(symbol) > 6 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, c := range symbol {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return nil
}

// Qualify appends the exchange suffix to a bare ticker
func Qualify(symbol, suffix string) string {
	return symbol + suffix
}

// Unqualify removes the exchange suffix again
func Unqualify(symbol, suffix string) string {
	return strings.TrimSuffix(symbol, suffix)
}

// Clean normalizes a list of tickers, dropping invalid ones and duplicates while
// keeping first-seen order. It returns the rejected inputs separately.
func Clean(raw []string) (symbols []string, rejected []string) {
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		s := Normalize(r)
		if err := Validate(s); err != nil {
			rejected = append(rejected, r)
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols, rejected
}

// ParseList splits a comma-separated flag value
func ParseList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return strings.Split(list, ",")
}

// LoadFile reads tickers from a CSV or plain-text file
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening universe file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// headerWords are first-row cells treated as a column title, not a ticker
var headerWords = map[string]bool{"SYMBOL": true, "TICKER": true, "KODE": true, "CODE": true, "STOCK": true, "SAHAM": true}

// Read takes the first column of every row; a header row or any row whose
// first cell is not a ticker is ignored
func Read(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var raw []string
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading universe file: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		if first {
			first = false
			if headerWords[strings.ToUpper(strings.TrimSpace(rec[0]))] {
				continue
			}
		}
		if Validate(Normalize(rec[0])) != nil {
			continue
		}
		raw = append(raw, rec[0])
	}

	syms, _ := Clean(raw)
	if len(syms) == 0 {
		return nil, fmt.Errorf("no valid tickers found")
	}
	return syms, nil
}
