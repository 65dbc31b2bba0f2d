package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrEmptyValue = errors.New("empty value")

// ParseValue reads a payment amount. Strings carrying a decimal comma are
// treated as Brazilian formatted ("1.234,56"); anything else goes through
// strconv so already-normalised values ("1234.56") survive untouched.
func ParseValue(valStr string) (float64, error) {
	s := strings.TrimSpace(valStr)
	if s == "" {
		return 0, ErrEmptyValue
	}

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value %q: %w", valStr, err)
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, fmt.Errorf("parse value %q: not a finite number", valStr)
	}
	return val, nil
}

// NormalizeMunicipalityCode trims the code, drops a float suffix left by
// spreadsheet exports and left-pads it with zeros to width.
func NormalizeMunicipalityCode(code string, width int) string {
	code = strings.TrimSpace(code)
	code = strings.TrimSuffix(code, ".0")
	if code == "" {
		return ""
	}
	if n := width - len(code); n > 0 {
		code = strings.Repeat("0", n) + code
	}
	return code
}
