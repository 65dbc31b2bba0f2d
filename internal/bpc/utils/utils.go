package utils

import (
	"slices"

	"github.com/go-gota/gota/dataframe"
)

func HasColumn(df *dataframe.DataFrame, col string) bool {
	if df == nil {
		return false
	}
	return slices.Contains(df.Names(), col)
}

// MissingColumns returns the entries of cols that df does not carry, in order.
func MissingColumns(df *dataframe.DataFrame, cols []string) []string {
	var missing []string
	for _, c := range cols {
		if !HasColumn(df, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// ColumnStrings returns col as strings, or nil when the column is absent.
// Null cells come back as "".
func ColumnStrings(df *dataframe.DataFrame, col string) []string {
	if !HasColumn(df, col) {
		return nil
	}
	s := df.Col(col)
	out := make([]string, s.Len())
	for i := range out {
		e := s.Elem(i)
		if e.IsNA() {
			continue
		}
		out[i] = e.String()
	}
	return out
}
