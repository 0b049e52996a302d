package sheets

import (
	"encoding/csv"
	"io"
)

func newCSVWriter(w io.Writer, comma rune) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	return cw
}
