package normalize

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes the header followed by every row.
func WriteCSV(w io.Writer, rows []Row) error {
	out := csv.NewWriter(w)
	if err := out.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := out.Write(r.Values()); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
