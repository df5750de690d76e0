package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/egfr-microsim/egfr-microsim/model"
)

// WriteTrajectoryCSV writes a final trajectory table to path, one row
// per (pid, age) with the indicator columns in table order.
func WriteTrajectoryCSV(path string, rows []model.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trajectory output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"pid", "age", "egfr", "slope", "dm", "ht", "g3", "diag", "nephr", "death", "sex", "race"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.PID),
			strconv.FormatFloat(r.Age, 'f', 2, 64),
			strconv.FormatFloat(r.EGFR, 'f', 2, 64),
			strconv.FormatFloat(r.Slope, 'f', -1, 64),
			strconv.Itoa(r.DM),
			strconv.Itoa(r.HT),
			strconv.Itoa(r.G3),
			strconv.Itoa(r.Diag),
			strconv.Itoa(r.Nephr),
			strconv.Itoa(r.Death),
			string(r.Sex),
			string(r.Race),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
