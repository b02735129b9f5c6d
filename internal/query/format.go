package query

import (
	"math"
	"strconv"
)

// Table is a Result prepared for display.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
	// Rounded marks the columns whose values were rounded to two decimals.
	Rounded []bool `json:"-"`
	NoData  bool   `json:"no_data"`
}

// Format rounds every column whose non-null values are all numeric to two
// decimals and turns those cells into floats. Other columns pass through.
// A column made only of nulls is left alone.
func Format(result Result) Table {
	table := Table{
		Columns: append([]string(nil), result.Columns...),
		Rows:    make([][]Cell, len(result.Rows)),
		Rounded: make([]bool, len(result.Columns)),
		NoData:  len(result.Rows) == 0,
	}
	for col := range result.Columns {
		table.Rounded[col] = numericColumn(result.Rows, col)
	}
	for i, row := range result.Rows {
		formatted := make([]Cell, len(row))
		for col, cell := range row {
			if col < len(table.Rounded) && table.Rounded[col] && !cell.IsNull() {
				value, _ := cell.Number()
				formatted[col] = FloatCell(round2(value))
				continue
			}
			formatted[col] = cell
		}
		table.Rows[i] = formatted
	}
	return table
}

// Text renders one cell, keeping exactly two decimals in rounded columns.
func (t Table) Text(row, col int) string {
	cell := t.Rows[row][col]
	if col < len(t.Rounded) && t.Rounded[col] && cell.Kind == KindFloat {
		return strconv.FormatFloat(cell.Float, 'f', 2, 64)
	}
	return cell.String()
}

func numericColumn(rows [][]Cell, col int) bool {
	seen := false
	for _, row := range rows {
		if col >= len(row) || row[col].IsNull() {
			continue
		}
		if !row[col].IsNumeric() {
			return false
		}
		seen = true
	}
	return seen
}

func round2(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	return math.Round(value*100) / 100
}
