// Package export renders revenue statements for download.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
)

// Row is one pool's line in a revenue statement.
type Row struct {
	Pool        string  `json:"pool"`
	Region      string  `json:"region"`
	GrossCAD    float64 `json:"gross_cad"`
	PlatformCAD float64 `json:"platform_fee_cad"`
	OperatorCAD float64 `json:"operator_fee_cad"`
	NetCAD      float64 `json:"net_cad"`
	Dispatches  int     `json:"dispatches"`
	EnergyKWh   float64 `json:"energy_kwh"`
	Reliability float64 `json:"reliability_pct"`
}

// WriteJSON writes the statement rows to w in JSON format.
func WriteJSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	return enc.Encode(rows)
}

// WriteRevenueCSV writes the statement rows to w in CSV format. Amounts
// carry two decimals, reliability one.
func WriteRevenueCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := []string{"Pool", "Region", "Gross Revenue", "Platform Fee", "Operator Fee", "Net Revenue", "Dispatches", "kWh", "Reliability"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Pool,
			r.Region,
			strconv.FormatFloat(r.GrossCAD, 'f', 2, 64),
			strconv.FormatFloat(r.PlatformCAD, 'f', 2, 64),
			strconv.FormatFloat(r.OperatorCAD, 'f', 2, 64),
			strconv.FormatFloat(r.NetCAD, 'f', 2, 64),
			strconv.Itoa(r.Dispatches),
			strconv.FormatFloat(r.EnergyKWh, 'f', 2, 64),
			strconv.FormatFloat(r.Reliability, 'f', 1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
