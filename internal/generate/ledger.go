// Package generate produces synthetic production ledgers and sensor
// telemetry for development and demos.
package generate

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Turbine is one generated asset.
type Turbine struct {
	ID      string
	RatedMW float64
}

// DefaultTurbines are the two assets of the reference wind farm.
var DefaultTurbines = []Turbine{
	{ID: "T001", RatedMW: 3.2},
	{ID: "T002", RatedMW: 2.8},
}

// monthlyCapacityFactor is the mean daily capacity factor per month:
// windier in winter, calmer in summer.
var monthlyCapacityFactor = [13]float64{
	0, 0.42, 0.40, 0.38, 0.35, 0.30, 0.28, 0.25, 0.27, 0.32, 0.36, 0.40, 0.43,
}

// LedgerHeader is the column layout of a production ledger.
var LedgerHeader = []string{"date", "turbin_id", "energie_kWh", "arret_planifie", "arret_non_planifie"}

const (
	plannedOutageRate   = 0.02
	unplannedOutageRate = 0.01
	blankEnergyRate     = 0.05
	blankFlagRate       = 0.02
	dailyCFStdDev       = 0.10
)

// LedgerOptions configures a generated month.
type LedgerOptions struct {
	Year     int
	Month    int
	Turbines []Turbine
	// Seed makes the output reproducible; nil draws a random seed.
	Seed *uint64
}

func (o LedgerOptions) validate() error {
	if o.Year < 1 {
		return eris.Errorf("generate: year must be positive, got %d", o.Year)
	}
	if o.Month < 1 || o.Month > 12 {
		return eris.Errorf("generate: month must be in [1..12], got %d", o.Month)
	}
	return nil
}

// LedgerFileName returns production_YYYY_MM.<ext>.
func LedgerFileName(year, month int, ext string) string {
	return fmt.Sprintf("production_%04d_%02d.%s", year, month, ext)
}

// LedgerRows generates one row per turbine per day of the month.
func LedgerRows(opts LedgerOptions) ([][]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	turbines := opts.Turbines
	if len(turbines) == 0 {
		turbines = DefaultTurbines
	}

	var seed uint64
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	first := time.Date(opts.Year, time.Month(opts.Month), 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()

	rows := make([][]string, 0, days*len(turbines))
	for d := range days {
		date := first.AddDate(0, 0, d).Format("2006-01-02")
		for _, t := range turbines {
			rows = append(rows, ledgerRow(rng, date, t, opts.Month))
		}
	}
	return rows, nil
}

func ledgerRow(rng *rand.Rand, date string, t Turbine, month int) []string {
	planned, unplanned := 0, 0
	if rng.Float64() < plannedOutageRate {
		planned = 1
	} else if rng.Float64() < unplannedOutageRate {
		unplanned = 1
	}

	energy := 0
	if planned == 0 && unplanned == 0 {
		cf := monthlyCapacityFactor[month] + rng.NormFloat64()*dailyCFStdDev
		cf = max(0, min(1, cf))
		kwh := cf * t.RatedMW * 24 * 1000
		kwh *= 0.97 + rng.Float64()*0.06
		energy = int(math.Round(kwh))
	}

	row := []string{date, t.ID, strconv.Itoa(energy), strconv.Itoa(planned), strconv.Itoa(unplanned)}
	if rng.Float64() < blankEnergyRate {
		row[2] = ""
	}
	if rng.Float64() < blankFlagRate {
		row[3] = ""
	}
	if rng.Float64() < blankFlagRate {
		row[4] = ""
	}
	return row
}

// WriteLedgerCSV writes a ';'-separated ledger with header to w.
func WriteLedgerCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(LedgerHeader); err != nil {
		return eris.Wrap(err, "generate: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "generate: write rows")
	}
	return nil
}

// WriteLedgerXLSX writes the ledger as a single-sheet workbook.
func WriteLedgerXLSX(path string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("production")
	if err != nil {
		return eris.Wrap(err, "generate: add sheet")
	}
	for _, r := range append([][]string{LedgerHeader}, rows...) {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "generate: save workbook")
	}
	return nil
}

// WriteLedgerFile generates a month into dir in the given format (csv or
// xlsx) and returns the file path and data row count.
func WriteLedgerFile(dir, format string, opts LedgerOptions) (string, int, error) {
	rows, err := LedgerRows(opts)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, eris.Wrap(err, "generate: create output dir")
	}

	switch format {
	case "xlsx":
		path := filepath.Join(dir, LedgerFileName(opts.Year, opts.Month, "xlsx"))
		return path, len(rows), WriteLedgerXLSX(path, rows)
	case "csv", "":
		path := filepath.Join(dir, LedgerFileName(opts.Year, opts.Month, "csv"))
		f, err := os.Create(path)
		if err != nil {
			return "", 0, eris.Wrap(err, "generate: create ledger")
		}
		defer f.Close() //nolint:errcheck
		return path, len(rows), WriteLedgerCSV(f, rows)
	default:
		return "", 0, eris.Errorf("generate: unknown format %q", format)
	}
}
