package generate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/fetcher"
)

func seed(v uint64) *uint64 { return &v }

func TestLedgerRows_Shape(t *testing.T) {
	rows, err := LedgerRows(LedgerOptions{Year: 2024, Month: 2, Seed: seed(42)})
	require.NoError(t, err)

	// 2024 is a leap year: 29 days x 2 turbines.
	require.Len(t, rows, 58)
	assert.Equal(t, []string{"2024-02-01", "T001"}, rows[0][:2])
	assert.Equal(t, []string{"2024-02-01", "T002"}, rows[1][:2])
	assert.Equal(t, "2024-02-29", rows[57][0])

	for _, r := range rows {
		require.Len(t, r, 5)
		if r[3] == "1" || r[4] == "1" {
			if r[2] != "" {
				assert.Equal(t, "0", r[2], "outage day must produce nothing")
			}
			assert.False(t, r[3] == "1" && r[4] == "1", "outages are exclusive")
		}
		if r[2] != "" {
			kwh, err := strconv.Atoi(r[2])
			require.NoError(t, err)
			assert.GreaterOrEqual(t, kwh, 0)
			assert.LessOrEqual(t, kwh, int(3.2*24*1000*1.03)+1)
		}
	}
}

func TestLedgerRows_SeedIsReproducible(t *testing.T) {
	a, err := LedgerRows(LedgerOptions{Year: 2024, Month: 7, Seed: seed(7)})
	require.NoError(t, err)
	b, err := LedgerRows(LedgerOptions{Year: 2024, Month: 7, Seed: seed(7)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLedgerRows_CustomTurbines(t *testing.T) {
	rows, err := LedgerRows(LedgerOptions{
		Year: 2023, Month: 4, Seed: seed(1),
		Turbines: []Turbine{{ID: "T009", RatedMW: 2}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 30)
	assert.Equal(t, "T009", rows[0][1])
}

func TestLedgerRows_InvalidMonth(t *testing.T) {
	for _, m := range []int{0, 13} {
		_, err := LedgerRows(LedgerOptions{Year: 2024, Month: m})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "month must be in [1..12]")
	}
}

func TestLedgerFileName(t *testing.T) {
	assert.Equal(t, "production_2024_03.csv", LedgerFileName(2024, 3, "csv"))
	assert.Equal(t, "production_2024_11.xlsx", LedgerFileName(2024, 11, "xlsx"))
}

func TestWriteLedgerCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLedgerCSV(&buf, [][]string{{"2024-03-01", "T001", "", "0", ""}}))
	assert.Equal(t, "date;turbin_id;energie_kWh;arret_planifie;arret_non_planifie\n2024-03-01;T001;;0;\n", buf.String())
}

func TestWriteLedgerFile_CSVRoundTripsThroughReader(t *testing.T) {
	dir := t.TempDir()
	path, n, err := WriteLedgerFile(dir, "csv", LedgerOptions{Year: 2024, Month: 3, Seed: seed(3)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "production_2024_03.csv"), path)
	assert.Equal(t, 62, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	recs, err := fetcher.ReadCSVRecords(context.Background(), f, fetcher.CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, recs, 62)
	assert.Equal(t, "T001", recs[0]["turbin_id"])
	assert.Contains(t, recs[0], "energie_kwh")
}

func TestWriteLedgerFile_XLSX(t *testing.T) {
	dir := t.TempDir()
	path, n, err := WriteLedgerFile(dir, "xlsx", LedgerOptions{Year: 2024, Month: 1, Seed: seed(5)})
	require.NoError(t, err)
	assert.Equal(t, 62, n)

	recs, err := fetcher.ReadXLSXRecords(path, fetcher.XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 62)
	assert.Equal(t, "2024-01-01", recs[0]["date"])
}

func TestWriteLedgerFile_UnknownFormat(t *testing.T) {
	_, _, err := WriteLedgerFile(t.TempDir(), "parquet", LedgerOptions{Year: 2024, Month: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
