package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/energitech/consolidator/internal/fetcher"
	"github.com/energitech/consolidator/internal/transform"
)

const ledgerCSV = "date;turbin_id;energie_kWh;arret_planifie;arret_non_planifie\n" +
	"2024-03-01;T001;812,4;0;0\n" +
	"2024-03-01;T002;;1;0\n"

func writeLedger(t *testing.T, dir, name, content string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestProductionSource_LocalLatestCSV(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeLedger(t, dir, "production_2024_02.csv", "date;turbin_id\n2024-02-01;T009\n", now.Add(-time.Hour))
	writeLedger(t, dir, "production_2024_03.csv", ledgerCSV, now)
	writeLedger(t, dir, "notes.csv", "x\n", now.Add(time.Hour))

	s := NewProductionSource(ProductionConfig{Dir: dir}, nil)
	rows, err := s.Extract(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, transform.ProductionRow{
		Date: "2024-03-01", TurbineID: "T001", EnergyKWh: "812,4", PlannedOutage: "0", UnplannedOutage: "0",
	}, rows[0])
	assert.Equal(t, "", rows[1].EnergyKWh)
	assert.Equal(t, "1", rows[1].PlannedOutage)
}

func TestProductionSource_XLSX(t *testing.T) {
	dir := t.TempDir()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Ledger")
	require.NoError(t, err)
	for _, r := range [][]string{
		{"date", "turbine_id", "energie_kwh", "arret_planifie", "arret_non_planifie"},
		{"2024-03-02", "T002", "640.1", "0", "1"},
	} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(filepath.Join(dir, "production_2024_03.xlsx")))

	rows, err := NewProductionSource(ProductionConfig{Dir: dir}, nil).Extract(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T002", rows[0].TurbineID)
	assert.Equal(t, "640.1", rows[0].EnergyKWh)
	assert.Equal(t, "1", rows[0].UnplannedOutage)
}

func TestProductionSource_NoLedger(t *testing.T) {
	_, err := NewProductionSource(ProductionConfig{Dir: t.TempDir()}, nil).Extract(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no production_* ledger")
}

type fakeDrop struct {
	files      []fetcher.FileInfo
	content    map[string]string
	downloaded []string
}

func (d *fakeDrop) List(_ context.Context, _ string) ([]fetcher.FileInfo, error) {
	return d.files, nil
}

func (d *fakeDrop) Download(_ context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(d.content[url])), nil
}

func (d *fakeDrop) DownloadToFile(_ context.Context, url, path string) (int64, error) {
	d.downloaded = append(d.downloaded, url)
	body := d.content[url]
	return int64(len(body)), os.WriteFile(path, []byte(body), 0o644)
}

func TestProductionSource_FTPDrop(t *testing.T) {
	mod := time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)
	drop := &fakeDrop{
		files: []fetcher.FileInfo{
			{Name: "production_2024_02.csv", Location: "ftp://drop/ledgers/production_2024_02.csv", ModTime: mod.Add(-24 * time.Hour)},
			{Name: "production_2024_03.csv", Location: "ftp://drop/ledgers/production_2024_03.csv", ModTime: mod},
		},
		content: map[string]string{"ftp://drop/ledgers/production_2024_03.csv": ledgerCSV},
	}

	tmp := filepath.Join(t.TempDir(), "tmp")
	s := NewProductionSource(ProductionConfig{FTPURL: "ftp://drop/ledgers"}, drop)
	rows, err := s.Extract(context.Background(), tmp)
	require.NoError(t, err)

	assert.Len(t, rows, 2)
	assert.Equal(t, []string{"ftp://drop/ledgers/production_2024_03.csv"}, drop.downloaded)
	assert.FileExists(t, filepath.Join(tmp, "production_2024_03.csv"))
}

func TestProductionSource_FTPWithoutClient(t *testing.T) {
	_, err := NewProductionSource(ProductionConfig{FTPURL: "ftp://drop/ledgers"}, nil).Extract(context.Background(), t.TempDir())
	assert.Error(t, err)
}
