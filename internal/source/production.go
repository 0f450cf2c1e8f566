package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/fetcher"
	"github.com/energitech/consolidator/internal/transform"
)

// ledgerExts are the file types accepted for production ledgers.
var ledgerExts = []string{".csv", ".xlsx"}

// ProductionConfig locates the production ledger drop.
type ProductionConfig struct {
	Dir       string // local directory scanned when FTPURL is empty
	FTPURL    string // ftp://[user:pass@]host[:port]/dir
	Prefix    string // default "production_"
	Delimiter string // CSV delimiter, default ";"
}

// ProductionSource reads the most recent production ledger.
type ProductionSource struct {
	cfg  ProductionConfig
	drop RemoteDrop
	log  *zap.Logger
}

// NewProductionSource creates a ProductionSource. drop may be nil when the
// ledgers are read from a local directory.
func NewProductionSource(cfg ProductionConfig, drop RemoteDrop) *ProductionSource {
	if cfg.Prefix == "" {
		cfg.Prefix = "production_"
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ";"
	}
	return &ProductionSource{
		cfg:  cfg,
		drop: drop,
		log:  zap.L().With(zap.String("component", "source.production")),
	}
}

// Extract locates the newest ledger, copying it into tmpDir first when it
// lives on the FTP drop, and returns its rows.
func (s *ProductionSource) Extract(ctx context.Context, tmpDir string) ([]transform.ProductionRow, error) {
	path, err := s.locate(ctx, tmpDir)
	if err != nil {
		return nil, err
	}

	s.log.Info("reading production ledger", zap.String("path", path))

	var recs []map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		recs, err = fetcher.ReadXLSXRecords(path, fetcher.XLSXOptions{})
	default:
		recs, err = s.readCSV(ctx, path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "production: read %s", filepath.Base(path))
	}

	rows := make([]transform.ProductionRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, transform.ProductionRow{
			Date:            firstOf(rec, "date"),
			TurbineID:       firstOf(rec, "turbin_id", "turbine_id"),
			EnergyKWh:       firstOf(rec, "energie_kwh", "energy_kwh"),
			PlannedOutage:   firstOf(rec, "arret_planifie", "planned_outage"),
			UnplannedOutage: firstOf(rec, "arret_non_planifie", "unplanned_outage"),
		})
	}

	s.log.Info("production rows read", zap.Int("rows", len(rows)))
	return rows, nil
}

func (s *ProductionSource) locate(ctx context.Context, tmpDir string) (string, error) {
	if s.cfg.FTPURL != "" {
		if s.drop == nil {
			return "", eris.New("production: ftp url configured without a client")
		}
		files, err := s.drop.List(ctx, s.cfg.FTPURL)
		if err != nil {
			return "", eris.Wrap(err, "production: list ftp drop")
		}
		latest, ok := fetcher.Latest(files, s.cfg.Prefix, ledgerExts...)
		if !ok {
			return "", eris.Errorf("production: no %s* ledger on %s", s.cfg.Prefix, s.cfg.FTPURL)
		}

		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return "", eris.Wrap(err, "production: create tmp dir")
		}
		local := filepath.Join(tmpDir, latest.Name)
		if _, err := s.drop.DownloadToFile(ctx, latest.Location, local); err != nil {
			return "", eris.Wrapf(err, "production: download %s", latest.Name)
		}
		return local, nil
	}

	files, err := fetcher.ListDir(s.cfg.Dir)
	if err != nil {
		return "", eris.Wrap(err, "production: scan input dir")
	}
	latest, ok := fetcher.Latest(files, s.cfg.Prefix, ledgerExts...)
	if !ok {
		return "", eris.Errorf("production: no %s* ledger in %s", s.cfg.Prefix, s.cfg.Dir)
	}
	return latest.Location, nil
}

func (s *ProductionSource) readCSV(ctx context.Context, path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	defer f.Close() //nolint:errcheck

	delim, _ := utf8.DecodeRuneInString(s.cfg.Delimiter)
	return fetcher.ReadCSVRecords(ctx, f, fetcher.CSVOptions{
		Delimiter:  delim,
		TrimSpace:  true,
		LazyQuotes: true,
	})
}
