package thresholds

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/avolette/spreadbot/internal/domain"
)

// Sheet files follow the backtest pipeline's naming scheme, one file per
// volatility bucket with the cohort's short strike embedded in the name:
//
//	selected_put_spread_threshold_25-26_strike_21.csv
//
// Each file carries one row per DTE with the pre-aggregated statistics.
var sheetNameRe = regexp.MustCompile(`threshold_(\d+)-\d+_strike_(\d+(?:\.\d+)?)\.csv$`)

// cohortRow is the on-disk row format of a cohort sheet.
type cohortRow struct {
	DTE      int     `csv:"dte"`
	Q1Cost   float64 `csv:"q1_cost"`
	AvgCost  float64 `csv:"avg_cost"`
	Q3Cost   float64 `csv:"q3_cost"`
	Q1Value  float64 `csv:"q1_expiry_value"`
	AvgValue float64 `csv:"avg_expiry_value"`
	Q3Value  float64 `csv:"q3_expiry_value"`
}

// NewFromDir loads every cohort sheet in dir into a Store. Files that do not
// match the sheet naming scheme are ignored; a directory with no matching
// sheets is an error since the selector cannot run without cohorts.
func NewFromDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("thresholds: read dir %s: %w", dir, err)
	}

	s := &Store{buckets: make(map[int]*bucketSheets)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := sheetNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		floor, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		strike, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("thresholds: sheet %s: bad strike: %w", entry.Name(), err)
		}

		sheets, err := loadSheet(filepath.Join(dir, entry.Name()), strike)
		if err != nil {
			return nil, err
		}
		s.buckets[floor] = sheets
	}

	if len(s.buckets) == 0 {
		return nil, fmt.Errorf("thresholds: no cohort sheets in %s", dir)
	}
	return s, nil
}

func loadSheet(path string, strike float64) (*bucketSheets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("thresholds: open sheet %s: %w", path, err)
	}
	defer f.Close()

	var rows []cohortRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("thresholds: parse sheet %s: %w", path, err)
	}

	sheets := &bucketSheets{strike: strike, byDTE: make(map[int]domain.CohortStats, len(rows))}
	for _, r := range rows {
		sheets.byDTE[r.DTE] = domain.CohortStats{
			Strike:   strike,
			Q1Cost:   r.Q1Cost,
			AvgCost:  r.AvgCost,
			Q3Cost:   r.Q3Cost,
			Q1Value:  r.Q1Value,
			AvgValue: r.AvgValue,
			Q3Value:  r.Q3Value,
		}
	}
	return sheets, nil
}

// LoadBacktestRows reads a raw backtest result CSV, for deployments that ship
// per-trade rows instead of pre-aggregated sheets.
func LoadBacktestRows(path string) ([]BacktestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("thresholds: open backtest rows %s: %w", path, err)
	}
	defer f.Close()

	var rows []BacktestRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("thresholds: parse backtest rows %s: %w", path, err)
	}
	return rows, nil
}
