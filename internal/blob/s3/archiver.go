package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/avolette/spreadbot/internal/domain"
)

// LedgerArchiveStore provides read access to aged trade records. The
// archiver only needs the time-ranged query, not the full ledger interface.
type LedgerArchiveStore interface {
	ListEntriesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// Archiver implements domain.Archiver by exporting aged trade records as CSV
// and uploading the result to S3. Deletion of the archived rows from the
// primary store is intentionally NOT performed here; that is a separate,
// explicit step executed after the archive has been verified.
type Archiver struct {
	writer   domain.BlobWriter
	verifier domain.BlobReader
	ledger   LedgerArchiveStore
}

// NewArchiver creates an Archiver. verifier may be nil, in which case the
// upload is trusted without a read-back existence check.
func NewArchiver(writer domain.BlobWriter, verifier domain.BlobReader, ledger LedgerArchiveStore) *Archiver {
	return &Archiver{
		writer:   writer,
		verifier: verifier,
		ledger:   ledger,
	}
}

// archiveRow is the CSV shape of one archived trade record. Columns mirror
// the operational trade log so archives stay loadable by the same analysis
// tooling.
type archiveRow struct {
	ID              string  `csv:"id"`
	CreatedAt       string  `csv:"created_at"`
	Underlying      string  `csv:"underlying"`
	Expiration      string  `csv:"expiration"`
	ShortStrike     float64 `csv:"short_strike"`
	LongStrike      float64 `csv:"long_strike"`
	DTE             int     `csv:"dte"`
	SpreadCost      float64 `csv:"spread_cost"`
	CommissionSell  float64 `csv:"commission_sell"`
	CommissionBuy   float64 `csv:"commission_buy"`
	TotalCommission float64 `csv:"total_commission"`
	Status          string  `csv:"status"`
	IndexLevel      float64 `csv:"index_level"`
	QtySell         int     `csv:"qty_sell"`
	QtyBuy          int     `csv:"qty_buy"`
	BidSell         float64 `csv:"bid_sell"`
	AskSell         float64 `csv:"ask_sell"`
	BidBuy          float64 `csv:"bid_buy"`
	AskBuy          float64 `csv:"ask_buy"`
	PriceSold       float64 `csv:"price_sold"`
	PricePaid       float64 `csv:"price_paid"`
	EffectiveCost   float64 `csv:"effective_cost"`
	TotalCost       float64 `csv:"total_cost"`
}

func toArchiveRow(r domain.TradeRecord) archiveRow {
	return archiveRow{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		Underlying:      r.Underlying,
		Expiration:      r.Expiration.Format("2006-01-02"),
		ShortStrike:     r.ShortStrike,
		LongStrike:      r.LongStrike,
		DTE:             r.DTE,
		SpreadCost:      r.SpreadCost,
		CommissionSell:  r.CommissionSell,
		CommissionBuy:   r.CommissionBuy,
		TotalCommission: r.TotalCommission,
		Status:          string(r.Status),
		IndexLevel:      r.IndexLevel,
		QtySell:         r.QtySell,
		QtyBuy:          r.QtyBuy,
		BidSell:         r.BidSell,
		AskSell:         r.AskSell,
		BidBuy:          r.BidBuy,
		AskBuy:          r.AskBuy,
		PriceSold:       r.PriceSold,
		PricePaid:       r.PricePaid,
		EffectiveCost:   r.EffectiveCost,
		TotalCost:       r.TotalCost,
	}
}

// ArchiveEntries queries all trade records created before the cutoff,
// serializes them to CSV, and uploads the file to S3 at
// archive/trade_records/YYYY-MM.csv. Returns the count of archived records.
func (a *Archiver) ArchiveEntries(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.ledger.ListEntriesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive entries query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([]archiveRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, toArchiveRow(r))
	}

	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive entries marshal: %w", err)
	}

	path := archivePath("trade_records", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return 0, fmt.Errorf("s3blob: archive entries upload: %w", err)
	}

	if a.verifier != nil {
		ok, err := a.verifier.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive entries verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive entries verify: object %s missing after upload", path)
		}
	}

	return int64(len(recs)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trade_records/2026-08.csv
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.csv", kind, before.Format("2006-01"))
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
