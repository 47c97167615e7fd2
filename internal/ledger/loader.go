// Package ledger loads the raw transaction dump and the ground-truth
// fraud-ring labels that feed the pipeline.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// TimestampLayout is the layout used by the upstream ledger dump.
const TimestampLayout = "2006/01/02 15:04"

// expected column order of the raw ledger CSV.
var ledgerColumns = []string{
	"timestamp", "sender", "receiver", "amount", "currency", "is_flagged",
}

// LoadFile reads a raw ledger CSV from disk.
func LoadFile(path string) ([]domain.LedgerRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads raw ledger records from r. The first row must be the header;
// malformed rows are skipped with a counted warning rather than aborting
// the whole load.
func Load(r io.Reader) ([]domain.LedgerRecord, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var records []domain.LedgerRecord
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger row: %w", err)
		}

		rec, err := parseRow(row)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		slog.Warn("skipped malformed ledger rows",
			"skipped", skipped,
			"loaded", len(records),
		)
	}
	return records, nil
}

func checkHeader(header []string) error {
	if len(header) != len(ledgerColumns) {
		return &domain.SchemaValidationError{
			Table:  "ledger",
			Detail: fmt.Sprintf("expected %d columns, got %d", len(ledgerColumns), len(header)),
		}
	}
	for i, want := range ledgerColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return &domain.SchemaValidationError{
				Table:  "ledger",
				Detail: fmt.Sprintf("column %d: expected %q, got %q", i, want, header[i]),
			}
		}
	}
	return nil
}

func parseRow(row []string) (domain.LedgerRecord, error) {
	var rec domain.LedgerRecord
	if len(row) != len(ledgerColumns) {
		return rec, fmt.Errorf("expected %d fields, got %d", len(ledgerColumns), len(row))
	}

	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(row[0]))
	if err != nil {
		return rec, fmt.Errorf("bad timestamp: %w", err)
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return rec, fmt.Errorf("bad amount: %w", err)
	}

	flagged, err := strconv.ParseBool(strings.TrimSpace(row[5]))
	if err != nil {
		// Upstream dumps use 0/1; ParseBool covers those, anything else
		// is malformed.
		return rec, fmt.Errorf("bad is_flagged: %w", err)
	}

	rec = domain.LedgerRecord{
		Timestamp: ts,
		Sender:    strings.TrimSpace(row[1]),
		Receiver:  strings.TrimSpace(row[2]),
		Amount:    amount,
		Currency:  strings.TrimSpace(row[4]),
		IsFlagged: flagged,
	}
	if rec.Sender == "" || rec.Receiver == "" {
		return rec, fmt.Errorf("empty sender or receiver")
	}
	return rec, nil
}

// Subsample caps the ledger at limit rows while keeping every flagged row.
// Only unflagged rows are sampled, using rng, and the result is re-sorted
// chronologically. limit <= 0 returns the input unchanged.
func Subsample(records []domain.LedgerRecord, limit int, rng *rand.Rand) []domain.LedgerRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}

	var flagged, clean []domain.LedgerRecord
	for _, rec := range records {
		if rec.IsFlagged {
			flagged = append(flagged, rec)
		} else {
			clean = append(clean, rec)
		}
	}

	keep := limit - len(flagged)
	if keep < 0 {
		keep = 0
	}
	if keep < len(clean) {
		perm := rng.Perm(len(clean))[:keep]
		sort.Ints(perm)
		sampled := make([]domain.LedgerRecord, 0, keep)
		for _, idx := range perm {
			sampled = append(sampled, clean[idx])
		}
		clean = sampled
	}

	out := make([]domain.LedgerRecord, 0, len(flagged)+len(clean))
	out = append(out, flagged...)
	out = append(out, clean...)
	Sort(out)

	slog.Info("subsampled ledger",
		"total", len(records),
		"kept", len(out),
		"flagged_kept", len(flagged),
	)
	return out
}

// Sort orders records chronologically with a full tie-break so the
// order is stable across runs regardless of input order.
func Sort(records []domain.LedgerRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Sender != b.Sender {
			return a.Sender < b.Sender
		}
		if a.Receiver != b.Receiver {
			return a.Receiver < b.Receiver
		}
		return a.Amount < b.Amount
	})
}
