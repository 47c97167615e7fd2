package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// TimestampLayout is the serialization format for every timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// memberSeparator joins ring member ids inside a single CSV field.
const memberSeparator = ";"

// WriteCSV serializes all six tables under dir. Files are written to
// temporary paths first and renamed only after every table succeeds, so a
// failed run never leaves a partially-written dataset behind.
func WriteCSV(ds *domain.Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: create output dir: %w", err)
	}

	tables := []struct {
		name   string
		header []string
		rows   func() [][]string
	}{
		{
			name:   "accounts",
			header: []string{"account_id", "role", "bank", "entity", "is_fraudulent"},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.Accounts))
				for _, a := range ds.Accounts {
					out = append(out, []string{
						a.AccountID, string(a.Role), a.Bank, a.Entity,
						strconv.FormatBool(a.IsFraudulent),
					})
				}
				return out
			},
		},
		{
			name:   "referrals",
			header: []string{"partner_id", "client_id", "referral_date"},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.Referrals))
				for _, e := range ds.Referrals {
					out = append(out, []string{
						e.PartnerID, e.ClientID, formatTime(e.ReferralDate),
					})
				}
				return out
			},
		},
		{
			name: "trades",
			header: []string{
				"trade_id", "client_id", "instrument", "timestamp",
				"direction", "volume", "is_opposite_trade", "is_bonus_abuse",
			},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.Trades))
				for _, t := range ds.Trades {
					out = append(out, []string{
						t.TradeID, t.ClientID, t.Instrument, formatTime(t.Timestamp),
						string(t.Direction), formatAmount(t.Volume),
						strconv.FormatBool(t.IsOppositeTrade),
						strconv.FormatBool(t.IsBonusAbuse),
					})
				}
				return out
			},
		},
		{
			name: "commissions",
			header: []string{
				"commission_id", "client_id", "partner_id", "timestamp",
				"commission_amount", "currency",
			},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.Commissions))
				for _, c := range ds.Commissions {
					out = append(out, []string{
						c.CommissionID, c.ClientID, c.PartnerID, formatTime(c.Timestamp),
						formatAmount(c.CommissionAmount), c.Currency,
					})
				}
				return out
			},
		},
		{
			name:   "withdrawals",
			header: []string{"withdrawal_id", "client_id", "timestamp", "amount"},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.Withdrawals))
				for _, w := range ds.Withdrawals {
					out = append(out, []string{
						w.WithdrawalID, w.ClientID, formatTime(w.Timestamp),
						formatAmount(w.Amount),
					})
				}
				return out
			},
		},
		{
			name:   "fraud_rings",
			header: []string{"ring_id", "pattern_type", "member_account_ids"},
			rows: func() [][]string {
				out := make([][]string, 0, len(ds.FraudRings))
				for _, r := range ds.FraudRings {
					out = append(out, []string{
						r.RingID, string(r.PatternType),
						strings.Join(r.MemberAccountIDs, memberSeparator),
					})
				}
				return out
			},
		},
	}

	staged := make(map[string]string, len(tables))
	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}

	for _, t := range tables {
		tmp, err := writeTable(dir, t.name, t.header, t.rows())
		if err != nil {
			cleanup()
			return err
		}
		staged[t.name] = tmp
	}

	// All tables staged; commit.
	for name, tmp := range staged {
		final := filepath.Join(dir, name+".csv")
		if err := os.Rename(tmp, final); err != nil {
			cleanup()
			return fmt.Errorf("export: commit %s: %w", name, err)
		}
	}
	return nil
}

func writeTable(dir, name string, header []string, rows [][]string) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+"-*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("export: stage %s: %w", name, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("export: write %s header: %w", name, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("export: write %s row: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("export: flush %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("export: close %s: %w", name, err)
	}
	return f.Name(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// formatAmount keeps two decimal places, matching the rounding applied
// when amounts are derived.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
