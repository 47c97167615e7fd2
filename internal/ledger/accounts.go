package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opensource-finance/shrike/internal/domain"
)

// LoadAccountsFile reads the accounts master CSV from disk.
func LoadAccountsFile(path string) (map[string]domain.AccountInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()
	return LoadAccounts(f)
}

// LoadAccounts reads the accounts master: account_id, bank, entity.
// The master is optional enrichment; accounts absent from it export with
// empty bank/entity fields.
func LoadAccounts(r io.Reader) (map[string]domain.AccountInfo, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts header: %w", err)
	}
	if len(header) != 3 ||
		!strings.EqualFold(strings.TrimSpace(header[0]), "account_id") ||
		!strings.EqualFold(strings.TrimSpace(header[1]), "bank") ||
		!strings.EqualFold(strings.TrimSpace(header[2]), "entity") {
		return nil, &domain.SchemaValidationError{
			Table:  "accounts_master",
			Detail: "expected columns account_id, bank, entity",
		}
	}

	info := make(map[string]domain.AccountInfo)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read accounts row: %w", err)
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			continue
		}
		info[id] = domain.AccountInfo{
			Bank:   strings.TrimSpace(row[1]),
			Entity: strings.TrimSpace(row[2]),
		}
	}
	return info, nil
}
