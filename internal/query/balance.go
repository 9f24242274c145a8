package query

import (
	"context"
	"strings"

	"VaultLedger/internal/ledger"
)

// AccountBalance is a journal-derived account balance.
type AccountBalance struct {
	AccountPath  string `json:"account_path"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"` // signed, human-readable
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetAccountBalances sums journal lines per account whose path starts with
// prefix ("system:", "owner:0xabc..."). Debits increase a balance, credits
// decrease it.
func (qs *QueryService) GetAccountBalances(ctx context.Context, prefix string) ([]AccountBalance, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, asset_id, SUM(delta)::text FROM (
			SELECT debit_account AS account, asset_id, amount AS delta FROM event_log.journal
			WHERE debit_account LIKE $1
			UNION ALL
			SELECT credit_account, asset_id, -amount FROM event_log.journal
			WHERE credit_account LIKE $1
		) lines
		GROUP BY account, asset_id
		ORDER BY account, asset_id
	`, strings.ToLower(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var (
			b       AccountBalance
			assetID uint16
			raw     string
		)
		if err := rows.Scan(&b.AccountPath, &assetID, &raw); err != nil {
			return nil, err
		}
		b.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		b.Balance = formatNumeric(raw, decimalsOf(ledger.AssetID(assetID)))
		b.AsOfSequence = asOfSeq
		out = append(out, b)
	}
	return out, rows.Err()
}
