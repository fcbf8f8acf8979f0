package service

import (
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// ComputeBalance folds entries into a spendable balance: credits add, debits
// subtract. The fold is commutative, so entry order never matters.
func ComputeBalance(entries []model.LedgerEntry) decimal.Decimal {
	bal := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case model.Credit:
			bal = bal.Add(e.Amount)
		case model.Debit:
			bal = bal.Sub(e.Amount)
		}
	}
	return bal
}
