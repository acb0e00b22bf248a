package service

import (
	"courtdesk/internal/models"

	"github.com/shopspring/decimal"
)

// playerTolerance absorbs rounding of per-participant splits.
var playerTolerance = decimal.NewFromInt(1)

// DerivePaymentStatus maps collected vs owed onto a payment status.
// paid within tolerance of total counts as fully paid.
func DerivePaymentStatus(paid, total, tolerance decimal.Decimal) string {
	switch {
	case !paid.IsPositive():
		return models.PaymentUnpaid
	case paid.Add(tolerance).GreaterThanOrEqual(total):
		return models.PaymentPaid
	default:
		return models.PaymentPartial
	}
}

// netPaid sums signed movements linked to a reservation.
func netPaid(txs []*models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Signed())
	}
	return total
}

// totalCost is the reservation price plus its line items.
func totalCost(r *models.Reservation, items []*models.LineItem) decimal.Decimal {
	total := r.Price
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// refundMethod returns the single method used for income, else CASH.
func refundMethod(txs []*models.Transaction) string {
	method := ""
	for _, tx := range txs {
		if tx.Type != models.TxIncome {
			continue
		}
		if method == "" {
			method = tx.Method
			continue
		}
		if method != tx.Method {
			return models.MethodCash
		}
	}
	if method == "" {
		return models.MethodCash
	}
	return method
}
