package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"

	"github.com/shopspring/decimal"
)

// SaleItem is one product line of a counter sale.
type SaleItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// SaleRequest is the input of BookingAccounting.Sell.
type SaleRequest struct {
	Items    []SaleItem     `json:"items"`
	Payments []PaymentSplit `json:"payments,omitempty"`
	ClientID *int64         `json:"client_id,omitempty"`
}

// SaleResult holds the movements written for a sale, one per payment.
type SaleResult struct {
	RegisterID   int64                 `json:"register_id"`
	Total        decimal.Decimal       `json:"total"`
	Description  string                `json:"description"`
	Transactions []*models.Transaction `json:"transactions"`
}

// Sell records a kiosk sale that is not tied to a reservation. Prices come
// from the catalog, stock is deducted and every payment becomes one KIOSCO
// income on the register. Without payments the total is taken in cash.
func (a *BookingAccounting) Sell(ctx context.Context, tenantID int64, req SaleRequest) (*SaleResult, error) {
	if len(req.Items) == 0 {
		return nil, validationError("at least one item is required")
	}
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return nil, validationError("product id is required")
		}
		if item.Quantity <= 0 {
			return nil, validationError("quantity must be positive")
		}
	}
	payments := make([]PaymentSplit, 0, len(req.Payments))
	for _, p := range req.Payments {
		if !p.Amount.IsPositive() {
			return nil, validationError("payment amounts must be positive")
		}
		method := normalizeMethod(p.Method)
		if method == models.MethodMixed {
			return nil, validationError("a single payment cannot use method %s", models.MethodMixed)
		}
		payments = append(payments, PaymentSplit{Method: method, Amount: p.Amount})
	}
	date, err := a.ledger.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	res := &SaleResult{}
	err = a.store.InTx(ctx, func(q domain.Queries) error {
		if req.ClientID != nil {
			if _, err := q.GetClient(ctx, tenantID, *req.ClientID); err != nil {
				return notFound(err, ErrClientNotFound)
			}
		}

		total := decimal.Zero
		parts := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			product, err := q.GetProduct(ctx, tenantID, item.ProductID)
			if err != nil {
				return notFound(err, ErrProductNotFound)
			}
			if !product.IsActive {
				return ErrProductNotFound
			}
			if err := q.AdjustStock(ctx, product.ID, -item.Quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return ErrInsufficientStock
				}
				return err
			}
			total = total.Add(product.Price.Mul(decimal.NewFromInt(item.Quantity)))
			parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, product.Name))
		}
		if !total.IsPositive() {
			return validationError("sale total must be positive")
		}

		if len(payments) == 0 {
			payments = []PaymentSplit{{Method: models.MethodCash, Amount: total}}
		}
		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Amount)
		}
		if !paid.Equal(total) {
			return validationError("payments add up to %s but the sale totals %s", paid.String(), total.String())
		}

		reg, err := registerForWrite(ctx, q, tenantID, date, a.logger)
		if err != nil {
			return err
		}
		res.RegisterID = reg.ID
		res.Total = total
		res.Description = strings.Join(parts, ", ")
		for _, p := range payments {
			tx := &models.Transaction{
				RegisterID:  reg.ID,
				TenantID:    tenantID,
				Type:        models.TxIncome,
				Category:    models.CategoryKiosk,
				Method:      p.Method,
				Amount:      p.Amount,
				Description: res.Description,
				ClientID:    req.ClientID,
			}
			if err := q.CreateTransaction(ctx, tx); err != nil {
				return err
			}
			res.Transactions = append(res.Transactions, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPayment("kiosk")
	a.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("register_id", res.RegisterID).
		Str("total", res.Total.String()).
		Int("payments", len(res.Transactions)).
		Msg("Kiosk sale recorded")
	a.fx.publishEvent(events.EventKioskSale, events.KioskSalePayload{
		TenantID:    tenantID,
		RegisterID:  res.RegisterID,
		ClientID:    req.ClientID,
		Total:       res.Total,
		Description: res.Description,
	})
	return res, nil
}
