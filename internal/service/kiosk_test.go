package service

import (
	"context"
	"testing"

	"courtdesk/internal/events"
	"courtdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSell(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to one cash payment and opens the register", func(t *testing.T) {
		f := newFixture(t)

		res, err := f.accounting.Sell(ctx, f.tenant.ID, SaleRequest{
			Items: []SaleItem{{ProductID: f.product.ID, Quantity: 2}},
		})
		require.NoError(t, err)
		assert.True(t, res.Total.Equal(dec("3000")))
		assert.Equal(t, "2x Agua", res.Description)
		require.Len(t, res.Transactions, 1)

		tx := res.Transactions[0]
		assert.Equal(t, models.TxIncome, tx.Type)
		assert.Equal(t, models.CategoryKiosk, tx.Category)
		assert.Equal(t, models.MethodCash, tx.Method)
		assert.Nil(t, tx.ReservationID)

		reg, err := f.db.GetOpenRegister(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, reg.ID, res.RegisterID)

		product, err := f.db.GetProduct(ctx, f.tenant.ID, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(8), product.Stock)
	})

	t.Run("one movement per split payment", func(t *testing.T) {
		f := newFixture(t)
		client := f.book(t, at("2030-06-17", "10:00")).Client

		res, err := f.accounting.Sell(ctx, f.tenant.ID, SaleRequest{
			Items: []SaleItem{{ProductID: f.product.ID, Quantity: 3}},
			Payments: []PaymentSplit{
				{Method: "cash", Amount: dec("1500")},
				{Method: "TRANSFER", Amount: dec("3000")},
			},
			ClientID: &client.ID,
		})
		require.NoError(t, err)
		require.Len(t, res.Transactions, 2)
		assert.Equal(t, models.MethodCash, res.Transactions[0].Method)
		assert.Equal(t, models.MethodTransfer, res.Transactions[1].Method)
		for _, tx := range res.Transactions {
			require.NotNil(t, tx.ClientID)
			assert.Equal(t, client.ID, *tx.ClientID)
			assert.Equal(t, "3x Agua", tx.Description)
		}

		view, err := f.ledger.Status(ctx, f.tenant.ID)
		require.NoError(t, err)
		require.NotNil(t, view.Summary)
		assert.True(t, view.Summary.CashIncome.Equal(dec("1500")), view.Summary.CashIncome.String())
		assert.True(t, view.Summary.DigitalIncome.Equal(dec("3000")), view.Summary.DigitalIncome.String())
	})

	t.Run("payments must match the total", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.accounting.Sell(ctx, f.tenant.ID, SaleRequest{
			Items:    []SaleItem{{ProductID: f.product.ID, Quantity: 1}},
			Payments: []PaymentSplit{{Method: "CASH", Amount: dec("1000")}},
		})
		assert.Equal(t, KindValidation, KindOf(err))

		product, err := f.db.GetProduct(ctx, f.tenant.ID, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), product.Stock, "stock is untouched when the sale fails")
	})

	t.Run("insufficient stock rolls back", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.accounting.Sell(ctx, f.tenant.ID, SaleRequest{
			Items: []SaleItem{{ProductID: f.product.ID, Quantity: 11}},
		})
		assert.ErrorIs(t, err, ErrInsufficientStock)

		_, err = f.db.GetOpenRegister(ctx, f.tenant.ID)
		assert.Error(t, err, "no register is opened for a failed sale")
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newFixture(t)
		missing := int64(999)

		cases := []struct {
			name string
			req  SaleRequest
			want error
		}{
			{"no items", SaleRequest{}, nil},
			{"zero quantity", SaleRequest{Items: []SaleItem{{ProductID: f.product.ID}}}, nil},
			{"mixed method", SaleRequest{
				Items:    []SaleItem{{ProductID: f.product.ID, Quantity: 1}},
				Payments: []PaymentSplit{{Method: "MIXED", Amount: dec("1500")}},
			}, nil},
			{"unknown product", SaleRequest{Items: []SaleItem{{ProductID: missing, Quantity: 1}}}, ErrProductNotFound},
			{"unknown client", SaleRequest{
				Items:    []SaleItem{{ProductID: f.product.ID, Quantity: 1}},
				ClientID: &missing,
			}, ErrClientNotFound},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := f.accounting.Sell(ctx, f.tenant.ID, tc.req)
				if tc.want != nil {
					assert.ErrorIs(t, err, tc.want)
					return
				}
				assert.Equal(t, KindValidation, KindOf(err))
			})
		}
	})

	t.Run("publishes a sale event", func(t *testing.T) {
		f := newFixture(t)
		var got []string
		f.bus.Subscribe(events.EventKioskSale, func(e *events.Event) error {
			got = append(got, string(e.Payload))
			return nil
		})

		_, err := f.accounting.Sell(ctx, f.tenant.ID, SaleRequest{
			Items: []SaleItem{{ProductID: f.product.ID, Quantity: 1}},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], `"description":"1x Agua"`)
	})
}
