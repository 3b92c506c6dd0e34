package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedToday() time.Time { return time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC) }

func mustDetect(t *testing.T, header ...string) Detection {
	t.Helper()
	det, err := Detect(header)
	require.NoError(t, err)
	return det
}

func TestParseAggregateRow(t *testing.T) {
	p := NewRowParser(mustDetect(t, "date", "revenue", "costs"), Options{Today: fixedToday})

	rec, err := p.Parse([]string{"2024-01-15", "150.00", "80.00"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", rec.Date)
	assert.Equal(t, "150", rec.Revenue.String())
	assert.Equal(t, "80", rec.Cost.String())
	assert.Empty(t, rec.Channel)
}

func TestParseOrderLineComputesAmounts(t *testing.T) {
	det := mustDetect(t, "order_date", "channel", "order_number", "quantity", "unit_selling_price", "unit_purchase_price")
	p := NewRowParser(det, Options{Today: fixedToday})

	rec, err := p.Parse([]string{"15/01/2024", "web", "A1", "3", "15", "12"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", rec.Date)
	assert.Equal(t, "45", rec.Revenue.String())
	assert.Equal(t, "36", rec.Cost.String())
	assert.Equal(t, "web", rec.Channel)
	assert.Equal(t, "A1", rec.OrderNumber)
}

func TestParseOrderLineDiscountAndCashback(t *testing.T) {
	det := mustDetect(t, "quantity", "unit_selling_price", "unit_purchase_price", "discount", "cashback")
	p := NewRowParser(det, Options{Today: fixedToday, DefaultChannel: "store"})

	rec, err := p.Parse([]string{"2", "10", "4", "5", "1.5"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "15", rec.Revenue.String())
	assert.Equal(t, "9.5", rec.Cost.String())
	assert.Equal(t, "2024-03-09", rec.Date)
	assert.Equal(t, "store", rec.Channel)
}

func TestParseOrderLineExplicitTotalsWin(t *testing.T) {
	det := mustDetect(t, "date", "quantity", "unit_selling_price", "unit_purchase_price", "total_sales", "total_cost")
	p := NewRowParser(det, Options{Today: fixedToday})

	rec, err := p.Parse([]string{"2024-01-15", "3", "15", "12", "50", "0"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "50", rec.Revenue.String())
	assert.Equal(t, "36", rec.Cost.String())
}

func TestParseRowPolicy(t *testing.T) {
	orderDet := mustDetect(t, "date", "quantity", "unit_selling_price", "unit_purchase_price")
	aggDet := mustDetect(t, "date", "revenue", "costs")

	cases := []struct {
		name   string
		det    Detection
		fields []string
		want   error
	}{
		{name: "column_count", det: aggDet, fields: []string{"2024-01-15", "1"}, want: domain.ErrColumnCountMismatch},
		{name: "zero_quantity", det: orderDet, fields: []string{"2024-01-15", "0", "15", "12"}, want: domain.ErrInvalidAmount},
		{name: "zero_price", det: orderDet, fields: []string{"2024-01-15", "1", "", "12"}, want: domain.ErrInvalidAmount},
		{name: "negative_revenue", det: aggDet, fields: []string{"2024-01-15", "-5", "1"}, want: domain.ErrInvalidAmount},
		{name: "amount_checked_before_date", det: aggDet, fields: []string{"bad", "-5", "1"}, want: domain.ErrInvalidAmount},
		{name: "bad_date", det: aggDet, fields: []string{"15 janvier", "5", "1"}, want: domain.ErrInvalidDate},
		{name: "impossible_date", det: aggDet, fields: []string{"31/02/2024", "5", "1"}, want: domain.ErrInvalidDate},
		{name: "empty_aggregate_date", det: aggDet, fields: []string{"", "5", "1"}, want: domain.ErrInvalidDate},
		{name: "all_zero", det: aggDet, fields: []string{"2024-01-15", "0", "abc"}, want: domain.ErrNoFinancialData},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRowParser(tc.det, Options{Today: fixedToday}).Parse(tc.fields, 7)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var rowErr *domain.RowError
			if !errors.As(err, &rowErr) || rowErr.Line != 7 {
				t.Fatalf("expected row error on line 7, got %#v", err)
			}
		})
	}
}

func TestParseDecimalComma(t *testing.T) {
	p := NewRowParser(mustDetect(t, "date", "revenue", "costs"), Options{DecimalComma: true, Today: fixedToday})

	rec, err := p.Parse([]string{"2024-01-15", "1.234,50", "80,25"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "1234.5", rec.Revenue.String())
	assert.Equal(t, "80.25", rec.Cost.String())
}
