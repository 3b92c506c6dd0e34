package parser

import (
	"errors"
	"testing"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAggregate(t *testing.T) {
	det, err := Detect([]string{"Date", "Chiffre d'affaires", "Coûts", "Channel"})
	require.NoError(t, err)

	assert.Equal(t, domain.FormatAggregate, det.Format)
	assert.Equal(t, 0, det.Columns[domain.FieldDate])
	assert.Equal(t, 1, det.Columns[domain.FieldRevenue])
	assert.Equal(t, 2, det.Columns[domain.FieldCosts])
	assert.Equal(t, 3, det.Columns[domain.FieldChannel])
}

func TestDetectAggregateShortRevenueAlias(t *testing.T) {
	det, err := Detect([]string{"date", "CA", "charges", "cashback"})
	require.NoError(t, err)

	assert.Equal(t, 1, det.Columns[domain.FieldRevenue])
	assert.Equal(t, 2, det.Columns[domain.FieldCosts])
	assert.Equal(t, 3, det.Columns[domain.FieldCashback])
}

func TestDetectOrderLineFrench(t *testing.T) {
	header := []string{"Date de commande", "Chanel", "Numéro de commande", "Quantité", "Prix de vente", "Prix d'achat", "Remise", "Cagnotte"}
	det, err := Detect(header)
	require.NoError(t, err)

	assert.Equal(t, domain.FormatOrderLine, det.Format)
	assert.Equal(t, 0, det.Columns[domain.FieldDate])
	assert.Equal(t, 1, det.Columns[domain.FieldChannel])
	assert.Equal(t, 2, det.Columns[domain.FieldOrderNumber])
	assert.Equal(t, 3, det.Columns[domain.FieldQuantity])
	assert.Equal(t, 4, det.Columns[domain.FieldUnitSellingPrice])
	assert.Equal(t, 5, det.Columns[domain.FieldUnitPurchasePrice])
	assert.Equal(t, 6, det.Columns[domain.FieldDiscount])
	assert.Equal(t, 7, det.Columns[domain.FieldCashback])
}

func TestDetectOrderLineSnakeCase(t *testing.T) {
	header := []string{"channel", "order_number", "order_date", "product_ref", "quantity", "unit_selling_price", "unit_purchase_price", "discount", "reward_credit", "total_sales", "total_cost"}
	det, err := Detect(header)
	require.NoError(t, err)

	assert.Equal(t, domain.FormatOrderLine, det.Format)
	assert.Equal(t, 2, det.Columns[domain.FieldDate])
	assert.Equal(t, 1, det.Columns[domain.FieldOrderNumber])
	assert.Equal(t, 8, det.Columns[domain.FieldCashback])
	assert.Equal(t, 9, det.Columns[domain.FieldTotalSales])
	assert.Equal(t, 10, det.Columns[domain.FieldTotalCost])
}

func TestDetectOrderLineTotalsOnly(t *testing.T) {
	det, err := Detect([]string{"order_number", "total_sales", "total_cost"})
	require.NoError(t, err)
	assert.Equal(t, domain.FormatOrderLine, det.Format)
	assert.False(t, det.Columns.Has(domain.FieldDate))
}

func TestDetectMissingColumnsFailFast(t *testing.T) {
	_, err := Detect([]string{"date", "revenue"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnrecognizedSchema))

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"costs"}, schemaErr.Missing)
}

func TestDetectOrderLineMissingPricing(t *testing.T) {
	_, err := Detect([]string{"commande", "quantite", "prix de vente"})

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, domain.FormatOrderLine, schemaErr.Format)
	assert.Equal(t, []string{"unit_purchase_price"}, schemaErr.Missing)
}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"\ufeffDate":              "date",
		`"Prix d'Achat_Unitaire"`: "prix d achat unitaire",
		"Quantité":                "quantite",
		"  order-number ":         "order number",
	}
	for raw, want := range cases {
		if got := NormalizeHeader(raw); got != want {
			t.Fatalf("NormalizeHeader(%q) = %q, want %q", raw, got, want)
		}
	}
}
