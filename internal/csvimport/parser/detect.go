package parser

import (
	"strings"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

var orderLineMarkers = []string{
	"order",
	"commande",
	"quantity",
	"quantite",
	"selling price",
	"prix de vente",
	"purchase price",
	"prix d achat",
	"prix achat",
}

// Detection is the outcome of classifying a header.
type Detection struct {
	Format  domain.Format
	Columns ColumnMap
	Width   int
}

// Detect classifies a header and resolves every column the format needs.
// Any required field left unresolved fails with a *domain.SchemaError naming it.
func Detect(header []string) (Detection, error) {
	normalized := normalizeHeaders(header)

	if isOrderLine(normalized) {
		columns := resolveColumns(normalized, orderLineFieldOrder)
		if missing := orderLineMissing(columns); len(missing) > 0 {
			return Detection{}, &domain.SchemaError{Format: domain.FormatOrderLine, Missing: missing}
		}
		return Detection{Format: domain.FormatOrderLine, Columns: columns, Width: len(header)}, nil
	}

	columns := resolveColumns(normalized, aggregateFieldOrder)
	if missing := missingFields(columns, domain.FieldDate, domain.FieldRevenue, domain.FieldCosts); len(missing) > 0 {
		return Detection{}, &domain.SchemaError{Missing: missing}
	}
	return Detection{Format: domain.FormatAggregate, Columns: columns, Width: len(header)}, nil
}

func isOrderLine(normalized []string) bool {
	for _, header := range normalized {
		for _, marker := range orderLineMarkers {
			if strings.Contains(header, marker) {
				return true
			}
		}
	}
	return false
}

// orderLineMissing accepts either unit pricing or explicit totals. When neither set
// is complete it names the gaps of the set the header came closest to.
func orderLineMissing(columns ColumnMap) []string {
	unit := missingFields(columns, domain.FieldQuantity, domain.FieldUnitSellingPrice, domain.FieldUnitPurchasePrice)
	if len(unit) == 0 {
		return nil
	}
	totals := missingFields(columns, domain.FieldTotalSales, domain.FieldTotalCost)
	if len(totals) == 0 {
		return nil
	}
	if len(totals) < 2 && len(totals) < len(unit) {
		return totals
	}
	return unit
}
