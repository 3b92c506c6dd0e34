package parser

import (
	"sort"
	"strings"
	"unicode"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ColumnMap resolves logical fields to header positions.
type ColumnMap map[domain.Field]int

// Has reports whether a field resolved to a column.
func (m ColumnMap) Has(field domain.Field) bool {
	_, ok := m[field]
	return ok
}

// Value returns the cleaned cell for field, or "" when the field is absent.
func (m ColumnMap) Value(fields []string, field domain.Field) (string, bool) {
	idx, ok := m[field]
	if !ok || idx >= len(fields) {
		return "", false
	}
	return cleanCell(fields[idx]), true
}

type alias struct {
	phrase string
	word   bool
}

func contains(phrase string) alias { return alias{phrase: phrase} }

// word matches only a whole word of the header, so "ca" never matches "cashback".
func word(phrase string) alias { return alias{phrase: phrase, word: true} }

var fieldAliases = map[domain.Field][]alias{
	domain.FieldDate:              {contains("date"), word("jour"), word("day")},
	domain.FieldChannel:           {contains("channel"), contains("chanel"), contains("canal"), word("source"), contains("platform"), contains("plateforme"), contains("marketplace")},
	domain.FieldOrderNumber:       {contains("order number"), contains("order id"), contains("order no"), contains("numero de commande"), contains("commande"), contains("order")},
	domain.FieldRevenue:           {contains("revenue"), contains("chiffre"), word("ca"), word("sales"), word("ventes")},
	domain.FieldCosts:             {contains("cost"), contains("cout"), contains("charge")},
	domain.FieldQuantity:          {contains("quantity"), contains("quantite"), word("qty"), word("qte")},
	domain.FieldUnitSellingPrice:  {contains("selling price"), contains("prix de vente"), contains("sale price"), contains("unit price")},
	domain.FieldUnitPurchasePrice: {contains("purchase price"), contains("prix d achat"), contains("prix achat"), contains("cost price")},
	domain.FieldDiscount:          {contains("discount"), contains("remise"), contains("reduction")},
	domain.FieldCashback:          {contains("cashback"), contains("cash back"), contains("cagnotte"), contains("loyalty"), contains("reward credit")},
	domain.FieldTotalSales:        {contains("total sales"), contains("total ventes"), contains("total vente"), contains("montant total"), word("total")},
	domain.FieldTotalCost:         {contains("total cost"), contains("cout total"), contains("total cout"), contains("couts totaux")},
}

// Resolution order matters: a column is assigned to the first field that claims it.
var (
	aggregateFieldOrder = []domain.Field{
		domain.FieldDate,
		domain.FieldRevenue,
		domain.FieldCosts,
		domain.FieldDiscount,
		domain.FieldCashback,
		domain.FieldChannel,
		domain.FieldOrderNumber,
	}
	orderLineFieldOrder = []domain.Field{
		domain.FieldDate,
		domain.FieldTotalCost,
		domain.FieldTotalSales,
		domain.FieldUnitPurchasePrice,
		domain.FieldUnitSellingPrice,
		domain.FieldQuantity,
		domain.FieldDiscount,
		domain.FieldCashback,
		domain.FieldChannel,
		domain.FieldOrderNumber,
	}
)

func resolveColumns(normalized []string, order []domain.Field) ColumnMap {
	columns := ColumnMap{}
	taken := make([]bool, len(normalized))
	for _, field := range order {
		for _, a := range fieldAliases[field] {
			idx := findColumn(normalized, taken, a)
			if idx < 0 {
				continue
			}
			columns[field] = idx
			taken[idx] = true
			break
		}
	}
	return columns
}

func findColumn(normalized []string, taken []bool, a alias) int {
	for i, header := range normalized {
		if taken[i] || header == "" {
			continue
		}
		if matches(header, a) {
			return i
		}
	}
	return -1
}

func matches(header string, a alias) bool {
	if !a.word {
		return strings.Contains(header, a.phrase)
	}
	padded := " " + header + " "
	return strings.Contains(padded, " "+a.phrase+" ")
}

func missingFields(columns ColumnMap, required ...domain.Field) []string {
	missing := make([]string, 0, len(required))
	for _, field := range required {
		if !columns.Has(field) {
			missing = append(missing, string(field))
		}
	}
	sort.Strings(missing)
	return missing
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeHeader lower-cases a header cell, folds accents and reduces
// separators to single spaces: "Prix d'Achat_Unitaire" becomes "prix d achat unitaire".
func NormalizeHeader(raw string) string {
	s := strings.TrimPrefix(raw, "\ufeff")
	s = strings.ToLower(cleanCell(s))
	if folded, _, err := transform.String(foldAccents, s); err == nil {
		s = folded
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func normalizeHeaders(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = NormalizeHeader(h)
	}
	return out
}
