package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

// Options tunes row parsing.
type Options struct {
	DecimalComma   bool
	DefaultChannel string
	// Today supplies the date for order lines that carry none.
	Today func() time.Time
}

// RowParser turns split records into LineRecords for one detected format.
type RowParser struct {
	detection Detection
	opts      Options
}

func NewRowParser(detection Detection, opts Options) *RowParser {
	if strings.TrimSpace(opts.DefaultChannel) == "" {
		opts.DefaultChannel = "unspecified"
	}
	if opts.Today == nil {
		opts.Today = func() time.Time { return time.Now().UTC() }
	}
	return &RowParser{detection: detection, opts: opts}
}

// Parse applies the row policy in order: column count, amounts, date, then the
// all-zero skip. The returned error is always a *domain.RowError.
func (p *RowParser) Parse(fields []string, line int) (domain.LineRecord, error) {
	if len(fields) != p.detection.Width {
		return domain.LineRecord{}, &domain.RowError{
			Line:   line,
			Reason: domain.ErrColumnCountMismatch,
			Detail: fmt.Sprintf("got %d columns, header has %d", len(fields), p.detection.Width),
		}
	}

	rec := domain.LineRecord{Line: line}
	var err error
	switch p.detection.Format {
	case domain.FormatOrderLine:
		err = p.orderLineAmounts(fields, &rec)
	default:
		err = p.aggregateAmounts(fields, &rec)
	}
	if err != nil {
		return domain.LineRecord{}, &domain.RowError{Line: line, Reason: domain.ErrInvalidAmount, Detail: err.Error()}
	}

	date, err := p.date(fields)
	if err != nil {
		return domain.LineRecord{}, &domain.RowError{Line: line, Reason: domain.ErrInvalidDate, Detail: err.Error()}
	}
	rec.Date = date

	if rec.Revenue.IsZero() && rec.Cost.IsZero() && rec.Discount.IsZero() && rec.Cashback.IsZero() {
		return domain.LineRecord{}, &domain.RowError{Line: line, Reason: domain.ErrNoFinancialData}
	}

	columns := p.detection.Columns
	channel, _ := columns.Value(fields, domain.FieldChannel)
	if channel == "" && p.detection.Format == domain.FormatOrderLine {
		channel = p.opts.DefaultChannel
	}
	rec.Channel = channel
	rec.OrderNumber, _ = columns.Value(fields, domain.FieldOrderNumber)
	return rec, nil
}

func (p *RowParser) amount(fields []string, field domain.Field) (decimal.Decimal, bool) {
	raw, ok := p.detection.Columns.Value(fields, field)
	if !ok {
		return decimal.Zero, false
	}
	return ParseAmount(raw, p.opts.DecimalComma), true
}

func (p *RowParser) aggregateAmounts(fields []string, rec *domain.LineRecord) error {
	revenue, _ := p.amount(fields, domain.FieldRevenue)
	costs, _ := p.amount(fields, domain.FieldCosts)
	discount, _ := p.amount(fields, domain.FieldDiscount)
	cashback, _ := p.amount(fields, domain.FieldCashback)

	if err := nonNegative(map[domain.Field]decimal.Decimal{
		domain.FieldRevenue:  revenue,
		domain.FieldCosts:    costs,
		domain.FieldDiscount: discount,
		domain.FieldCashback: cashback,
	}); err != nil {
		return err
	}

	rec.Revenue = revenue
	rec.Cost = costs
	rec.Discount = discount
	rec.Cashback = cashback
	return nil
}

func (p *RowParser) orderLineAmounts(fields []string, rec *domain.LineRecord) error {
	quantity, hasQuantity := p.amount(fields, domain.FieldQuantity)
	selling, hasSelling := p.amount(fields, domain.FieldUnitSellingPrice)
	purchase, hasPurchase := p.amount(fields, domain.FieldUnitPurchasePrice)

	for _, gate := range []struct {
		field   domain.Field
		value   decimal.Decimal
		present bool
	}{
		{domain.FieldQuantity, quantity, hasQuantity},
		{domain.FieldUnitSellingPrice, selling, hasSelling},
		{domain.FieldUnitPurchasePrice, purchase, hasPurchase},
	} {
		if gate.present && !gate.value.IsPositive() {
			return fmt.Errorf("%s must be greater than zero", gate.field)
		}
	}

	discount, _ := p.amount(fields, domain.FieldDiscount)
	cashback, _ := p.amount(fields, domain.FieldCashback)
	totalSales, _ := p.amount(fields, domain.FieldTotalSales)
	totalCost, _ := p.amount(fields, domain.FieldTotalCost)

	if err := nonNegative(map[domain.Field]decimal.Decimal{
		domain.FieldDiscount:   discount,
		domain.FieldCashback:   cashback,
		domain.FieldTotalSales: totalSales,
		domain.FieldTotalCost:  totalCost,
	}); err != nil {
		return err
	}

	revenue := quantity.Mul(selling).Sub(discount)
	if !totalSales.IsZero() {
		revenue = totalSales
	}
	cost := quantity.Mul(purchase).Add(cashback)
	if !totalCost.IsZero() {
		cost = totalCost
	}
	if revenue.IsNegative() {
		return fmt.Errorf("discount exceeds line revenue")
	}

	rec.Revenue = revenue
	rec.Cost = cost
	rec.Discount = discount
	rec.Cashback = cashback
	return nil
}

func nonNegative(values map[domain.Field]decimal.Decimal) error {
	for _, field := range []domain.Field{
		domain.FieldRevenue,
		domain.FieldCosts,
		domain.FieldDiscount,
		domain.FieldCashback,
		domain.FieldTotalSales,
		domain.FieldTotalCost,
	} {
		if v, ok := values[field]; ok && v.IsNegative() {
			return fmt.Errorf("%s must not be negative", field)
		}
	}
	return nil
}

func (p *RowParser) date(fields []string) (string, error) {
	raw, _ := p.detection.Columns.Value(fields, domain.FieldDate)
	if raw == "" && p.detection.Format == domain.FormatOrderLine {
		return p.opts.Today().Format(isoDate), nil
	}
	date, err := ParseDate(raw)
	if err != nil {
		return "", fmt.Errorf("unreadable date %q", raw)
	}
	return date, nil
}
