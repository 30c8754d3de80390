package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

// DefaultCurrency is used when neither the order nor configuration names one.
const DefaultCurrency = "EUR"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimals, which is half-up for the
// non-negative amounts orders carry.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// ToMinorUnits converts an amount to cents after rounding.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return RoundMoney(amount).Mul(hundred).IntPart()
}

// FromMinorUnits converts cents back into a decimal amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyScale)
}

// SumItems totals the line items of an order.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return RoundMoney(total)
}

// NormalizeCurrency upper-cases an ISO 4217 code, falling back to DefaultCurrency.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

// FormatMoney renders an amount with its narrow currency symbol for display, e.g. "€ 19.98".
func FormatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(NormalizeCurrency(code))
	if err != nil {
		return RoundMoney(amount).StringFixed(MoneyScale) + " " + NormalizeCurrency(code)
	}
	value, _ := RoundMoney(amount).Float64()
	printer := message.NewPrinter(language.English)
	return printer.Sprint(currency.NarrowSymbol(unit.Amount(value)))
}
