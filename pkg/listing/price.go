package listing

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatPrice renders amount as a localized currency string such as
// "£12.50". A zero fractional part is dropped, so 12.00 GBP renders as "£12".
// Unknown locales fall back to English; unknown currencies are an error.
func FormatPrice(amount float64, currencyCode, locale string) (string, error) {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return "", fmt.Errorf("parse currency %q: %w", currencyCode, err)
	}

	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)

	scale, _ := currency.Standard.Rounding(unit)
	amountText := p.Sprint(number.Decimal(amount, number.Scale(scale)))
	amountText = trimZeroFraction(amountText, decimalSeparator(p))

	return p.Sprint(currency.Symbol(unit)) + amountText, nil
}

// decimalSeparator reports the separator p uses between integer and fraction.
func decimalSeparator(p *message.Printer) string {
	s := []rune(p.Sprint(number.Decimal(1.5, number.Scale(1))))
	if len(s) != 3 {
		return "."
	}
	return string(s[1])
}

// trimZeroFraction turns "12.00" into "12" and leaves "12.50" alone.
func trimZeroFraction(s, sep string) string {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s
	}
	if strings.Trim(s[i+len(sep):], "0") != "" {
		return s
	}
	return s[:i]
}
