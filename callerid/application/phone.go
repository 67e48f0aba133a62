package application

import (
	"fmt"
	"strings"

	"callerid-gateway/callerid/domain"
)

const (
	minNumberDigits = 10
	maxNumberDigits = 15
)

// NormalizeDigits remove tudo que não for dígito.
func NormalizeDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AreaCodeOf deriva o código de área NANP: 10 dígitos -> 3 primeiros;
// 11 dígitos começando com 1 -> dígitos 2..4. Demais formatos não têm área.
func AreaCodeOf(digits string) string {
	switch {
	case len(digits) == 10:
		return digits[:3]
	case len(digits) == 11 && digits[0] == '1':
		return digits[1:4]
	default:
		return ""
	}
}

// ParseDestination normaliza o destino e devolve dígitos + código de área.
func ParseDestination(raw string) (digits, areaCode string, err error) {
	digits = NormalizeDigits(raw)
	if len(digits) < minNumberDigits || len(digits) > maxNumberDigits {
		return "", "", fmt.Errorf("%w: %q has %d digits", domain.ErrInvalidDestination, raw, len(digits))
	}
	return digits, AreaCodeOf(digits), nil
}
