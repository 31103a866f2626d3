package draw

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sentinels are values the source renders while a slot is still animating.
var sentinels = map[string]struct{}{
	Placeholder: {},
	"…":         {},
	"****":      {},
	"-":         {},
	"--":        {},
	"?":         {},
}

// Validate reports whether raw is an acceptable final value for a slot of spec.
func Validate(spec FieldSpec, raw string) bool {
	v := strings.TrimSpace(raw)
	if v == "" {
		return false
	}
	if _, ok := sentinels[v]; ok {
		return false
	}
	switch spec.Shape.Kind {
	case ShapeDigits:
		return validDigits(v, spec.Shape)
	case ShapeText:
		return validText(v, spec.Shape)
	default:
		return false
	}
}

func validDigits(v string, shape Shape) bool {
	if shape.MinLen > 0 && len(v) < shape.MinLen {
		return false
	}
	if shape.MaxLen > 0 && len(v) > shape.MaxLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

func validText(v string, shape Shape) bool {
	if !utf8.ValidString(v) {
		return false
	}
	if shape.MaxLen > 0 && utf8.RuneCountInString(v) > shape.MaxLen {
		return false
	}
	// Values made only of dots or asterisks are still animating.
	if strings.Trim(v, ".*…") == "" {
		return false
	}
	for _, r := range v {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
