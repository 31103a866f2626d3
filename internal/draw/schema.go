package draw

// ShapeKind selects how a raw slot value is validated.
type ShapeKind int

const (
	// ShapeDigits accepts ASCII digit strings whose length lies in [MinLen, MaxLen].
	ShapeDigits ShapeKind = iota
	// ShapeText accepts any printable text up to MaxLen runes (0 means unbounded).
	ShapeText
)

// Shape describes the acceptable form of a slot value.
type Shape struct {
	Kind   ShapeKind
	MinLen int
	MaxLen int
}

// Digits returns a digit shape of exactly n characters.
func Digits(n int) Shape {
	return Shape{Kind: ShapeDigits, MinLen: n, MaxLen: n}
}

// Text returns a free-text shape bounded by maxLen runes.
func Text(maxLen int) Shape {
	return Shape{Kind: ShapeText, MaxLen: maxLen}
}

// FieldSpec describes one field of a target schema.
type FieldSpec struct {
	Key       string
	Slots     int
	Shape     Shape
	Threshold int
}

// StabilityThreshold returns the number of consecutive valid reads a slot needs.
func (f FieldSpec) StabilityThreshold() int {
	if f.Threshold < 1 {
		return 1
	}
	return f.Threshold
}

// Schema is the ordered list of fields assembled for a target.
type Schema []FieldSpec

// Field looks up a field by key.
func (s Schema) Field(key string) (FieldSpec, bool) {
	for _, f := range s {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Slots returns the total number of slots across all fields.
func (s Schema) Slots() int {
	n := 0
	for _, f := range s {
		n += f.Slots
	}
	return n
}

// EmptyFields returns a field map with every slot set to Placeholder.
func (s Schema) EmptyFields() map[string][]string {
	out := make(map[string][]string, len(s))
	for _, f := range s {
		vals := make([]string, f.Slots)
		for i := range vals {
			vals[i] = Placeholder
		}
		out[f.Key] = vals
	}
	return out
}
