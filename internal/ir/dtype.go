package ir

import (
	"fmt"
	"math/bits"
	"strings"
)

// DType is the static element type of a tensor value.
type DType uint8

const (
	// Unresolved marks a value whose dtype differs across incoming paths of a join.
	Unresolved DType = iota
	Bool
	Int64
	Half
	Float
	Double
)

var dtypeNames = [...]string{
	Unresolved: "unresolved",
	Bool:       "bool",
	Int64:      "int64",
	Half:       "float16",
	Float:      "float32",
	Double:     "float64",
}

// dtypeAliases maps source spellings to dtypes.
var dtypeAliases = map[string]DType{
	"bool":    Bool,
	"long":    Int64,
	"int":     Int64,
	"int64":   Int64,
	"half":    Half,
	"float16": Half,
	"fp16":    Half,
	"float":   Float,
	"float32": Float,
	"fp32":    Float,
	"double":  Double,
	"float64": Double,
	"fp64":    Double,
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDType accepts the canonical names plus the usual short spellings
// ("half", "float", "double", "long").
func ParseDType(s string) (DType, error) {
	if d, ok := dtypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return Unresolved, fmt.Errorf("unknown dtype %q", s)
}

// IsFloating reports whether d is one of the floating widths.
func (d DType) IsFloating() bool {
	return d == Half || d == Float || d == Double
}

// Width returns the bit width of a floating dtype and 0 otherwise.
func (d DType) Width() int {
	switch d {
	case Half:
		return 16
	case Float:
		return 32
	case Double:
		return 64
	}
	return 0
}

// rank orders dtypes for ordinary kernel promotion: bool < int64 < half < float < double.
func (d DType) rank() int {
	return int(d)
}

// Wider returns the wider of a and b under ordinary promotion.
// Unresolved never wins.
func Wider(a, b DType) DType {
	if a == Unresolved {
		return b
	}
	if b == Unresolved {
		return a
	}
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// DTypeSet is a set of candidate dtypes for a value. One member means the
// value is resolved; more than one means paths disagree.
type DTypeSet uint8

// SetOf returns the set containing ds.
func SetOf(ds ...DType) DTypeSet {
	var s DTypeSet
	for _, d := range ds {
		if d != Unresolved {
			s |= 1 << d
		}
	}
	return s
}

// Has reports whether d is a member.
func (s DTypeSet) Has(d DType) bool {
	return d != Unresolved && s&(1<<d) != 0
}

// Union returns s ∪ o.
func (s DTypeSet) Union(o DTypeSet) DTypeSet {
	return s | o
}

// Len returns the number of candidates.
func (s DTypeSet) Len() int {
	return bits.OnesCount8(uint8(s))
}

// Resolved returns the single member and true, or Unresolved and false.
func (s DTypeSet) Resolved() (DType, bool) {
	if s.Len() != 1 {
		return Unresolved, false
	}
	return DType(bits.TrailingZeros8(uint8(s))), true
}

// DType collapses the set to its static dtype.
func (s DTypeSet) DType() DType {
	d, _ := s.Resolved()
	return d
}

// Members lists the candidates narrowest first.
func (s DTypeSet) Members() []DType {
	var out []DType
	for d := Bool; d <= Double; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Min returns the narrowest member, Unresolved for the empty set.
func (s DTypeSet) Min() DType {
	for d := Bool; d <= Double; d++ {
		if s.Has(d) {
			return d
		}
	}
	return Unresolved
}

// Max returns the widest member, Unresolved for the empty set.
func (s DTypeSet) Max() DType {
	for d := Double; d >= Bool; d-- {
		if s.Has(d) {
			return d
		}
	}
	return Unresolved
}

// AllFloating reports whether every member is a floating dtype.
func (s DTypeSet) AllFloating() bool {
	if s == 0 {
		return false
	}
	for _, d := range s.Members() {
		if !d.IsFloating() {
			return false
		}
	}
	return true
}

func (s DTypeSet) String() string {
	if d, ok := s.Resolved(); ok {
		return d.String()
	}
	names := make([]string, 0, s.Len())
	for _, d := range s.Members() {
		names = append(names, d.String())
	}
	return "{" + strings.Join(names, "|") + "}"
}
