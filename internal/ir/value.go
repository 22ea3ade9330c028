package ir

import (
	"slices"
	"unicode/utf16"
)

// IRValue is a sealed interface for node attribute values.
// Only IRString, IRInt, IRBool, IRArray and IRObject implement it.
// There is no float variant: number literals are kept as their source text
// so graph hashes never depend on float formatting.
type IRValue interface {
	irValue()
}

// IRString is a string attribute.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer attribute.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a bool attribute.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is a list of attribute values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps attribute names to values.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 orders strings by UTF-16 code units, which differs from Go's
// byte order for characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
