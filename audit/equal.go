package audit

import (
	"math"
	"reflect"
)

// shallowEqual compares two attribute values without descending into composites.
// Numbers compare by value across Go numeric kinds and NaN never equals anything.
// Maps, slices, pointers, channels and funcs compare by identity, so two
// structurally equal but distinct composites count as different.
func shallowEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)

	if isNumber(va.Kind()) && isNumber(vb.Kind()) {
		return numbersEqual(va, vb)
	}

	if va.Kind() != vb.Kind() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Type() == vb.Type() && va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}

	if va.Type() != vb.Type() || !va.Type().Comparable() {
		return false
	}
	// Comparable structs and arrays may still hold interfaces with
	// incomparable dynamic values.
	defer func() { _ = recover() }()
	return a == b
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func numbersEqual(a, b reflect.Value) bool {
	switch {
	case isInt(a.Kind()) && isInt(b.Kind()):
		return a.Int() == b.Int()
	case isUint(a.Kind()) && isUint(b.Kind()):
		return a.Uint() == b.Uint()
	case isInt(a.Kind()) && isUint(b.Kind()):
		return a.Int() >= 0 && uint64(a.Int()) == b.Uint()
	case isUint(a.Kind()) && isInt(b.Kind()):
		return b.Int() >= 0 && uint64(b.Int()) == a.Uint()
	}
	fa, fb := toFloat(a), toFloat(b)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return false
	}
	return fa == fb
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v.Kind()):
		return float64(v.Int())
	case isUint(v.Kind()):
		return float64(v.Uint())
	}
	return v.Float()
}
