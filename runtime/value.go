// Package runtime is the support library of bindings generated for the Go
// target. Generated accessors read decoded values through the To* helpers,
// which panic when a value does not have the expected dynamic type, the
// same way a failed conversion aborts a handler in the indexing runtime.
package runtime

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Value is a decoded ABI value or a stored entity field. It holds one of
// *big.Int, decimal.Decimal, []byte, common.Address, string, bool, int32,
// int64, Tuple or []Value.
type Value = any

// Tuple is a decoded ABI tuple. Generated tuple types are defined on it.
type Tuple []Value

// ConversionError is the panic value of a failed conversion.
type ConversionError struct {
	Want string
	Got  Value
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("runtime: cannot convert %T to %s", e.Got, e.Want)
}

func convert[T any](v Value, want string) T {
	t, ok := v.(T)
	if !ok {
		panic(&ConversionError{Want: want, Got: v})
	}
	return t
}

// ToBigInt converts v to a big integer.
func ToBigInt(v Value) *big.Int { return convert[*big.Int](v, "BigInt") }

// ToBigDecimal converts v to an arbitrary precision decimal.
func ToBigDecimal(v Value) decimal.Decimal { return convert[decimal.Decimal](v, "BigDecimal") }

// ToBytes converts v to a byte slice. Addresses convert to their 20 bytes.
func ToBytes(v Value) []byte {
	if a, ok := v.(common.Address); ok {
		return a.Bytes()
	}
	return convert[[]byte](v, "Bytes")
}

// ToAddress converts v to an address.
func ToAddress(v Value) common.Address { return convert[common.Address](v, "Address") }

// ToString converts v to a string.
func ToString(v Value) string { return convert[string](v, "String") }

// ToBool converts v to a boolean.
func ToBool(v Value) bool { return convert[bool](v, "Boolean") }

// ToInt32 converts v to a 32-bit integer.
func ToInt32(v Value) int32 { return convert[int32](v, "Int32") }

// ToInt64 converts v to a 64-bit integer.
func ToInt64(v Value) int64 { return convert[int64](v, "Int64") }

// ToTuple converts v to a tuple.
func ToTuple(v Value) Tuple { return convert[Tuple](v, "Tuple") }

// MapArray converts a list value element by element.
func MapArray[T any](v Value, f func(Value) T) []T {
	list := convert[[]Value](v, "Array")
	out := make([]T, len(list))
	for i, e := range list {
		out[i] = f(e)
	}
	return out
}

// ListOf converts a typed slice to a list value.
func ListOf[T any](xs []T) []Value {
	out := make([]Value, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// IDString returns the store key of an entity id: strings as is, bytes as
// 0x-prefixed hex and integers in decimal.
func IDString(id Value) string {
	switch id := id.(type) {
	case string:
		return id
	case []byte:
		return hexutil.Encode(id)
	case int64:
		return strconv.FormatInt(id, 10)
	}
	panic(&ConversionError{Want: "ID", Got: id})
}
