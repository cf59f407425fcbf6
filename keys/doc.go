// Package keys implements order-preserving byte encodings for indexed values.
//
// Every index codec in this module compares values as unsigned lexicographic
// byte strings. The encodings here guarantee that this byte order equals the
// natural order of the typed value, so a single comparison routine serves
// integers, floats and raw byte terms alike.
//
// Scalar encodings are fixed width, which the numeric tree codec relies on
// when packing leaf values.
package keys
