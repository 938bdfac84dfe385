// Package codec defines the compressed payload wire format and the
// encoders and decoder for its four methods.
//
// Every payload starts with a tag byte: the low seven bits are the
// Method, the high bit marks fallback payloads. Integers are unsigned
// LEB128 varints and variable-length fields are length-prefixed, so a
// payload is self-delimiting and a strict decoder can reject trailing
// bytes. RawFallback never references templates and is the floor the
// selector falls back to, which makes decode failure on a well-formed
// raw payload impossible regardless of template store state.
package codec
