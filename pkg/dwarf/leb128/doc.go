// Package leb128 provides encoders and decoders for The Little Endian Base 128 format.
// The Little Endian Base 128 format is defined in the DWARF v4 standard,
// section 7.6, page 161 and following.
// Decoders never panic on truncated input, location lists and expressions
// read from a damaged binary must surface as errors.
package leb128
