package util

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadDwarfLengthVersion(t *testing.T) {
	tcs := []struct {
		data    []byte
		length  uint64
		dwarf64 bool
		version uint8
		order   binary.ByteOrder
	}{
		{[]byte{0x10, 0, 0, 0, 4, 0}, 0x10, false, 4, binary.LittleEndian},
		{[]byte{0, 0, 0, 0x10, 0, 5}, 0x10, false, 5, binary.BigEndian},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x20, 0, 0, 0, 0, 0, 0, 0, 5, 0}, 0x20, true, 5, binary.LittleEndian},
	}

	for _, tc := range tcs {
		length, dwarf64, version, order := ReadDwarfLengthVersion(tc.data)
		if length != tc.length || dwarf64 != tc.dwarf64 || version != tc.version || order != tc.order {
			t.Errorf("%x: got (%#x, %v, %d, %v) expected (%#x, %v, %d, %v)", tc.data, length, dwarf64, version, order, tc.length, tc.dwarf64, tc.version, tc.order)
		}
	}
}

func TestReadUintRaw(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	tcs := []struct {
		size  int
		order binary.ByteOrder
		n     uint64
	}{
		{1, binary.LittleEndian, 0x12},
		{2, binary.LittleEndian, 0x3412},
		{2, binary.BigEndian, 0x1234},
		{4, binary.LittleEndian, 0x78563412},
		{4, binary.BigEndian, 0x12345678},
		{8, binary.BigEndian, 0x123456789abcdef0},
	}
	for _, tc := range tcs {
		n, err := ReadUintRaw(bytes.NewReader(data), tc.order, tc.size)
		if err != nil {
			t.Fatal(err)
		}
		if n != tc.n {
			t.Errorf("size %d %v: read %#x expected %#x", tc.size, tc.order, n, tc.n)
		}
	}

	if _, err := ReadUintRaw(bytes.NewReader([]byte{1, 2}), binary.LittleEndian, 4); err == nil {
		t.Error("expected error reading truncated value")
	}
	if _, err := ReadUintRaw(bytes.NewReader(data), binary.LittleEndian, 3); err == nil {
		t.Error("expected error for unsupported size")
	}
}
