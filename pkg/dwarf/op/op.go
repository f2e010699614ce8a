package op

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stackvars/stackvars/pkg/dwarf/leb128"
	"github.com/stackvars/stackvars/pkg/dwarf/util"
)

// Opcode represent a DWARF stack program instruction.
// See ./opcodes.go for a full list.
type Opcode byte

func (opcode Opcode) String() string {
	if name, ok := opcodeName[opcode]; ok {
		return name
	}
	return fmt.Sprintf("%#x", byte(opcode))
}

// Instruction is one decoded step of a location expression.
// Integer operands are stored in Args in encoding order, block operands
// (DW_OP_implicit_value, DW_OP_entry_value, DW_OP_const_type) in Block.
type Instruction struct {
	Opcode Opcode
	Args   []int64
	Block  []byte
}

func (instr Instruction) String() string {
	var buf bytes.Buffer
	buf.WriteString(instr.Opcode.String())
	for _, arg := range instr.Args {
		fmt.Fprintf(&buf, " %#x", arg)
	}
	if instr.Block != nil {
		fmt.Fprintf(&buf, " [%x]", instr.Block)
	}
	return buf.String()
}

// Parse decodes the location expression in instructions. Fixed size
// operands are read with byte order order.
// It stops at the first undecodable instruction and returns the
// instructions decoded up to that point together with the error.
func Parse(instructions []byte, ptrSize int, order binary.ByteOrder) ([]Instruction, error) {
	in := bytes.NewReader(instructions)
	var r []Instruction

	for in.Len() > 0 {
		off := len(instructions) - in.Len()
		opcodeByte, _ := in.ReadByte()
		opcode := Opcode(opcodeByte)
		if _, known := opcodeName[opcode]; !known {
			return r, fmt.Errorf("invalid instruction %#x at offset %d", opcodeByte, off)
		}
		instr := Instruction{Opcode: opcode}
		for _, arg := range opcodeArgs[opcode] {
			if err := readOperand(in, arg, ptrSize, order, &instr); err != nil {
				return r, fmt.Errorf("truncated operand of %s at offset %d: %v", opcode, off, err)
			}
		}
		r = append(r, instr)
	}

	return r, nil
}

func readOperand(in *bytes.Reader, arg rune, ptrSize int, order binary.ByteOrder, instr *Instruction) error {
	switch arg {
	case 'a':
		n, err := util.ReadUintRaw(in, order, ptrSize)
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(n))
	case '1', '2', '4', '8':
		n, err := util.ReadUintRaw(in, order, int(arg-'0'))
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(n))
	case 'b':
		var x int8
		if err := binary.Read(in, order, &x); err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(x))
	case 'h':
		var x int16
		if err := binary.Read(in, order, &x); err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(x))
	case 'w':
		var x int32
		if err := binary.Read(in, order, &x); err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(x))
	case 'q':
		var x int64
		if err := binary.Read(in, order, &x); err != nil {
			return err
		}
		instr.Args = append(instr.Args, x)
	case 'u':
		n, _, err := leb128.DecodeUnsigned(in)
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, int64(n))
	case 's':
		n, _, err := leb128.DecodeSigned(in)
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, n)
	case 'B', 'C':
		var sz uint64
		if arg == 'B' {
			n, _, err := leb128.DecodeUnsigned(in)
			if err != nil {
				return err
			}
			sz = n
		} else {
			b, err := in.ReadByte()
			if err != nil {
				return io.ErrUnexpectedEOF
			}
			sz = uint64(b)
		}
		if sz > uint64(in.Len()) {
			return io.ErrUnexpectedEOF
		}
		instr.Block = make([]byte, sz)
		in.Read(instr.Block)
	}
	return nil
}

// PrettyPrint prints the DWARF stack program instructions to `out`.
// Undecodable trailing bytes are printed in hexadecimal.
func PrettyPrint(out io.Writer, instructions []byte, ptrSize int, order binary.ByteOrder) {
	instrs, err := Parse(instructions, ptrSize, order)
	for i, instr := range instrs {
		if i > 0 {
			out.Write([]byte{' '})
		}
		io.WriteString(out, instr.String())
	}
	if err != nil {
		if len(instrs) > 0 {
			out.Write([]byte{' '})
		}
		fmt.Fprintf(out, "<%v>", err)
	}
}
