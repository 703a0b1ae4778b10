// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
	"fmt"
)

// Instruction is one decoded instruction of a disassembly listing.
type Instruction struct {
	// Offset of the opcode byte inside the function's bytecode.
	Offset uint32 `json:"offset"`

	// Mnemonic of the opcode, or UNDEFINED for bytes outside the
	// instruction set.
	Mnemonic string `json:"mnemonic"`

	// Operands decoded per the opcode's encoding, in operand order.
	// Signed jump displacements appear sign-extended.
	Operands []int64 `json:"operands,omitempty"`

	// Text is the printable rendering of the instruction.
	Text string `json:"text"`

	// Line is the source line from the debug section, when available.
	Line uint32 `json:"line,omitempty"`
}

// FunctionListing is the disassembly of one function.
type FunctionListing struct {
	FunctionID    uint16        `json:"function_id"`
	MaxStackDepth uint16        `json:"max_stack_depth"`
	NumLocals     uint16        `json:"num_locals"`
	Instructions  []Instruction `json:"instructions"`
}

// Disassembly is the structured view of a whole container, suitable for
// JSON marshalling and CLI inspection.
type Disassembly struct {
	Header    FileHeader          `json:"header"`
	Variables []VariableEntry     `json:"variables,omitempty"`
	FBTypes   []FBTypeDescriptor  `json:"fb_types,omitempty"`
	Arrays    []ArrayDescriptor   `json:"arrays,omitempty"`
	TaskTable TaskTable           `json:"task_table"`
	Constants []DisasmConstant    `json:"constants,omitempty"`
	Functions []FunctionListing   `json:"functions"`
	Signature SignatureInfo       `json:"content_signature"`
}

// DisasmConstant is one rendered constant pool entry.
type DisasmConstant struct {
	Index uint16 `json:"index"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Disassemble renders the parsed container into its structured view.
func (f *File) Disassemble() (*Disassembly, error) {
	d := Disassembly{
		Header:    f.Header,
		Variables: f.Variables,
		FBTypes:   f.FBTypes,
		Arrays:    f.Arrays,
		TaskTable: f.TaskTable,
		Signature: f.ContentSignature,
	}

	for i, c := range f.Constants {
		d.Constants = append(d.Constants, DisasmConstant{
			Index: uint16(i),
			Type:  c.Type.String(),
			Value: renderConstant(c),
		})
	}

	for _, fn := range f.Functions {
		listing := FunctionListing{
			FunctionID:    fn.FunctionID,
			MaxStackDepth: fn.MaxStackDepth,
			NumLocals:     fn.NumLocals,
		}
		code := f.Bytecode(fn)
		pc := 0
		for pc < len(code) {
			ins, size := decodeInstruction(code, pc)
			if f.Debug != nil {
				if line, ok := f.Debug.LineFor(fn.FunctionID, uint16(pc)); ok {
					ins.Line = line
				}
			}
			listing.Instructions = append(listing.Instructions, ins)
			if size == 0 {
				break
			}
			pc += size
		}
		d.Functions = append(d.Functions, listing)
	}
	return &d, nil
}

func renderConstant(c Constant) string {
	switch c.Type {
	case ConstI32:
		return fmt.Sprintf("%d", c.I32())
	case ConstU32:
		return fmt.Sprintf("%d", c.U32())
	case ConstI64:
		return fmt.Sprintf("%d", c.I64())
	case ConstU64:
		return fmt.Sprintf("%d", c.U64())
	case ConstF32:
		return fmt.Sprintf("%g", c.F32())
	case ConstF64:
		return fmt.Sprintf("%g", c.F64())
	default:
		s, err := c.StringValue()
		if err != nil {
			return fmt.Sprintf("<%d bytes>", len(c.Payload))
		}
		return fmt.Sprintf("%q", s)
	}
}

// decodeInstruction decodes one instruction at pc, returning its rendered
// form and its size. An undefined opcode decodes to a single raw byte so the
// listing stays aligned with the stream; a truncated instruction consumes the
// rest of the code.
func decodeInstruction(code []byte, pc int) (Instruction, int) {
	op := Opcode(code[pc])
	ins := Instruction{Offset: uint32(pc), Mnemonic: op.String()}

	if !op.IsDefined() {
		ins.Text = fmt.Sprintf("db 0x%02x", byte(op))
		return ins, 1
	}
	info := op.Info()
	w := info.Operands.Width()
	if pc+1+w > len(code) {
		ins.Text = fmt.Sprintf("%s <truncated>", info.Mnemonic)
		return ins, len(code) - pc
	}

	switch info.Operands {
	case OperandU16:
		v := binary.LittleEndian.Uint16(code[pc+1:])
		ins.Operands = []int64{int64(v)}
		ins.Text = fmt.Sprintf("%s %d", info.Mnemonic, v)
	case OperandI16:
		v := int16(binary.LittleEndian.Uint16(code[pc+1:]))
		target := pc + 1 + w + int(v)
		ins.Operands = []int64{int64(v)}
		ins.Text = fmt.Sprintf("%s %+d ; -> 0x%x", info.Mnemonic, v, target)
	case OperandU32:
		v := binary.LittleEndian.Uint32(code[pc+1:])
		ins.Operands = []int64{int64(v)}
		ins.Text = fmt.Sprintf("%s %d", info.Mnemonic, v)
	case OperandU8U16:
		a := code[pc+1]
		b := binary.LittleEndian.Uint16(code[pc+2:])
		ins.Operands = []int64{int64(a), int64(b)}
		ins.Text = fmt.Sprintf("%s %d, %d", info.Mnemonic, a, b)
	default:
		ins.Text = info.Mnemonic
	}
	return ins, 1 + w
}
