// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

// Opcode is one instruction byte of the bytecode stream. Every opcode has a
// fixed operand encoding, so instruction boundaries can be computed by a
// single linear scan.
type Opcode byte

// Debug family.
const (
	OpNop        Opcode = 0x00
	OpBreakpoint Opcode = 0x01
	OpLine       Opcode = 0x02 // u32 source line
)

// Constant loads. Operand is a u16 constant pool index unless noted.
const (
	OpLoadConstI32  Opcode = 0x10
	OpLoadConstU32  Opcode = 0x11
	OpLoadConstI64  Opcode = 0x12
	OpLoadConstU64  Opcode = 0x13
	OpLoadConstF32  Opcode = 0x14
	OpLoadConstF64  Opcode = 0x15
	OpLoadConstStr  Opcode = 0x16
	OpLoadConstWStr Opcode = 0x17
	OpLoadTrue      Opcode = 0x18 // no operand, pushes I32 1
	OpLoadFalse     Opcode = 0x19 // no operand, pushes I32 0
)

// Typed variable access. Operand is a u16 variable table index.
const (
	OpLoadVarI32  Opcode = 0x20
	OpLoadVarU32  Opcode = 0x21
	OpLoadVarI64  Opcode = 0x22
	OpLoadVarU64  Opcode = 0x23
	OpLoadVarF32  Opcode = 0x24
	OpLoadVarF64  Opcode = 0x25
	OpStoreVarI32 Opcode = 0x26
	OpStoreVarU32 Opcode = 0x27
	OpStoreVarI64 Opcode = 0x28
	OpStoreVarU64 Opcode = 0x29
	OpStoreVarF32 Opcode = 0x2A
	OpStoreVarF64 Opcode = 0x2B

	// String variable access pushes or consumes a buffer index; stores
	// copy the buffer contents into the variable's own buffer, truncating
	// to its declared length.
	OpLoadVarStr   Opcode = 0x2C
	OpStoreVarStr  Opcode = 0x2D
	OpLoadVarWStr  Opcode = 0x2E
	OpStoreVarWStr Opcode = 0x2F
)

// Process image access. Operands are a u8 region byte and a u16 byte
// offset into the task's image window.
const (
	OpLoadInput   Opcode = 0x30
	OpStoreOutput Opcode = 0x31
	OpLoadMemory  Opcode = 0x32
	OpStoreMemory Opcode = 0x33
)

// Process image region bytes.
const (
	RegionBit   = 0
	RegionByte  = 1
	RegionWord  = 2
	RegionDword = 3
	RegionLword = 4
)

// Array and structured access. Operands are a u8 element/field type byte
// and a u16 index (variable index for arrays, field index for fields).
const (
	OpLoadArray  Opcode = 0x34
	OpStoreArray Opcode = 0x35
	OpLoadField  Opcode = 0x36
	OpStoreField Opcode = 0x37
)

// Function block protocol.
const (
	OpFBLoadInstance Opcode = 0x38 // u16 variable index, pushes fb_ref
	OpFBStoreParam   Opcode = 0x39 // u8 type, u16 field; pops value, keeps fb_ref
	OpFBLoadParam    Opcode = 0x3A // u8 type, u16 field; pops fb_ref, pushes field
	OpFBCall         Opcode = 0x3B // u16 fb type id; pops fb_ref
)

// Stack manipulation.
const (
	OpPop  Opcode = 0x3C
	OpDup  Opcode = 0x3D
	OpSwap Opcode = 0x3E
)

// 32-bit integer arithmetic. Unsigned variants always wrap; signed
// add/sub/mul/neg honor the configured overflow policy. Integer division
// by zero traps in every variant.
const (
	OpAddI32 Opcode = 0x40
	OpAddU32 Opcode = 0x41
	OpSubI32 Opcode = 0x42
	OpSubU32 Opcode = 0x43
	OpMulI32 Opcode = 0x44
	OpMulU32 Opcode = 0x45
	OpDivI32 Opcode = 0x46
	OpDivU32 Opcode = 0x47
	OpModI32 Opcode = 0x48
	OpModU32 Opcode = 0x49
	OpNegI32 Opcode = 0x4A
)

// 64-bit integer arithmetic.
const (
	OpAddI64 Opcode = 0x4B
	OpAddU64 Opcode = 0x4C
	OpSubI64 Opcode = 0x4D
	OpSubU64 Opcode = 0x4E
	OpMulI64 Opcode = 0x4F
	OpMulU64 Opcode = 0x50
	OpDivI64 Opcode = 0x51
	OpDivU64 Opcode = 0x52
	OpModI64 Opcode = 0x53
	OpModU64 Opcode = 0x54
	OpNegI64 Opcode = 0x55
)

// Float arithmetic. Division by zero follows IEEE 754.
const (
	OpAddF32 Opcode = 0x56
	OpSubF32 Opcode = 0x57
	OpMulF32 Opcode = 0x58
	OpDivF32 Opcode = 0x59
	OpNegF32 Opcode = 0x5A
	OpAddF64 Opcode = 0x5B
	OpSubF64 Opcode = 0x5C
	OpMulF64 Opcode = 0x5D
	OpDivF64 Opcode = 0x5E
	OpNegF64 Opcode = 0x5F
)

// Boolean logic over I32 truth values.
const (
	OpAndBool Opcode = 0x60
	OpOrBool  Opcode = 0x61
	OpXorBool Opcode = 0x62
	OpNotBool Opcode = 0x63
)

// Bitwise operations. Shift amounts are masked to the bit width.
const (
	OpAndI32 Opcode = 0x64
	OpOrI32  Opcode = 0x65
	OpXorI32 Opcode = 0x66
	OpNotI32 Opcode = 0x67
	OpShlI32 Opcode = 0x68
	OpShrI32 Opcode = 0x69 // logical
	OpSarI32 Opcode = 0x6A // arithmetic
	OpRorI32 Opcode = 0x6B
	OpAndI64 Opcode = 0x6C
	OpOrI64  Opcode = 0x6D
	OpXorI64 Opcode = 0x6E
	OpNotI64 Opcode = 0x6F
	OpShlI64 Opcode = 0x70
	OpShrI64 Opcode = 0x71
	OpSarI64 Opcode = 0x72
	OpRorI64 Opcode = 0x73
)

// Typed comparisons push I32 0 or 1. NaN compares false under every
// ordered predicate and unequal to itself.
const (
	OpEqI32 Opcode = 0x80
	OpNeI32 Opcode = 0x81
	OpLtI32 Opcode = 0x82
	OpLeI32 Opcode = 0x83
	OpGtI32 Opcode = 0x84
	OpGeI32 Opcode = 0x85
	OpEqU32 Opcode = 0x86
	OpNeU32 Opcode = 0x87
	OpLtU32 Opcode = 0x88
	OpLeU32 Opcode = 0x89
	OpGtU32 Opcode = 0x8A
	OpGeU32 Opcode = 0x8B
	OpEqF32 Opcode = 0x8C
	OpNeF32 Opcode = 0x8D
	OpLtF32 Opcode = 0x8E
	OpLeF32 Opcode = 0x8F
	OpGtF32 Opcode = 0x90
	OpGeF32 Opcode = 0x91
	OpEqI64 Opcode = 0x92
	OpNeI64 Opcode = 0x93
	OpLtI64 Opcode = 0x94
	OpLeI64 Opcode = 0x95
	OpGtI64 Opcode = 0x96
	OpGeI64 Opcode = 0x97
	OpEqU64 Opcode = 0x98
	OpNeU64 Opcode = 0x99
	OpLtU64 Opcode = 0x9A
	OpLeU64 Opcode = 0x9B
	OpGtU64 Opcode = 0x9C
	OpGeU64 Opcode = 0x9D
	OpEqF64 Opcode = 0x9E
	OpNeF64 Opcode = 0x9F
	OpLtF64 Opcode = 0xA0
	OpLeF64 Opcode = 0xA1
	OpGtF64 Opcode = 0xA2
	OpGeF64 Opcode = 0xA3
)

// Type conversions. Narrowing conversions honor the overflow policy.
const (
	OpI32ToI64  Opcode = 0xB0
	OpU32ToU64  Opcode = 0xB1
	OpI64ToI32  Opcode = 0xB2 // narrowing
	OpU64ToU32  Opcode = 0xB3 // narrowing
	OpF32ToF64  Opcode = 0xB4
	OpF64ToF32  Opcode = 0xB5
	OpI32ToF32  Opcode = 0xB6
	OpI32ToF64  Opcode = 0xB7
	OpI64ToF64  Opcode = 0xB8
	OpF32ToI32  Opcode = 0xB9 // narrowing
	OpF64ToI32  Opcode = 0xBA // narrowing
	OpF64ToI64  Opcode = 0xBB // narrowing
	OpU32ToF64  Opcode = 0xBC
	OpF64ToU32  Opcode = 0xBD // narrowing
	OpI64ToTime Opcode = 0xBE
	OpTimeToI64 Opcode = 0xBF
)

// TIME arithmetic operates only on TIME-typed I64 operands.
const (
	OpTimeAdd Opcode = 0xC0
	OpTimeSub Opcode = 0xC1
)

// Control flow. Jump operands are i16 byte offsets relative to the next
// instruction.
const (
	OpJmp      Opcode = 0xC8
	OpJmpIf    Opcode = 0xC9
	OpJmpIfNot Opcode = 0xCA
	OpCall     Opcode = 0xCB // u16 function id
	OpRet      Opcode = 0xCC
	OpRetVoid  Opcode = 0xCD
)

// OpBuiltin dispatches a standard library function by u16 id. See the
// Builtin* ranges.
const OpBuiltin Opcode = 0xD0

// Builtin function id ranges.
const (
	BuiltinStringBase  = 0x0100
	BuiltinWStringBase = 0x0200
	BuiltinNumericBase = 0x0300
)

// StackTag is the abstract type of one operand stack slot. The verifier
// works over these; the VM carries the same tags in its runtime slots.
type StackTag uint8

// Stack slot types. TagTime is the verifier's I64 subtype that polices
// TIME_ADD/TIME_SUB operands; at runtime a TIME value is an ordinary I64
// count of microseconds.
const (
	TagNone StackTag = iota
	TagI32
	TagU32
	TagI64
	TagU64
	TagF32
	TagF64
	TagStrBuf
	TagWStrBuf
	TagFBRef
	TagTime
)

// String stringifies the stack tag.
func (t StackTag) String() string {
	tagNameMap := map[StackTag]string{
		TagNone:    "none",
		TagI32:     "i32",
		TagU32:     "u32",
		TagI64:     "i64",
		TagU64:     "u64",
		TagF32:     "f32",
		TagF64:     "f64",
		TagStrBuf:  "buf_idx_str",
		TagWStrBuf: "buf_idx_wstr",
		TagFBRef:   "fb_ref",
		TagTime:    "time",
	}
	return tagNameMap[t]
}

// tagOf maps a declared value type onto the stack tag an access to it
// produces or consumes.
func tagOf(t ValueType) StackTag {
	switch t {
	case TypeI32:
		return TagI32
	case TypeU32:
		return TagU32
	case TypeI64:
		return TagI64
	case TypeU64:
		return TagU64
	case TypeF32:
		return TagF32
	case TypeF64:
		return TagF64
	case TypeString:
		return TagStrBuf
	case TypeWString:
		return TagWStrBuf
	case TypeFBInstance:
		return TagFBRef
	case TypeTime:
		return TagTime
	default:
		return TagNone
	}
}

// OperandKind describes an opcode's operand encoding.
type OperandKind uint8

// Operand encodings.
const (
	OperandNone  OperandKind = iota
	OperandU16               // 2 bytes
	OperandI16               // 2 bytes, signed jump displacement
	OperandU32               // 4 bytes
	OperandU8U16             // 3 bytes: type/region byte + index
)

// Width returns the operand width in bytes.
func (k OperandKind) Width() int {
	switch k {
	case OperandU16, OperandI16:
		return 2
	case OperandU32:
		return 4
	case OperandU8U16:
		return 3
	default:
		return 0
	}
}

// OpcodeInfo is the static description of one opcode: its mnemonic, its
// operand encoding, and its declared stack effect. Opcodes whose effect
// depends on operands or signatures (variable, array, field, FB, call,
// builtin and process image access) leave Pop/Push nil; the verifier
// computes their effect from the container metadata.
type OpcodeInfo struct {
	Mnemonic string
	Operands OperandKind
	Pop      []StackTag
	Push     []StackTag
}

func fixed(name string, k OperandKind, pop, push []StackTag) OpcodeInfo {
	return OpcodeInfo{Mnemonic: name, Operands: k, Pop: pop, Push: push}
}

func poly(name string, k OperandKind) OpcodeInfo {
	return OpcodeInfo{Mnemonic: name, Operands: k}
}

func binop(name string, t StackTag) OpcodeInfo {
	return fixed(name, OperandNone, []StackTag{t, t}, []StackTag{t})
}

func unop(name string, t StackTag) OpcodeInfo {
	return fixed(name, OperandNone, []StackTag{t}, []StackTag{t})
}

func cmp(name string, t StackTag) OpcodeInfo {
	return fixed(name, OperandNone, []StackTag{t, t}, []StackTag{TagI32})
}

func conv(name string, from, to StackTag) OpcodeInfo {
	return fixed(name, OperandNone, []StackTag{from}, []StackTag{to})
}

func loadConst(name string, t StackTag) OpcodeInfo {
	// The constant index is still checked against the pool and its
	// declared type tag; only the pushed tag is fixed.
	return fixed(name, OperandU16, nil, []StackTag{t})
}

// Opcodes is the instruction set table, indexed by opcode byte. A zero
// entry (empty mnemonic) marks an undefined opcode.
var Opcodes = [256]OpcodeInfo{
	OpNop:        fixed("NOP", OperandNone, nil, nil),
	OpBreakpoint: fixed("BREAKPOINT", OperandNone, nil, nil),
	OpLine:       fixed("LINE", OperandU32, nil, nil),

	OpLoadConstI32:  loadConst("LOAD_CONST_I32", TagI32),
	OpLoadConstU32:  loadConst("LOAD_CONST_U32", TagU32),
	OpLoadConstI64:  loadConst("LOAD_CONST_I64", TagI64),
	OpLoadConstU64:  loadConst("LOAD_CONST_U64", TagU64),
	OpLoadConstF32:  loadConst("LOAD_CONST_F32", TagF32),
	OpLoadConstF64:  loadConst("LOAD_CONST_F64", TagF64),
	OpLoadConstStr:  loadConst("LOAD_CONST_STR", TagStrBuf),
	OpLoadConstWStr: loadConst("LOAD_CONST_WSTR", TagWStrBuf),
	OpLoadTrue:      fixed("LOAD_TRUE", OperandNone, nil, []StackTag{TagI32}),
	OpLoadFalse:     fixed("LOAD_FALSE", OperandNone, nil, []StackTag{TagI32}),

	OpLoadVarI32:   poly("LOAD_VAR_I32", OperandU16),
	OpLoadVarU32:   poly("LOAD_VAR_U32", OperandU16),
	OpLoadVarI64:   poly("LOAD_VAR_I64", OperandU16),
	OpLoadVarU64:   poly("LOAD_VAR_U64", OperandU16),
	OpLoadVarF32:   poly("LOAD_VAR_F32", OperandU16),
	OpLoadVarF64:   poly("LOAD_VAR_F64", OperandU16),
	OpStoreVarI32:  poly("STORE_VAR_I32", OperandU16),
	OpStoreVarU32:  poly("STORE_VAR_U32", OperandU16),
	OpStoreVarI64:  poly("STORE_VAR_I64", OperandU16),
	OpStoreVarU64:  poly("STORE_VAR_U64", OperandU16),
	OpStoreVarF32:  poly("STORE_VAR_F32", OperandU16),
	OpStoreVarF64:  poly("STORE_VAR_F64", OperandU16),
	OpLoadVarStr:   poly("LOAD_VAR_STR", OperandU16),
	OpStoreVarStr:  poly("STORE_VAR_STR", OperandU16),
	OpLoadVarWStr:  poly("LOAD_VAR_WSTR", OperandU16),
	OpStoreVarWStr: poly("STORE_VAR_WSTR", OperandU16),

	OpLoadInput:   poly("LOAD_INPUT", OperandU8U16),
	OpStoreOutput: poly("STORE_OUTPUT", OperandU8U16),
	OpLoadMemory:  poly("LOAD_MEMORY", OperandU8U16),
	OpStoreMemory: poly("STORE_MEMORY", OperandU8U16),

	OpLoadArray:  poly("LOAD_ARRAY", OperandU8U16),
	OpStoreArray: poly("STORE_ARRAY", OperandU8U16),
	OpLoadField:  poly("LOAD_FIELD", OperandU8U16),
	OpStoreField: poly("STORE_FIELD", OperandU8U16),

	OpFBLoadInstance: poly("FB_LOAD_INSTANCE", OperandU16),
	OpFBStoreParam:   poly("FB_STORE_PARAM", OperandU8U16),
	OpFBLoadParam:    poly("FB_LOAD_PARAM", OperandU8U16),
	OpFBCall:         poly("FB_CALL", OperandU16),

	OpPop:  poly("POP", OperandNone),
	OpDup:  poly("DUP", OperandNone),
	OpSwap: poly("SWAP", OperandNone),

	OpAddI32: binop("ADD_I32", TagI32),
	OpAddU32: binop("ADD_U32", TagU32),
	OpSubI32: binop("SUB_I32", TagI32),
	OpSubU32: binop("SUB_U32", TagU32),
	OpMulI32: binop("MUL_I32", TagI32),
	OpMulU32: binop("MUL_U32", TagU32),
	OpDivI32: binop("DIV_I32", TagI32),
	OpDivU32: binop("DIV_U32", TagU32),
	OpModI32: binop("MOD_I32", TagI32),
	OpModU32: binop("MOD_U32", TagU32),
	OpNegI32: unop("NEG_I32", TagI32),

	OpAddI64: binop("ADD_I64", TagI64),
	OpAddU64: binop("ADD_U64", TagU64),
	OpSubI64: binop("SUB_I64", TagI64),
	OpSubU64: binop("SUB_U64", TagU64),
	OpMulI64: binop("MUL_I64", TagI64),
	OpMulU64: binop("MUL_U64", TagU64),
	OpDivI64: binop("DIV_I64", TagI64),
	OpDivU64: binop("DIV_U64", TagU64),
	OpModI64: binop("MOD_I64", TagI64),
	OpModU64: binop("MOD_U64", TagU64),
	OpNegI64: unop("NEG_I64", TagI64),

	OpAddF32: binop("ADD_F32", TagF32),
	OpSubF32: binop("SUB_F32", TagF32),
	OpMulF32: binop("MUL_F32", TagF32),
	OpDivF32: binop("DIV_F32", TagF32),
	OpNegF32: unop("NEG_F32", TagF32),
	OpAddF64: binop("ADD_F64", TagF64),
	OpSubF64: binop("SUB_F64", TagF64),
	OpMulF64: binop("MUL_F64", TagF64),
	OpDivF64: binop("DIV_F64", TagF64),
	OpNegF64: unop("NEG_F64", TagF64),

	OpAndBool: binop("AND_BOOL", TagI32),
	OpOrBool:  binop("OR_BOOL", TagI32),
	OpXorBool: binop("XOR_BOOL", TagI32),
	OpNotBool: unop("NOT_BOOL", TagI32),

	OpAndI32: binop("AND_I32", TagI32),
	OpOrI32:  binop("OR_I32", TagI32),
	OpXorI32: binop("XOR_I32", TagI32),
	OpNotI32: unop("NOT_I32", TagI32),
	OpShlI32: binop("SHL_I32", TagI32),
	OpShrI32: binop("SHR_I32", TagI32),
	OpSarI32: binop("SAR_I32", TagI32),
	OpRorI32: binop("ROR_I32", TagI32),
	OpAndI64: binop("AND_I64", TagI64),
	OpOrI64:  binop("OR_I64", TagI64),
	OpXorI64: binop("XOR_I64", TagI64),
	OpNotI64: unop("NOT_I64", TagI64),
	OpShlI64: binop("SHL_I64", TagI64),
	OpShrI64: binop("SHR_I64", TagI64),
	OpSarI64: binop("SAR_I64", TagI64),
	OpRorI64: binop("ROR_I64", TagI64),

	OpEqI32: cmp("EQ_I32", TagI32),
	OpNeI32: cmp("NE_I32", TagI32),
	OpLtI32: cmp("LT_I32", TagI32),
	OpLeI32: cmp("LE_I32", TagI32),
	OpGtI32: cmp("GT_I32", TagI32),
	OpGeI32: cmp("GE_I32", TagI32),
	OpEqU32: cmp("EQ_U32", TagU32),
	OpNeU32: cmp("NE_U32", TagU32),
	OpLtU32: cmp("LT_U32", TagU32),
	OpLeU32: cmp("LE_U32", TagU32),
	OpGtU32: cmp("GT_U32", TagU32),
	OpGeU32: cmp("GE_U32", TagU32),
	OpEqF32: cmp("EQ_F32", TagF32),
	OpNeF32: cmp("NE_F32", TagF32),
	OpLtF32: cmp("LT_F32", TagF32),
	OpLeF32: cmp("LE_F32", TagF32),
	OpGtF32: cmp("GT_F32", TagF32),
	OpGeF32: cmp("GE_F32", TagF32),
	OpEqI64: cmp("EQ_I64", TagI64),
	OpNeI64: cmp("NE_I64", TagI64),
	OpLtI64: cmp("LT_I64", TagI64),
	OpLeI64: cmp("LE_I64", TagI64),
	OpGtI64: cmp("GT_I64", TagI64),
	OpGeI64: cmp("GE_I64", TagI64),
	OpEqU64: cmp("EQ_U64", TagU64),
	OpNeU64: cmp("NE_U64", TagU64),
	OpLtU64: cmp("LT_U64", TagU64),
	OpLeU64: cmp("LE_U64", TagU64),
	OpGtU64: cmp("GT_U64", TagU64),
	OpGeU64: cmp("GE_U64", TagU64),
	OpEqF64: cmp("EQ_F64", TagF64),
	OpNeF64: cmp("NE_F64", TagF64),
	OpLtF64: cmp("LT_F64", TagF64),
	OpLeF64: cmp("LE_F64", TagF64),
	OpGtF64: cmp("GT_F64", TagF64),
	OpGeF64: cmp("GE_F64", TagF64),

	OpI32ToI64:  conv("I32_TO_I64", TagI32, TagI64),
	OpU32ToU64:  conv("U32_TO_U64", TagU32, TagU64),
	OpI64ToI32:  conv("I64_TO_I32", TagI64, TagI32),
	OpU64ToU32:  conv("U64_TO_U32", TagU64, TagU32),
	OpF32ToF64:  conv("F32_TO_F64", TagF32, TagF64),
	OpF64ToF32:  conv("F64_TO_F32", TagF64, TagF32),
	OpI32ToF32:  conv("I32_TO_F32", TagI32, TagF32),
	OpI32ToF64:  conv("I32_TO_F64", TagI32, TagF64),
	OpI64ToF64:  conv("I64_TO_F64", TagI64, TagF64),
	OpF32ToI32:  conv("F32_TO_I32", TagF32, TagI32),
	OpF64ToI32:  conv("F64_TO_I32", TagF64, TagI32),
	OpF64ToI64:  conv("F64_TO_I64", TagF64, TagI64),
	OpU32ToF64:  conv("U32_TO_F64", TagU32, TagF64),
	OpF64ToU32:  conv("F64_TO_U32", TagF64, TagU32),
	OpI64ToTime: conv("I64_TO_TIME", TagI64, TagTime),
	OpTimeToI64: conv("TIME_TO_I64", TagTime, TagI64),

	OpTimeAdd: binop("TIME_ADD", TagTime),
	OpTimeSub: binop("TIME_SUB", TagTime),

	OpJmp:      fixed("JMP", OperandI16, nil, nil),
	OpJmpIf:    fixed("JMP_IF", OperandI16, []StackTag{TagI32}, nil),
	OpJmpIfNot: fixed("JMP_IF_NOT", OperandI16, []StackTag{TagI32}, nil),
	OpCall:     poly("CALL", OperandU16),
	OpRet:      poly("RET", OperandNone),
	OpRetVoid:  poly("RET_VOID", OperandNone),

	OpBuiltin: poly("BUILTIN", OperandU16),
}

// IsDefined reports whether the opcode byte is part of the instruction set.
func (op Opcode) IsDefined() bool {
	return Opcodes[op].Mnemonic != ""
}

// Info returns the opcode's static description.
func (op Opcode) Info() OpcodeInfo {
	return Opcodes[op]
}

// String stringifies the opcode mnemonic.
func (op Opcode) String() string {
	if !op.IsDefined() {
		return "UNDEFINED"
	}
	return Opcodes[op].Mnemonic
}

// IsTerminator reports whether the opcode ends a control path.
func (op Opcode) IsTerminator() bool {
	return op == OpRet || op == OpRetVoid
}
