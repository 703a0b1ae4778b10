// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

// Builtin function IDs dispatched through the BUILTIN opcode. The u16 id
// space is partitioned by family: 0x0100 STRING, 0x0200 WSTRING, 0x0300
// numeric. The verifier type-checks call sites against BuiltinSignatures;
// the vm package implements the semantics.
const (
	BuiltinLenStr    = BuiltinStringBase + 0x00
	BuiltinConcatStr = BuiltinStringBase + 0x01
	BuiltinLeftStr   = BuiltinStringBase + 0x02
	BuiltinRightStr  = BuiltinStringBase + 0x03
	BuiltinMidStr    = BuiltinStringBase + 0x04
	BuiltinDeleteStr = BuiltinStringBase + 0x05
	BuiltinInsertStr = BuiltinStringBase + 0x06
	BuiltinFindStr   = BuiltinStringBase + 0x07

	BuiltinLenWStr    = BuiltinWStringBase + 0x00
	BuiltinConcatWStr = BuiltinWStringBase + 0x01
	BuiltinLeftWStr   = BuiltinWStringBase + 0x02
	BuiltinRightWStr  = BuiltinWStringBase + 0x03
	BuiltinMidWStr    = BuiltinWStringBase + 0x04
	BuiltinDeleteWStr = BuiltinWStringBase + 0x05
	BuiltinInsertWStr = BuiltinWStringBase + 0x06
	BuiltinFindWStr   = BuiltinWStringBase + 0x07

	BuiltinAbsI32   = BuiltinNumericBase + 0x00
	BuiltinAbsI64   = BuiltinNumericBase + 0x01
	BuiltinAbsF32   = BuiltinNumericBase + 0x02
	BuiltinAbsF64   = BuiltinNumericBase + 0x03
	BuiltinSqrtF32  = BuiltinNumericBase + 0x04
	BuiltinSqrtF64  = BuiltinNumericBase + 0x05
	BuiltinMinI32   = BuiltinNumericBase + 0x06
	BuiltinMinU32   = BuiltinNumericBase + 0x07
	BuiltinMinI64   = BuiltinNumericBase + 0x08
	BuiltinMinU64   = BuiltinNumericBase + 0x09
	BuiltinMinF32   = BuiltinNumericBase + 0x0A
	BuiltinMinF64   = BuiltinNumericBase + 0x0B
	BuiltinMaxI32   = BuiltinNumericBase + 0x0C
	BuiltinMaxU32   = BuiltinNumericBase + 0x0D
	BuiltinMaxI64   = BuiltinNumericBase + 0x0E
	BuiltinMaxU64   = BuiltinNumericBase + 0x0F
	BuiltinMaxF32   = BuiltinNumericBase + 0x10
	BuiltinMaxF64   = BuiltinNumericBase + 0x11
	BuiltinLimitI32 = BuiltinNumericBase + 0x12
	BuiltinLimitU32 = BuiltinNumericBase + 0x13
	BuiltinLimitI64 = BuiltinNumericBase + 0x14
	BuiltinLimitU64 = BuiltinNumericBase + 0x15
	BuiltinLimitF32 = BuiltinNumericBase + 0x16
	BuiltinLimitF64 = BuiltinNumericBase + 0x17
)

// BuiltinSignature declares a builtin's stack effect: Pop bottom-to-top.
type BuiltinSignature struct {
	Name string
	Pop  []StackTag
	Push []StackTag
}

func bsig(name string, pop, push []StackTag) BuiltinSignature {
	return BuiltinSignature{Name: name, Pop: pop, Push: push}
}

func strSigs(base uint16, suffix string, buf StackTag) map[uint16]BuiltinSignature {
	return map[uint16]BuiltinSignature{
		base + 0x00: bsig("LEN"+suffix, []StackTag{buf}, []StackTag{TagI32}),
		base + 0x01: bsig("CONCAT"+suffix, []StackTag{buf, buf}, []StackTag{buf}),
		base + 0x02: bsig("LEFT"+suffix, []StackTag{buf, TagI32}, []StackTag{buf}),
		base + 0x03: bsig("RIGHT"+suffix, []StackTag{buf, TagI32}, []StackTag{buf}),
		base + 0x04: bsig("MID"+suffix, []StackTag{buf, TagI32, TagI32}, []StackTag{buf}),
		base + 0x05: bsig("DELETE"+suffix, []StackTag{buf, TagI32, TagI32}, []StackTag{buf}),
		base + 0x06: bsig("INSERT"+suffix, []StackTag{buf, buf, TagI32}, []StackTag{buf}),
		base + 0x07: bsig("FIND"+suffix, []StackTag{buf, buf}, []StackTag{TagI32}),
	}
}

func numSigs() map[uint16]BuiltinSignature {
	sigs := map[uint16]BuiltinSignature{
		BuiltinAbsI32:  bsig("ABS_I32", []StackTag{TagI32}, []StackTag{TagI32}),
		BuiltinAbsI64:  bsig("ABS_I64", []StackTag{TagI64}, []StackTag{TagI64}),
		BuiltinAbsF32:  bsig("ABS_F32", []StackTag{TagF32}, []StackTag{TagF32}),
		BuiltinAbsF64:  bsig("ABS_F64", []StackTag{TagF64}, []StackTag{TagF64}),
		BuiltinSqrtF32: bsig("SQRT_F32", []StackTag{TagF32}, []StackTag{TagF32}),
		BuiltinSqrtF64: bsig("SQRT_F64", []StackTag{TagF64}, []StackTag{TagF64}),
	}
	minMax := []struct {
		tag  StackTag
		name string
	}{
		{TagI32, "I32"}, {TagU32, "U32"}, {TagI64, "I64"},
		{TagU64, "U64"}, {TagF32, "F32"}, {TagF64, "F64"},
	}
	for i, t := range minMax {
		sigs[uint16(BuiltinMinI32+i)] = bsig("MIN_"+t.name,
			[]StackTag{t.tag, t.tag}, []StackTag{t.tag})
		sigs[uint16(BuiltinMaxI32+i)] = bsig("MAX_"+t.name,
			[]StackTag{t.tag, t.tag}, []StackTag{t.tag})
		sigs[uint16(BuiltinLimitI32+i)] = bsig("LIMIT_"+t.name,
			[]StackTag{t.tag, t.tag, t.tag}, []StackTag{t.tag})
	}
	return sigs
}

// BuiltinSignatures is the signature table of every standard library
// function, keyed by builtin id.
var BuiltinSignatures = buildBuiltinSignatures()

func buildBuiltinSignatures() map[uint16]BuiltinSignature {
	sigs := make(map[uint16]BuiltinSignature)
	for id, s := range strSigs(BuiltinStringBase, "_STR", TagStrBuf) {
		sigs[id] = s
	}
	for id, s := range strSigs(BuiltinWStringBase, "_WSTR", TagWStrBuf) {
		sigs[id] = s
	}
	for id, s := range numSigs() {
		sigs[id] = s
	}
	return sigs
}
