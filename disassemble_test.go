// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDisassemble(t *testing.T) {
	data, err := testBuilder().Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}
	file, err := NewBytes(data, &Options{})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}

	dis, err := file.Disassemble()
	if err != nil {
		t.Fatalf("Disassemble failed, reason: %v", err)
	}
	if len(dis.Functions) != 1 {
		t.Fatalf("function listings = %d, want 1", len(dis.Functions))
	}

	ins := dis.Functions[0].Instructions
	wantMnemonics := []string{
		"LOAD_CONST_I32", "STORE_VAR_I32", "LOAD_CONST_I32",
		"LOAD_VAR_I32", "ADD_I32", "STORE_VAR_I32", "RET_VOID",
	}
	if len(ins) != len(wantMnemonics) {
		t.Fatalf("instruction count = %d, want %d", len(ins), len(wantMnemonics))
	}
	for i, want := range wantMnemonics {
		if ins[i].Mnemonic != want {
			t.Errorf("instruction %d = %s, want %s", i, ins[i].Mnemonic, want)
		}
	}
	if ins[1].Operands[0] != 0 || ins[5].Operands[0] != 1 {
		t.Errorf("store operands decoded wrong: %v / %v",
			ins[1].Operands, ins[5].Operands)
	}

	// The whole view must marshal; the CLI leans on that.
	out, err := json.Marshal(dis)
	if err != nil {
		t.Fatalf("json.Marshal failed, reason: %v", err)
	}
	if !strings.Contains(string(out), "RET_VOID") {
		t.Errorf("marshalled view misses mnemonics")
	}
}

func TestDecodeUndefinedByte(t *testing.T) {
	ins, size := decodeInstruction([]byte{0xFE}, 0)
	if size != 1 || ins.Mnemonic != "UNDEFINED" {
		t.Errorf("decode = %+v size %d, want UNDEFINED size 1", ins, size)
	}
}
