// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrDebugHashMismatch is returned (and recovered from) when the debug
// section bytes do not match the header debug hash.
var ErrDebugHashMismatch = errors.New("debug hash mismatch")

// LinePoint maps a bytecode offset to a source line.
type LinePoint struct {
	PC   uint16 `json:"pc"`
	Line uint32 `json:"line"`
}

// FunctionDebug is the line table of one function.
type FunctionDebug struct {
	FunctionID uint16      `json:"function_id"`
	FileIndex  uint16      `json:"file_index"`
	Points     []LinePoint `json:"points"`
}

// DebugInfo is the parsed optional debug section: source file names and
// per-function line tables.
type DebugInfo struct {
	Files     []string        `json:"files"`
	Functions []FunctionDebug `json:"functions"`
}

// LineFor returns the source line covering the given bytecode offset of a
// function, using the last point at or before pc.
func (d *DebugInfo) LineFor(functionID, pc uint16) (uint32, bool) {
	for _, fn := range d.Functions {
		if fn.FunctionID != functionID {
			continue
		}
		var line uint32
		found := false
		for _, p := range fn.Points {
			if p.PC > pc {
				break
			}
			line = p.Line
			found = true
		}
		return line, found
	}
	return 0, false
}

// ParseDebugSection parses the optional debug section. Debug info is
// advisory: any hash, signature or format failure returns an error that the
// caller downgrades to "no debug info".
func (f *File) ParseDebugSection() error {
	data := f.SectionBytes(SectionDebug)
	if data == nil {
		return nil
	}

	sum := f.ComputeDebugHash()
	if !bytes.Equal(sum[:], f.Header.DebugHash[:]) {
		return ErrDebugHashMismatch
	}
	if err := f.verifyDebugSignature(); err != nil {
		return err
	}

	pos := 0
	need := func(n int) bool { return pos+n <= len(data) }
	u16 := func() uint16 {
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v
	}

	if !need(2) {
		return ErrInsufficientBytes
	}
	numFiles := int(u16())
	info := DebugInfo{Files: make([]string, numFiles)}
	for i := 0; i < numFiles; i++ {
		if !need(2) {
			return ErrInsufficientBytes
		}
		n := int(u16())
		if !need(n) {
			return ErrInsufficientBytes
		}
		info.Files[i] = string(data[pos : pos+n])
		pos += n
	}

	if !need(2) {
		return ErrInsufficientBytes
	}
	numFuncs := int(u16())
	info.Functions = make([]FunctionDebug, numFuncs)
	for i := 0; i < numFuncs; i++ {
		if !need(6) {
			return ErrInsufficientBytes
		}
		fn := FunctionDebug{FunctionID: u16(), FileIndex: u16()}
		numPoints := int(u16())
		if !need(numPoints * 6) {
			return ErrInsufficientBytes
		}
		fn.Points = make([]LinePoint, numPoints)
		for j := 0; j < numPoints; j++ {
			fn.Points[j] = LinePoint{
				PC:   binary.LittleEndian.Uint16(data[pos:]),
				Line: binary.LittleEndian.Uint32(data[pos+2:]),
			}
			pos += 6
		}
		info.Functions[i] = fn
	}

	f.Debug = &info
	return nil
}
