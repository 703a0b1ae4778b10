// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"encoding/binary"
)

// SectionEntry is one header section directory entry. An absent optional
// section has offset and size zero.
type SectionEntry struct {
	// File offset of the first byte of the section.
	Offset uint32 `json:"offset"`

	// Size of the section in bytes.
	Size uint32 `json:"size"`
}

// IsPresent reports whether the directory entry declares a section.
func (s SectionEntry) IsPresent() bool {
	return s.Size != 0
}

// RuntimeParams is the runtime parameter block of the file header. The VM
// sizes all of its caller-provided working memory from these fields before
// touching any section, so a host can reject a program whose RAM budget it
// cannot satisfy without parsing further.
type RuntimeParams struct {
	// Operand stack capacity in slots, shared across call frames.
	MaxStackDepth uint16 `json:"max_stack_depth"`

	// Maximum static call depth accepted by the verifier and sized for at
	// runtime.
	MaxCallDepth uint16 `json:"max_call_depth"`

	// Total variable table entries, shared globals included.
	NumVariables uint16 `json:"num_variables"`

	// FB type descriptors in the type section.
	NumFBTypes uint16 `json:"num_fb_types"`

	// Array descriptors in the type section.
	NumArrayDescs uint16 `json:"num_array_descs"`

	// Function signatures in the type section and entries in the code
	// section directory.
	NumFunctions uint16 `json:"num_functions"`

	// Constant pool entries.
	NumConstants uint16 `json:"num_constants"`

	// Total STRING buffers: one per STRING variable plus the temporaries
	// the compiler sized for maximum expression depth.
	NumStringBufs uint16 `json:"num_string_bufs"`

	// Capacity in bytes of each STRING buffer.
	StringBufCap uint16 `json:"string_buf_cap"`

	// Total WSTRING buffers.
	NumWStringBufs uint16 `json:"num_wstring_bufs"`

	// Capacity in bytes of each WSTRING buffer.
	WStringBufCap uint16 `json:"wstring_buf_cap"`

	// Task table entries.
	NumTasks uint16 `json:"num_tasks"`

	// Program instance bindings.
	NumProgramInstances uint16 `json:"num_program_instances"`

	// Slots in the FB instance arena.
	FBInstancePoolSize uint16 `json:"fb_instance_pool_size"`

	// Process image sizes in bytes.
	InputImageSize  uint32 `json:"input_image_size"`
	OutputImageSize uint32 `json:"output_image_size"`
	MemoryImageSize uint32 `json:"memory_image_size"`
}

// FileHeader is the fixed 256-byte container header.
type FileHeader struct {
	// Magic must equal the IPLC magic DWORD.
	Magic uint32 `json:"magic"`

	// Version is the container format version.
	Version uint16 `json:"version"`

	// Profile is reserved in current format versions. Readers accept any
	// value and rely on verifier rules rather than profile gating.
	Profile uint8 `json:"profile"`

	// Flags is reserved for future use.
	Flags uint8 `json:"flags"`

	// ContentHash is SHA-256 over source hash, type section, constant pool
	// and code section, in that byte order.
	ContentHash [32]byte `json:"content_hash"`

	// SourceHash identifies the compiled source text; the compiler stores
	// it, the runtime only folds it into the content hash.
	SourceHash [32]byte `json:"source_hash"`

	// DebugHash is SHA-256 over the debug section, independent from the
	// content hash.
	DebugHash [32]byte `json:"debug_hash"`

	// LayoutHash is SHA-256 over the canonical serialization of the type
	// section's structural content. Equal across logic-only changes; gates
	// online program change.
	LayoutHash [32]byte `json:"layout_hash"`

	// Sections is the section directory, indexed by SectionID.
	Sections [NumSections]SectionEntry `json:"sections"`

	// Params is the runtime parameter block.
	Params RuntimeParams `json:"params"`

	// Reserved tail, zero in current format versions.
	Reserved [24]byte `json:"-"`
}

// requiredSections are the sections every container must declare.
var requiredSections = []SectionID{
	SectionType, SectionTaskTable, SectionConstantPool, SectionCode,
}

// ParseHeader parses and validates the fixed file header.
func (f *File) ParseHeader() error {
	if f.size < HeaderSize {
		return ErrInvalidContainerSize
	}

	magic := binary.LittleEndian.Uint32(f.data)
	if magic != Magic {
		return ErrBadMagic
	}

	version := binary.LittleEndian.Uint16(f.data[4:])
	if version == 0 || version > FormatVersion {
		return ErrUnsupportedVersion
	}

	var hdr FileHeader
	if err := binary.Read(bytes.NewReader(f.data[:HeaderSize]),
		binary.LittleEndian, &hdr); err != nil {
		return err
	}

	if err := validateSectionLayout(&hdr, f.size); err != nil {
		return err
	}

	f.Header = hdr
	return nil
}

// validateSectionLayout checks that every declared section lies inside the
// file, that required sections are present, and that sections appear in
// directory order without overlapping.
func validateSectionLayout(hdr *FileHeader, fileSize uint32) error {
	for _, id := range requiredSections {
		if !hdr.Sections[id].IsPresent() {
			return ErrMissingSection
		}
	}

	prevEnd := uint32(HeaderSize)
	for id := SectionID(0); id < NumSections; id++ {
		sec := hdr.Sections[id]
		if !sec.IsPresent() {
			continue
		}
		end := sec.Offset + sec.Size
		if end < sec.Offset {
			// Integer overflow
			return ErrOffsetOutOfRange
		}
		if sec.Offset < HeaderSize || end > fileSize {
			return ErrOffsetOutOfRange
		}
		if sec.Offset < prevEnd {
			return ErrSectionOverlap
		}
		prevEnd = end
	}
	return nil
}

// SectionBytes returns the raw bytes of a declared section, or nil when the
// section is absent.
func (f *File) SectionBytes(id SectionID) []byte {
	sec := f.Header.Sections[id]
	if !sec.IsPresent() {
		return nil
	}
	return f.data[sec.Offset : sec.Offset+sec.Size]
}
