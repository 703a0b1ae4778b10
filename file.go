// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/ironplc/iplc/log"
)

// A File represents an open bytecode container on the owning read path: all
// per-section collections are parsed into allocated values. The zero-copy
// path for flash-resident images is ContainerRef.
type File struct {
	Header     FileHeader          `json:"header"`
	Variables  []VariableEntry     `json:"variables,omitempty"`
	FBTypes    []FBTypeDescriptor  `json:"fb_types,omitempty"`
	Arrays     []ArrayDescriptor   `json:"arrays,omitempty"`
	Signatures []FunctionSignature `json:"signatures,omitempty"`
	TaskTable  TaskTable           `json:"task_table"`
	Constants  []Constant          `json:"constants,omitempty"`
	Functions  []FunctionEntry     `json:"functions,omitempty"`
	Code       []byte              `json:"-"`
	Debug      *DebugInfo          `json:"debug,omitempty"`

	// ContentSignature describes the PKCS#7 content signature, when
	// present.
	ContentSignature SignatureInfo `json:"content_signature"`

	data   mmap.MMap
	size   uint32
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options for parsing.
type Options struct {

	// Parse only the header and sections; skip content hash and content
	// signature verification, by default (false). The optional debug
	// section is still checked against its hash and signature.
	Fast bool

	// Disable content signature validation, by default (false). Hash
	// verification still runs, and so does the debug signature check.
	DisableCertValidation bool

	// A custom logger.
	Logger log.Logger
}

// New instantiates a file instance with options given a file name.
func New(name string, opts *Options) (*File, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Memory map the file instead of using read/write.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	file.f = f
	return &file, nil
}

// NewBytes instantiates a file instance with options given a memory buffer.
func NewBytes(data []byte, opts *Options) (*File, error) {

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	return &file, nil
}

// Close closes the File.
func (f *File) Close() error {
	if f.f != nil {
		_ = f.data.Unmap()
		return f.f.Close()
	}
	return nil
}

// Parse performs the file parsing for a bytecode container.
func (f *File) Parse() error {

	// Parse and validate the fixed header first; every later step trusts
	// its section directory.
	err := f.ParseHeader()
	if err != nil {
		return err
	}

	// Verify content integrity before trusting any section payload.
	if !f.opts.Fast {
		if err = f.VerifyContentHash(); err != nil {
			return err
		}
		if !f.opts.DisableCertValidation {
			if err = f.VerifyContentSignature(); err != nil {
				return err
			}
		}
	}

	err = f.ParseTypeSection()
	if err != nil {
		return err
	}

	err = f.ParseTaskTable()
	if err != nil {
		return err
	}

	err = f.ParseConstantPool()
	if err != nil {
		return err
	}

	err = f.ParseCodeSection()
	if err != nil {
		return err
	}

	// Debug info is best-effort: a corrupt or unverifiable debug section
	// is discarded, not fatal.
	err = f.ParseDebugSection()
	if err != nil {
		f.logger.Warnf("debug section discarded: %v", err)
		f.Debug = nil
	}

	return nil
}

// Data returns the raw container image.
func (f *File) Data() []byte {
	return f.data
}

// Ref builds the zero-copy view over the same underlying bytes. The VM
// executes through a ContainerRef on both the host and the bare-metal
// paths; hosts get theirs from here.
func (f *File) Ref() (*ContainerRef, error) {
	buf := make([]uint32, OffsetBufLen(&f.Header))
	return FromSlice(f.data, buf)
}
