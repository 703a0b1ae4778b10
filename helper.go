// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"errors"

	"golang.org/x/text/encoding/unicode"
)

// Errors
var (

	// ErrInvalidContainerSize is returned when the file is smaller than the
	// fixed header.
	ErrInvalidContainerSize = errors.New("not a bytecode container, smaller than the fixed header")

	// ErrBadMagic is returned when the header magic is not IPLC.
	ErrBadMagic = errors.New("container magic not found. Probably not a bytecode container")

	// ErrUnsupportedVersion is returned when the header declares a format
	// version newer than this package understands.
	ErrUnsupportedVersion = errors.New("unsupported container format version")

	// ErrOffsetOutOfRange is returned when a section directory entry points
	// beyond the end of the file.
	ErrOffsetOutOfRange = errors.New("section offset or size beyond file bounds")

	// ErrSectionOverlap is returned when declared sections overlap or appear
	// out of their declared order.
	ErrSectionOverlap = errors.New("sections overlap or violate declared order")

	// ErrMissingSection is returned when a required section is absent.
	ErrMissingSection = errors.New("required section missing from directory")

	// ErrInsufficientBytes is returned when a section is too small for the
	// entries its own header declares.
	ErrInsufficientBytes = errors.New("section truncated. Declared entries exceed section size")

	// ErrContentHashMismatch is returned when the recomputed content hash
	// differs from the header field.
	ErrContentHashMismatch = errors.New("content hash mismatch")

	// ErrSignatureInvalid is returned when the content signature fails
	// PKCS#7 verification or does not sign the content hash.
	ErrSignatureInvalid = errors.New("content signature verification failed")
)

// InvalidTaskTypeError is returned when a task entry carries an undefined
// task type byte.
type InvalidTaskTypeError struct {
	Value uint8
}

func (e InvalidTaskTypeError) Error() string {
	return "invalid task type byte " + itoa(uint64(e.Value))
}

// InvalidConstantTypeError is returned when a constant pool entry carries an
// undefined type tag.
type InvalidConstantTypeError struct {
	Value uint8
}

func (e InvalidConstantTypeError) Error() string {
	return "invalid constant type tag " + itoa(uint64(e.Value))
}

// itoa formats without pulling strconv into the zero-copy path.
func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// DecodeUTF16String decodes a UTF-16LE byte payload, as stored for WSTRING
// literals in the constant pool.
func DecodeUTF16String(b []byte) (string, error) {
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// EncodeUTF16String encodes s to the UTF-16LE payload format used for
// WSTRING literals.
func EncodeUTF16String(s string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return encoder.Bytes([]byte(s))
}
