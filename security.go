// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"time"

	"go.mozilla.org/pkcs7"
)

// SignatureInfo wraps the important fields of a verified PKCS#7 signature.
type SignatureInfo struct {
	// Present reports whether the container carries this signature.
	Present bool `json:"present"`

	// Verified reports whether the signature cryptographically verifies
	// over the hash it covers.
	Verified bool `json:"verified"`

	// The certificate authority that issued the signing certificate.
	Issuer string `json:"issuer"`

	// The subject the signing certificate's public key is associated with.
	Subject string `json:"subject"`

	// Validity window of the signing certificate.
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`

	// SerialNumber of the signing certificate, decimal string.
	SerialNumber string `json:"serial_number"`
}

// ComputeContentHash computes SHA-256 over source_hash, type section,
// constant pool and code section, in that byte order. The header itself is
// not hashed; it stores the hash and is transitively protected because the
// signature signs the hash.
func (f *File) ComputeContentHash() [32]byte {
	h := sha256.New()
	h.Write(f.Header.SourceHash[:])
	h.Write(f.SectionBytes(SectionType))
	h.Write(f.SectionBytes(SectionConstantPool))
	h.Write(f.SectionBytes(SectionCode))
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ComputeDebugHash computes SHA-256 over the debug section. Zero when the
// section is absent.
func (f *File) ComputeDebugHash() [32]byte {
	var sum [32]byte
	data := f.SectionBytes(SectionDebug)
	if data == nil {
		return sum
	}
	copy(sum[:], sha256Sum(data))
	return sum
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// VerifyContentHash recomputes the content hash and compares it to the
// header field.
func (f *File) VerifyContentHash() error {
	sum := f.ComputeContentHash()
	if !bytes.Equal(sum[:], f.Header.ContentHash[:]) {
		return ErrContentHashMismatch
	}
	return nil
}

// VerifyContentSignature validates the content signature section, when
// present: the PKCS#7 SignedData must verify and its signed content must be
// the header content hash. An unsigned container passes with
// ContentSignature.Present false.
func (f *File) VerifyContentSignature() error {
	data := f.SectionBytes(SectionContentSignature)
	if data == nil {
		return nil
	}
	info, err := verifySignedHash(data, f.Header.ContentHash[:])
	f.ContentSignature = info
	if err != nil {
		return err
	}
	return nil
}

// verifyDebugSignature validates the debug signature over the debug hash.
// Callers treat a failure as "discard debug info", never as a load error.
func (f *File) verifyDebugSignature() error {
	data := f.SectionBytes(SectionDebugSignature)
	if data == nil {
		return nil
	}
	_, err := verifySignedHash(data, f.Header.DebugHash[:])
	return err
}

func verifySignedHash(sig, wantHash []byte) (SignatureInfo, error) {
	info := SignatureInfo{Present: true}

	p7, err := pkcs7.Parse(sig)
	if err != nil {
		return info, ErrSignatureInvalid
	}
	if err := p7.Verify(); err != nil {
		return info, ErrSignatureInvalid
	}
	if !bytes.Equal(p7.Content, wantHash) {
		return info, ErrSignatureInvalid
	}

	if signer := p7.GetOnlySigner(); signer != nil {
		info.Issuer = signer.Issuer.String()
		info.Subject = signer.Subject.String()
		info.NotBefore = signer.NotBefore
		info.NotAfter = signer.NotAfter
		info.SerialNumber = signer.SerialNumber.String()
	}
	info.Verified = true
	return info, nil
}

// SignHash builds a detached-free PKCS#7 SignedData blob over a 32-byte
// hash, suitable for the content or debug signature section. The compiler
// and deployment tooling call this; the runtime only verifies.
func SignHash(hash [32]byte, cert *x509.Certificate, priv crypto.PrivateKey) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(hash[:])
	if err != nil {
		return nil, err
	}
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signed.AddSigner(cert, priv, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	return signed.Finish()
}

// ComputeLayoutHash computes SHA-256 over the canonical serialization of
// the type section's structural content: variable count and per-variable
// (type, flags, extra); FB type count and per-field (type, extra); array
// count and per-array (element type, bounds, extra). Function bodies and
// constants do not contribute, so logic-only program changes keep the
// layout hash stable.
func ComputeLayoutHash(vars []VariableEntry, fbs []FBTypeDescriptor,
	arrays []ArrayDescriptor) [32]byte {

	h := sha256.New()
	var scratch [8]byte

	u16 := func(v uint16) {
		binary.LittleEndian.PutUint16(scratch[:2], v)
		h.Write(scratch[:2])
	}

	u16(uint16(len(vars)))
	for _, v := range vars {
		h.Write([]byte{byte(v.VarType), v.Flags})
		u16(v.Extra)
	}

	u16(uint16(len(fbs)))
	for _, fb := range fbs {
		u16(uint16(len(fb.Fields)))
		for _, fld := range fb.Fields {
			h.Write([]byte{byte(fld.FieldType)})
			u16(fld.FieldExtra)
		}
	}

	u16(uint16(len(arrays)))
	for _, a := range arrays {
		h.Write([]byte{byte(a.ElementType)})
		u16(uint16(a.LowerBound))
		u16(uint16(a.UpperBound))
		u16(a.ElementExtra)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ComputeLayoutHash recomputes the layout hash from the parsed type
// section.
func (f *File) ComputeLayoutHash() [32]byte {
	return ComputeLayoutHash(f.Variables, f.FBTypes, f.Arrays)
}
