// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// Logic-only changes (bodies, constants) must keep the layout hash; any
// structural change must move it.
func TestLayoutHashStability(t *testing.T) {
	base := testBuilder()
	baseData, err := base.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}

	logicOnly := testBuilder()
	logicOnly.Constants = []Constant{i32Const(999), i32Const(-1)}
	logicOnly.Functions[0].Code = asm(
		opIdx(OpLoadConstI32, 1),
		opIdx(OpStoreVarI32, 0),
		op(OpRetVoid),
	)
	logicData, err := logicOnly.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}

	structural := testBuilder()
	structural.Variables = append(structural.Variables,
		VariableEntry{VarType: TypeF64})
	structData, err := structural.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}

	layoutOf := func(data []byte) []byte {
		return data[104:136]
	}
	if !bytes.Equal(layoutOf(baseData), layoutOf(logicData)) {
		t.Errorf("layout hash changed across a logic-only change")
	}
	if bytes.Equal(layoutOf(baseData), layoutOf(structData)) {
		t.Errorf("layout hash unchanged across a structural change")
	}
	if bytes.Equal(baseData[8:40], logicData[8:40]) {
		t.Errorf("content hash unchanged across a logic change")
	}
}

func TestLayoutHashCoversFBAndArrays(t *testing.T) {
	vars := []VariableEntry{{VarType: TypeI32}}
	fbs := []FBTypeDescriptor{
		{TypeID: 1, Fields: []FBField{{FieldType: TypeI32}}},
	}
	arrays := []ArrayDescriptor{
		{ElementType: TypeI32, LowerBound: 0, UpperBound: 9},
	}

	base := ComputeLayoutHash(vars, fbs, arrays)

	widerArray := []ArrayDescriptor{
		{ElementType: TypeI32, LowerBound: 0, UpperBound: 10},
	}
	if base == ComputeLayoutHash(vars, fbs, widerArray) {
		t.Errorf("array bound change did not move the layout hash")
	}

	extraField := []FBTypeDescriptor{
		{TypeID: 1, Fields: []FBField{
			{FieldType: TypeI32}, {FieldType: TypeF32},
		}},
	}
	if base == ComputeLayoutHash(vars, extraField, arrays) {
		t.Errorf("FB field change did not move the layout hash")
	}
}

func selfSignedCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key generation failed, reason: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test controller vendor"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl,
		&priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("certificate creation failed, reason: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("certificate parse failed, reason: %v", err)
	}
	return cert, priv
}

func TestContentSignatureVerification(t *testing.T) {
	cert, priv := selfSignedCert(t)

	// Build once unsigned to learn the content hash, then sign it.
	b := testBuilder()
	unsigned, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}
	var contentHash [32]byte
	copy(contentHash[:], unsigned[8:40])

	sig, err := SignHash(contentHash, cert, priv)
	if err != nil {
		t.Fatalf("SignHash failed, reason: %v", err)
	}
	b.ContentSignature = sig
	signed, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}

	file, err := NewBytes(signed, &Options{})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse of signed container failed, reason: %v", err)
	}
	if !file.ContentSignature.Present || !file.ContentSignature.Verified {
		t.Errorf("signature info = %+v, want present and verified",
			file.ContentSignature)
	}
	if file.ContentSignature.Subject == "" {
		t.Errorf("signer subject missing")
	}
}

func TestWrongSignatureRejected(t *testing.T) {
	cert, priv := selfSignedCert(t)

	// Sign the wrong hash: a signature over garbage must not verify.
	var bogus [32]byte
	bogus[0] = 0xAA
	sig, err := SignHash(bogus, cert, priv)
	if err != nil {
		t.Fatalf("SignHash failed, reason: %v", err)
	}

	b := testBuilder()
	b.ContentSignature = sig
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}
	file, err := NewBytes(data, &Options{})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := file.Parse(); err != ErrSignatureInvalid {
		t.Errorf("Parse error = %v, want %v", err, ErrSignatureInvalid)
	}
}
