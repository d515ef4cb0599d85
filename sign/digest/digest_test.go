package digest

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func TestResolveCommonFamily(t *testing.T) {
	cases := []struct {
		identifier string
		name       string
	}{
		{"sha256", SHA256},
		{"SHA256", SHA256},
		{"  sha1 ", SHA1},
		{"md5", MD5},
		{"sha224", SHA224},
		{"sha384", SHA384},
		{"sha512", SHA512},
		{"2.16.840.1.101.3.4.2.1", SHA256},
		{"1.3.14.3.2.26", SHA1},
		{"1.2.840.113549.2.5", MD5},
		{"2.16.840.1.101.3.4.2.2", SHA384},
		{"2.16.840.1.101.3.4.2.3", SHA512},
		{"2.16.840.1.101.3.4.2.4", SHA224},
	}

	for _, tc := range cases {
		alg, err := Resolve(tc.identifier)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tc.identifier, err)
			continue
		}
		if alg.Name != tc.name {
			t.Errorf("Resolve(%q): expected name %q, got %q", tc.identifier, tc.name, alg.Name)
		}
	}
}

func TestResolveNameAndOIDAgree(t *testing.T) {
	byName, err := Resolve("sha256")
	if err != nil {
		t.Fatalf("Resolve by name failed: %v", err)
	}
	byOID, err := Resolve("2.16.840.1.101.3.4.2.1")
	if err != nil {
		t.Fatalf("Resolve by OID failed: %v", err)
	}

	data := []byte("identifier forms must agree")
	d1, err := byName.Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	d2, err := byOID.Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("name and OID resolution produced different digests")
	}
}

func TestSumStreamsLargeInput(t *testing.T) {
	// Larger than several chunks so the streaming path is exercised.
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB

	alg, err := Resolve("sha256")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got, err := alg.Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}

	want := sha256.Sum256(data)
	if !bytes.Equal(got, want[:]) {
		t.Error("streamed digest differs from one-shot digest")
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("whirlpool")
	var unsupported *UnsupportedAlgorithmError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Expected UnsupportedAlgorithmError, got %v", err)
	}
	if unsupported.National {
		t.Error("unknown algorithm should not be flagged as national family")
	}
}

func TestResolveNationalUnavailable(t *testing.T) {
	// This package does not import sign/digest/gost, so the family is
	// recognized but has no registered implementation.
	identifiers := []string{
		"1.2.643.7.1.1.2.2",
		"1.2.643.7.1.1.2.3",
		"1.2.643.7.1.1.2.9", // unlisted arc under the family prefix
		"id-tc26-gost3411-12-256",
		"gost3411-2012-512",
		"gost3411_2012_256",
	}

	for _, id := range identifiers {
		_, err := Resolve(id)
		var unsupported *UnsupportedAlgorithmError
		if !errors.As(err, &unsupported) {
			t.Errorf("Resolve(%q): expected UnsupportedAlgorithmError, got %v", id, err)
			continue
		}
		if !unsupported.National {
			t.Errorf("Resolve(%q): expected the national family flag", id)
		}
	}
}

func TestIsNational(t *testing.T) {
	if !IsNational("1.2.643.7.1.1.2.2") {
		t.Error("GOST OID should be national")
	}
	if !IsNational("1.2.643.7.1.1.2.42") {
		t.Error("prefix match should be national")
	}
	if IsNational("sha256") {
		t.Error("sha256 is not national")
	}
}
