// Package cms parses and builds CMS (PKCS#7) detached signature containers.
//
// Parsing tolerates the encodings seen in the wild for .p7s/.sig files:
// binary DER, PEM with BEGIN/END markers, and bare base64 text. Building
// produces a DER-encoded detached SignedData with signed attributes
// (content type, message digest, signing time, signing certificate v2).
package cms

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"time"
)

// OIDs for CMS content types, digest and signature algorithms, and attributes.
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// Digest algorithms
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	// Signed attributes
	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// Common errors
var (
	ErrNoSigners            = errors.New("cms: no signer information present")
	ErrMissingCertificate   = errors.New("cms: signer certificate not found")
	ErrUnsupportedAlgorithm = errors.New("cms: unsupported algorithm")
	ErrInvalidSignature     = errors.New("cms: invalid signature")
)

// FormatError reports that raw bytes could not be decoded as a CMS
// signed-data container in any of the supported encodings.
type FormatError struct {
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cms: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("cms: %s", e.Detail)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Encoding identifies the outer encoding a container was parsed from.
type Encoding int

// Supported container encodings.
const (
	EncodingDER Encoding = iota
	EncodingPEM
	EncodingBase64
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingPEM:
		return "pem"
	case EncodingBase64:
		return "base64"
	default:
		return "der"
	}
}

// AlgorithmIdentifier represents an ASN.1 algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData represents a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo represents encapsulated content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information.
// Note: SID is IssuerAndSerialNumber directly (not wrapped in SignerIdentifier)
// because SignerIdentifier is a CHOICE in ASN.1, not a SEQUENCE.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// signerInfoRaw is used during parsing to capture raw signed attribute bytes,
// which must be preserved exactly for signature verification.
type signerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// signedDataRaw is used during parsing to keep signer infos unparsed.
type signedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// SigningCertificateV2 represents the ESS signing certificate attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 represents a certificate identifier.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer and serial.
type IssuerSerial struct {
	Issuer       GeneralNames
	SerialNumber *big.Int
}

// GeneralNames represents a sequence of GeneralName.
type GeneralNames struct {
	Names []asn1.RawValue
}

// SignerEntry is one signer of a parsed container: its digest algorithm,
// the signed attributes relevant for verification, and the signature value.
type SignerEntry struct {
	DigestOID      asn1.ObjectIdentifier
	SID            IssuerAndSerialNumber
	SigningTime    *time.Time
	MessageDigest  []byte
	Signature      []byte
	rawSignedAttrs asn1.RawValue
	signedAttrs    []Attribute
}

// DigestIdentifier returns the digest algorithm as a dotted OID string.
func (s *SignerEntry) DigestIdentifier() string {
	return s.DigestOID.String()
}

// SignatureContainer is the parsed, immutable form of a CMS signed-data blob.
type SignatureContainer struct {
	Encoding     Encoding
	DER          []byte
	Signers      []SignerEntry
	Certificates []*x509.Certificate
}

// Parse decodes raw bytes of unknown encoding into a SignatureContainer.
//
// Decode attempts run in order: binary DER (first non-whitespace byte is the
// SEQUENCE tag), PEM, bare base64. The first successful decode wins; when
// none applies the raw bytes are parsed as DER as a last resort. The content
// must be signed-data and carry at least one signer.
func Parse(raw []byte) (*SignatureContainer, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &FormatError{Detail: "empty signature data"}
	}

	der, encoding := decodeOuter(raw)
	container, err := parseDER(der)
	if err != nil {
		return nil, err
	}
	container.Encoding = encoding
	return container, nil
}

// decodeOuter detects the outer encoding and returns DER bytes.
func decodeOuter(raw []byte) ([]byte, Encoding) {
	trimmed := bytes.TrimSpace(raw)

	// Binary DER: outer SEQUENCE tag.
	if trimmed[0] == 0x30 {
		return trimmed, EncodingDER
	}

	// PEM with BEGIN/END markers.
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		if block, _ := pem.Decode(trimmed); block != nil {
			return block.Bytes, EncodingPEM
		}
	}

	// Bare base64: join lines, skipping blanks and comment lines.
	var compact []byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		compact = append(compact, line...)
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(compact)); err == nil {
		return decoded, EncodingBase64
	}

	// Last resort: treat the original bytes as DER and let parsing decide.
	return raw, EncodingDER
}

// parseDER parses DER bytes into a SignatureContainer.
func parseDER(der []byte) (*SignatureContainer, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(der, &contentInfo); err != nil {
		return nil, &FormatError{Detail: "not a CMS/PKCS#7 structure", Err: err}
	}

	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, &FormatError{
			Detail: fmt.Sprintf("content type is not signed-data (got %v)", contentInfo.ContentType),
		}
	}

	var signedData signedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, &FormatError{Detail: "malformed SignedData", Err: err}
	}

	if len(signedData.SignerInfos) == 0 {
		return nil, ErrNoSigners
	}

	container := &SignatureContainer{DER: der}

	for _, rawInfo := range signedData.SignerInfos {
		var info signerInfoRaw
		if _, err := asn1.Unmarshal(rawInfo.FullBytes, &info); err != nil {
			return nil, &FormatError{Detail: "malformed SignerInfo", Err: err}
		}

		entry := SignerEntry{
			DigestOID:      info.DigestAlgorithm.Algorithm,
			SID:            info.SID,
			Signature:      info.Signature,
			rawSignedAttrs: info.SignedAttrs,
		}

		attrs, err := parseAttributes(info.SignedAttrs.Bytes)
		if err != nil {
			return nil, &FormatError{Detail: "malformed signed attributes", Err: err}
		}
		entry.signedAttrs = attrs

		for _, attr := range attrs {
			if len(attr.Values) == 0 {
				continue
			}
			switch {
			case attr.Type.Equal(OIDMessageDigest):
				var digest []byte
				if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &digest); err == nil {
					entry.MessageDigest = digest
				}
			case attr.Type.Equal(OIDSigningTime):
				var signingTime time.Time
				if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &signingTime); err == nil {
					entry.SigningTime = &signingTime
				}
			}
		}

		container.Signers = append(container.Signers, entry)
	}

	for _, certRaw := range signedData.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		container.Certificates = append(container.Certificates, cert)
	}

	return container, nil
}

// parseAttributes parses a concatenation of DER Attribute sequences.
func parseAttributes(data []byte) ([]Attribute, error) {
	var attrs []Attribute
	rest := data
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// SignatureAlgorithm represents a signature algorithm with its hash.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Common signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA384WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
		Hash:               crypto.SHA384,
	}
	SHA512WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
		Hash:               crypto.SHA512,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
)

// Builder assembles a detached CMS SignedData container.
type Builder struct {
	Certificate          *x509.Certificate
	CertChain            []*x509.Certificate
	PrivateKey           crypto.Signer
	Algorithm            SignatureAlgorithm
	SigningTime          time.Time
	PrecomputedSignature []byte // set when signing is delegated (token, remote)
}

// NewBuilder creates a builder for the given signer identity.
func NewBuilder(cert *x509.Certificate, key crypto.Signer, alg SignatureAlgorithm) *Builder {
	return &Builder{
		Certificate: cert,
		PrivateKey:  key,
		Algorithm:   alg,
		SigningTime: time.Now().UTC(),
	}
}

// SetCertificateChain sets additional certificates to embed.
func (b *Builder) SetCertificateChain(chain []*x509.Certificate) {
	b.CertChain = chain
}

// SetSigningTime sets the signing time attribute value.
func (b *Builder) SetSigningTime(t time.Time) {
	b.SigningTime = t.UTC()
}

// SetPrecomputedSignature sets a signature computed elsewhere (for example on
// a hardware token). When set, Sign uses it instead of the local private key.
func (b *Builder) SetPrecomputedSignature(sig []byte) {
	b.PrecomputedSignature = sig
}

// SignedAttributesForSigning returns the signed attributes and their
// DER-encoded SET bytes, which are the exact input to signature generation.
func (b *Builder) SignedAttributesForSigning(data []byte) ([]Attribute, []byte, error) {
	h := b.newHash()
	h.Write(data)
	messageDigest := h.Sum(nil)

	signedAttrs, err := b.buildSignedAttributes(messageDigest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}

	signedAttrs = derSortAttributes(signedAttrs)

	signedAttrsBytes, err := asn1.Marshal(signedAttrs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}

	signedAttrsBytes[0] = 0x31 // SET tag

	return signedAttrs, signedAttrsBytes, nil
}

// Sign creates a detached CMS signature container over data.
func (b *Builder) Sign(data []byte) ([]byte, error) {
	signedAttrs, signedAttrsBytes, err := b.SignedAttributesForSigning(data)
	if err != nil {
		return nil, err
	}

	var signature []byte
	if b.PrecomputedSignature != nil {
		signature = b.PrecomputedSignature
	} else {
		h := b.newHash()
		h.Write(signedAttrsBytes)
		signature, err = b.signDigest(h.Sum(nil))
		if err != nil {
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.DigestAlgorithm,
			Parameters: asn1.RawValue{Tag: 5}, // NULL
		},
		SignedAttrs: signedAttrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature: signature,
	}

	signedData := SignedData{
		Version: 1,
		DigestAlgorithms: []AlgorithmIdentifier{
			{
				Algorithm:  b.Algorithm.DigestAlgorithm,
				Parameters: asn1.RawValue{Tag: 5},
			},
		},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: OIDData,
			// No encapsulated content for a detached signature.
		},
		SignerInfos: []SignerInfo{signerInfo},
	}

	signedData.Certificates = append(signedData.Certificates,
		asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		signedData.Certificates = append(signedData.Certificates,
			asn1.RawValue{FullBytes: cert.Raw})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	}

	return asn1.Marshal(contentInfo)
}

func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	switch {
	case oid.Equal(OIDSHA256WithRSA),
		oid.Equal(OIDSHA384WithRSA),
		oid.Equal(OIDSHA512WithRSA):
		return asn1.RawValue{Tag: 5} // NULL
	default:
		return asn1.RawValue{} // omit
	}
}

// buildSignedAttributes builds the signed attributes.
func (b *Builder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	var attrs []Attribute

	contentTypeValue, _ := asn1.Marshal(OIDData)
	attrs = append(attrs, Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: contentTypeValue}},
	})

	digestValue, _ := asn1.Marshal(messageDigest)
	attrs = append(attrs, Attribute{
		Type:   OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestValue}},
	})

	signingTimeValue, _ := asn1.Marshal(b.SigningTime)
	attrs = append(attrs, Attribute{
		Type:   OIDSigningTime,
		Values: []asn1.RawValue{{FullBytes: signingTimeValue}},
	})

	// ESS signing-certificate-v2 binds the signer certificate to the signature.
	certHash := b.hashCertificate()
	issuerSerial := IssuerSerial{
		Issuer: GeneralNames{
			Names: []asn1.RawValue{
				{
					Class:      asn1.ClassContextSpecific,
					Tag:        4, // directoryName
					IsCompound: true,
					Bytes:      b.Certificate.RawIssuer,
				},
			},
		},
		SerialNumber: b.Certificate.SerialNumber,
	}
	signingCert := SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: AlgorithmIdentifier{
					Algorithm:  b.Algorithm.DigestAlgorithm,
					Parameters: asn1.RawValue{Tag: 5},
				},
				CertHash:     certHash,
				IssuerSerial: issuerSerial,
			},
		},
	}
	signingCertValue, _ := asn1.Marshal(signingCert)
	attrs = append(attrs, Attribute{
		Type:   OIDSigningCertificateV2,
		Values: []asn1.RawValue{{FullBytes: signingCertValue}},
	})

	return attrs, nil
}

// newHash returns the hash for the builder's algorithm.
func (b *Builder) newHash() hash.Hash {
	switch b.Algorithm.Hash {
	case crypto.SHA384:
		return sha512.New384()
	case crypto.SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// hashCertificate computes the signer certificate hash.
func (b *Builder) hashCertificate() []byte {
	h := b.newHash()
	h.Write(b.Certificate.Raw)
	return h.Sum(nil)
}

// signDigest signs the digest with the private key.
func (b *Builder) signDigest(digest []byte) ([]byte, error) {
	switch key := b.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, b.Algorithm.Hash, digest)
	default:
		return b.PrivateKey.Sign(rand.Reader, digest, b.Algorithm.Hash)
	}
}

// VerifySignature cryptographically verifies the first signer of a parsed
// container against the detached content: the message digest attribute must
// match the content and the signature value must verify under the embedded
// signer certificate. Digest comparison against arbitrary algorithms,
// certificate validity and status derivation live in sign/validation; this
// check covers containers produced by Builder.
func VerifySignature(container *SignatureContainer, signedContent []byte) error {
	if len(container.Signers) == 0 {
		return ErrNoSigners
	}
	signer := container.Signers[0]

	signerCert := findSignerCertificate(container, signer.SID)
	if signerCert == nil {
		return ErrMissingCertificate
	}

	h, err := hashFromOID(signer.DigestOID)
	if err != nil {
		return err
	}
	h.Write(signedContent)
	computedDigest := h.Sum(nil)

	if signer.MessageDigest == nil {
		return fmt.Errorf("cms: message digest attribute not found")
	}
	if !bytes.Equal(computedDigest, signer.MessageDigest) {
		return fmt.Errorf("%w: message digest mismatch", ErrInvalidSignature)
	}

	// Re-marshal the signed attributes to reproduce the exact SET bytes that
	// were the input to signing.
	signedAttrsBytes, err := asn1.Marshal(signer.signedAttrs)
	if err != nil {
		return fmt.Errorf("failed to marshal signed attributes for verification: %w", err)
	}
	signedAttrsBytes[0] = 0x31 // SET tag

	h, _ = hashFromOID(signer.DigestOID)
	h.Write(signedAttrsBytes)
	attrDigest := h.Sum(nil)

	if err := verifyWithPublicKey(signerCert.PublicKey, hashTypeFromOID(signer.DigestOID), attrDigest, signer.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return nil
}

// findSignerCertificate matches an embedded certificate by serial number.
func findSignerCertificate(container *SignatureContainer, sid IssuerAndSerialNumber) *x509.Certificate {
	if sid.SerialNumber == nil {
		return nil
	}
	for _, cert := range container.Certificates {
		if cert.SerialNumber.Cmp(sid.SerialNumber) == 0 {
			return cert
		}
	}
	return nil
}

// hashFromOID returns a hash for the given digest OID.
func hashFromOID(oid asn1.ObjectIdentifier) (hash.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return sha256.New(), nil
	case oid.Equal(OIDSHA384):
		return sha512.New384(), nil
	case oid.Equal(OIDSHA512):
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

// hashTypeFromOID returns the crypto.Hash for the given digest OID.
func hashTypeFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDSHA384):
		return crypto.SHA384
	case oid.Equal(OIDSHA512):
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// verifyWithPublicKey verifies a signature over digest using the public key.
func verifyWithPublicKey(pub interface{}, hashType crypto.Hash, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, hashType, digest, sig)
	default:
		return fmt.Errorf("%w: unsupported key type", ErrUnsupportedAlgorithm)
	}
}

// derSortAttributes sorts attributes by their DER encoding.
// This ensures consistent ordering as Go's asn1 package sorts SET elements.
func derSortAttributes(attrs []Attribute) []Attribute {
	type attrWithDER struct {
		attr Attribute
		der  []byte
	}
	attrsWithDER := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		attrsWithDER[i] = attrWithDER{attr: attr, der: der}
	}

	sort.Slice(attrsWithDER, func(i, j int) bool {
		return bytes.Compare(attrsWithDER[i].der, attrsWithDER[j].der) < 0
	})

	result := make([]Attribute, len(attrs))
	for i, awd := range attrsWithDER {
		result[i] = awd.attr
	}
	return result
}
