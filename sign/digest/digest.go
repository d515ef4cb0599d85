// Package digest resolves digest algorithm identifiers to streaming hash
// implementations for signature verification.
//
// The common algorithms are matched by symbolic name or dotted OID. The
// GOST R 34.11-2012 (Streebog) family is recognized by name, by OID and by
// OID prefix, but its implementation is pluggable: it becomes available only
// after registration, normally through a blank import of sign/digest/gost.
// An identifier that is recognized but has no registered implementation is a
// distinguishable error, not a fatal one, so callers can report the missing
// capability instead of a generic failure.
package digest

import (
	"crypto/md5"  //nolint:gosec // verification of legacy containers
	"crypto/sha1" //nolint:gosec // verification of legacy containers
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"
)

// ChunkSize is the fixed read size used when digesting a document stream.
const ChunkSize = 8192

// Canonical algorithm names.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA224 = "sha224"
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"

	Streebog256 = "streebog256"
	Streebog512 = "streebog512"
)

// GOSTOIDPrefix is the OID arc of the GOST R 34.11-2012 digest family.
const GOSTOIDPrefix = "1.2.643.7.1.1.2."

// UnsupportedAlgorithmError reports an identifier that cannot be resolved.
// National is set when the identifier belongs to the GOST R 34.11-2012
// family but no implementation has been registered.
type UnsupportedAlgorithmError struct {
	Identifier string
	National   bool
}

func (e *UnsupportedAlgorithmError) Error() string {
	if e.National {
		return fmt.Sprintf("digest: algorithm %q is GOST R 34.11-2012 (Streebog) but no implementation is registered", e.Identifier)
	}
	return fmt.Sprintf("digest: unknown algorithm %q", e.Identifier)
}

// Algorithm is a resolved digest algorithm.
type Algorithm struct {
	Name    string
	newHash func() hash.Hash
}

// New returns a fresh hash instance.
func (a Algorithm) New() hash.Hash {
	return a.newHash()
}

// Sum digests the full stream in fixed ChunkSize reads, bounding memory
// regardless of document size.
func (a Algorithm) Sum(r io.Reader) ([]byte, error) {
	h := a.newHash()
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}
	}
	return h.Sum(nil), nil
}

// builtin maps normalized identifiers of the common family to constructors.
var builtin = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA224: sha256.New224,
	SHA256: sha256.New,
	SHA384: sha512.New384,
	SHA512: sha512.New,

	"1.2.840.113549.2.5":     md5.New,
	"1.3.14.3.2.26":          sha1.New,
	"2.16.840.1.101.3.4.2.4": sha256.New224,
	"2.16.840.1.101.3.4.2.1": sha256.New,
	"2.16.840.1.101.3.4.2.2": sha512.New384,
	"2.16.840.1.101.3.4.2.3": sha512.New,
}

// gostAliases maps the spellings of the national family to canonical names.
var gostAliases = map[string]string{
	Streebog256: Streebog256,
	Streebog512: Streebog512,

	"1.2.643.7.1.1.2.2": Streebog256,
	"1.2.643.7.1.1.2.3": Streebog512,

	"id-tc26-gost3411-12-256": Streebog256,
	"id-tc26-gost3411-12-512": Streebog512,

	"gost3411-2012-256": Streebog256,
	"gost3411-2012-512": Streebog512,
	"gost3411_2012_256": Streebog256,
	"gost3411_2012_512": Streebog512,
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() hash.Hash{}
)

// Register makes a hash constructor available under a canonical name.
// It is intended to be called from an init function of an enabling package.
func Register(name string, fn func() hash.Hash) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = fn
}

// Registered reports whether an implementation is registered under name.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// IsNational reports whether the identifier belongs to the GOST R 34.11-2012
// family, by alias or OID prefix.
func IsNational(identifier string) bool {
	norm := normalize(identifier)
	if _, ok := gostAliases[norm]; ok {
		return true
	}
	return strings.HasPrefix(norm, GOSTOIDPrefix)
}

// Resolve maps a symbolic name or dotted OID to an Algorithm.
func Resolve(identifier string) (Algorithm, error) {
	norm := normalize(identifier)

	if fn, ok := builtin[norm]; ok {
		return Algorithm{Name: canonicalBuiltinName(norm), newHash: fn}, nil
	}

	canonical, national := gostAliases[norm]
	if !national && strings.HasPrefix(norm, GOSTOIDPrefix) {
		// Unlisted arcs under the family prefix default to the 256-bit width.
		canonical = Streebog256
		national = true
	}
	if national {
		registryMu.RLock()
		fn, ok := registry[canonical]
		registryMu.RUnlock()
		if !ok {
			return Algorithm{}, &UnsupportedAlgorithmError{Identifier: identifier, National: true}
		}
		return Algorithm{Name: canonical, newHash: fn}, nil
	}

	return Algorithm{}, &UnsupportedAlgorithmError{Identifier: identifier}
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// canonicalBuiltinName collapses OID spellings to the symbolic name.
func canonicalBuiltinName(norm string) string {
	switch norm {
	case "1.2.840.113549.2.5":
		return MD5
	case "1.3.14.3.2.26":
		return SHA1
	case "2.16.840.1.101.3.4.2.4":
		return SHA224
	case "2.16.840.1.101.3.4.2.1":
		return SHA256
	case "2.16.840.1.101.3.4.2.2":
		return SHA384
	case "2.16.840.1.101.3.4.2.3":
		return SHA512
	default:
		return norm
	}
}
