// Package gost registers the GOST R 34.11-2012 (Streebog) digest family.
//
// Import it for its side effects to make Streebog resolvable:
//
//	import _ "github.com/belogpt/ecp/sign/digest/gost"
package gost

import (
	"hash"

	"go.cypherpunks.ru/gogost/v5/gost34112012256"
	"go.cypherpunks.ru/gogost/v5/gost34112012512"

	"github.com/belogpt/ecp/sign/digest"
)

func init() {
	digest.Register(digest.Streebog256, func() hash.Hash { return gost34112012256.New() })
	digest.Register(digest.Streebog512, func() hash.Hash { return gost34112012512.New() })
}
