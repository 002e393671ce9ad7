package model

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Seed tags used to derive well-known locations.
const (
	SeedPool    = "bonding_curve"
	SeedCustody = "custody"
	SeedAsset   = "asset"
)

var addressDomain = []byte("curve-engine/address/v1")

// DeriveAddress deterministically maps seeds to an address:
// BLAKE3(domain || len(seed_0) || seed_0 || ...). Length prefixes keep
// ("ab","c") and ("a","bc") apart.
func DeriveAddress(seeds ...[]byte) Address {
	h := blake3.New()
	h.Write(addressDomain)
	var n [4]byte
	for _, s := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write(s)
	}
	var addr Address
	h.Digest().Read(addr[:])
	return addr
}

// PoolAddress returns the pool location for an asset.
func PoolAddress(asset Address) Address {
	return DeriveAddress([]byte(SeedPool), asset[:])
}

// CustodyAddress returns the holding location of owner for asset.
func CustodyAddress(owner, asset Address) Address {
	return DeriveAddress([]byte(SeedCustody), owner[:], asset[:])
}
