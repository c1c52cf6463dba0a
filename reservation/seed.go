package reservation

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// walletHash folds a wallet address into a stable 64-bit value.
func walletHash(walletAddress string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(walletAddress))
	return h.Sum64()
}

// WalletSeed normalises the wallet hash into [-1, 1). This is the value that
// seeds the candidate shuffle, and it also shows up in debug logs so the
// per-wallet ordering is easy to eyeball.
func WalletSeed(walletAddress string) float64 {
	hash := walletHash(walletAddress)
	scaled := int32(hash%uint64(math.MaxInt32)) - math.MaxInt32/2
	seed := float64(scaled) / float64(math.MaxInt32)
	if seed == 0 {
		return -1
	}
	return seed
}

// newWalletRand returns a deterministic source seeded from the normalised
// wallet value. Repeated allocation attempts by the same wallet traverse
// candidates in the same order; different wallets get different shuffles.
func newWalletRand(walletAddress string) *rand.Rand {
	return rand.New(rand.NewSource(int64(math.Float64bits(WalletSeed(walletAddress)))))
}
