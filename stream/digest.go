package stream

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/justapithecus/smelt/types"
)

// newDigest returns a hasher for the named algorithm.
func newDigest(algo types.DigestAlgo) (hash.Hash, error) {
	switch algo {
	case types.DigestSHA256:
		return sha256.New(), nil
	case types.DigestBLAKE3:
		return blake3.New(), nil
	default:
		return nil, newTransferError(ErrDigestAlgo, "verify", fmt.Sprintf("algorithm %q", algo), nil)
	}
}

// checksum accumulates the additive 32-bit checksum over a byte stream.
// Every byte is summed into a uint32 with natural wraparound. This matches
// the checksum declared in package manifests and is a corruption tripwire,
// not a cryptographic property — the digest covers tampering.
type checksum uint32

func (c *checksum) add(p []byte) {
	sum := uint32(*c)
	for _, b := range p {
		sum += uint32(b)
	}
	*c = checksum(sum)
}

func (c checksum) value() uint32 { return uint32(c) }
