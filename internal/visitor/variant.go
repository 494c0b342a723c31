package visitor

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

// ChooseVariant deterministically picks a variant for the visitor. The bucket is the
// first 32 bits of md5(split+visitorID) modulo the total weight, walked over variants
// in name order, so every client computing it for the same inputs agrees.
func ChooseVariant(visitorID, split string, weights domain.Weights) (string, error) {
	if len(weights) == 0 {
		return "", fmt.Errorf("split %q: %w", split, domain.ErrUnknownSplit)
	}

	variants := make([]string, 0, len(weights))
	var total uint64
	for name, w := range weights {
		if w < 0 {
			return "", fmt.Errorf("split %q variant %q has negative weight: %w", split, name, domain.ErrInvalidSplit)
		}
		variants = append(variants, name)
		var carry uint64
		total, carry = bits.Add64(total, uint64(w), 0)
		if carry != 0 {
			return "", fmt.Errorf("split %q total weight overflows: %w", split, domain.ErrInvalidSplit)
		}
	}
	if total == 0 {
		return "", fmt.Errorf("split %q has no weight: %w", split, domain.ErrInvalidSplit)
	}
	slices.Sort(variants)

	bucket := uint64(hashBucket(visitorID, split)) % total
	for _, name := range variants {
		w := uint64(weights[name])
		if bucket < w {
			return name, nil
		}
		bucket -= w
	}

	panic("unreachable: bucket exceeds total weight")
}

func hashBucket(visitorID, split string) uint32 {
	sum := md5.Sum([]byte(split + visitorID))
	return binary.BigEndian.Uint32(sum[:4])
}
