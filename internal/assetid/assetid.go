// Package assetid validates asset identifiers at the ingestion boundary
// so malformed addresses never become dedup keys.
package assetid

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ChainSolana is the only chain with structural address validation;
// other chains fall back to a non-empty check.
const ChainSolana = "solana"

// ErrInvalidAsset is returned for a malformed asset identifier.
var ErrInvalidAsset = errors.New("invalid asset identifier")

// Validate checks an asset identifier for the given chain. Solana
// addresses must be base58-encoded 32-byte values; mint addresses are
// additionally required to be valid curve points.
func Validate(asset, chain string) error {
	if asset == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAsset)
	}
	if chain != ChainSolana {
		return nil
	}

	decoded, err := base58.Decode(asset)
	if err != nil {
		return fmt.Errorf("%w: %s: not base58", ErrInvalidAsset, asset)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: %s: decoded length %d, want 32", ErrInvalidAsset, asset, len(decoded))
	}
	if !isOnCurve(decoded) {
		return fmt.Errorf("%w: %s: not an ed25519 curve point", ErrInvalidAsset, asset)
	}
	return nil
}

// IsOnCurve reports whether a Solana address decodes to a valid
// ed25519 curve point. Mint and wallet addresses are on-curve; program
// derived addresses are not.
func IsOnCurve(asset string) bool {
	decoded, err := base58.Decode(asset)
	if err != nil || len(decoded) != 32 {
		return false
	}
	return isOnCurve(decoded)
}

func isOnCurve(decoded []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
