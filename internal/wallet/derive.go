// Package wallet derives deposit addresses from store xpubs and hands out
// the next unused one per store and coin.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidIndex = errors.New("derivation index out of range")

// Deriver maps an account xpub and an address index to a checksummed
// address.
type Deriver func(xpub string, index int64) (string, error)

// Derive returns the address at external chain index below the account
// xpub, i.e. <account>/0/index.
func Derive(xpub string, index int64) (string, error) {
	if index < 0 || index >= int64(hdkeychain.HardenedKeyStart) {
		return "", fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	account, err := hdkeychain.NewKeyFromString(strings.TrimSpace(xpub))
	if err != nil {
		return "", fmt.Errorf("parse xpub: %w", err)
	}
	if account.IsPrivate() {
		if account, err = account.Neuter(); err != nil {
			return "", fmt.Errorf("neuter key: %w", err)
		}
	}

	external, err := account.Derive(0)
	if err != nil {
		return "", fmt.Errorf("derive external chain: %w", err)
	}
	child, err := external.Derive(uint32(index))
	if err != nil {
		return "", fmt.Errorf("derive index %d: %w", index, err)
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("public key at %d: %w", index, err)
	}

	uncompressed := pub.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:]).Hex(), nil
}
