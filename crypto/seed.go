package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ownerPurpose and ownerCoinType fix the BIP-32 prefix "m/129372'/0'" that
// identifies which mnemonic owns a counter record, per NUT-13. Keyset,
// secret and blinding-factor paths all descend from here.
const (
	ownerPurpose  = hdkeychain.HardenedKeyStart + 129372
	ownerCoinType = hdkeychain.HardenedKeyStart + 0
)

// DeriveKeysetPath returns the extended key at m/129372'/0'/<keysetIdInt>'
// for a hex keyset id, the subtree every counter for that keyset descends
// from. keysetIdInt folds the id's first 8 bytes into the 31-bit hardened
// index space the same way NUT-13 does.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		return nil, err
	}
	if len(keysetBytes) < 8 {
		padded := make([]byte, 8)
		copy(padded[8-len(keysetBytes):], keysetBytes)
		keysetBytes = padded
	}
	keysetIdInt := binary.BigEndian.Uint64(keysetBytes[:8]) % (1<<31 - 1)

	purpose, err := master.Derive(ownerPurpose)
	if err != nil {
		return nil, err
	}

	coinType, err := purpose.Derive(ownerCoinType)
	if err != nil {
		return nil, err
	}

	return coinType.Derive(hdkeychain.HardenedKeyStart + uint32(keysetIdInt))
}

// DeriveSecret derives the hex-encoded secret string for the output at
// index counter within a keyset path, at m/.../counter'/0.
func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return "", err
	}

	secretPath, err := counterPath.Derive(0)
	if err != nil {
		return "", err
	}

	secretKey, err := secretPath.ECPrivKey()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(secretKey.Serialize()), nil
}

// DeriveBlindingFactor derives the private scalar r for the output at index
// counter within a keyset path, at m/.../counter'/1.
func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (*secp256k1.PrivateKey, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}

	rPath, err := counterPath.Derive(1)
	if err != nil {
		return nil, err
	}

	return rPath.ECPrivKey()
}

// DeriveOwnerPubkey derives the fixed m/129372'/0' public key that
// identifies which mnemonic a CounterRecord belongs to. It never descends
// into a specific keyset or counter, so it is stable for the lifetime of a
// mnemonic regardless of which mints or keysets the wallet later talks to.
func DeriveOwnerPubkey(master *hdkeychain.ExtendedKey) (*secp256k1.PublicKey, error) {
	purpose, err := master.Derive(ownerPurpose)
	if err != nil {
		return nil, err
	}

	coinType, err := purpose.Derive(ownerCoinType)
	if err != nil {
		return nil, err
	}

	return coinType.ECPubKey()
}

// OwnerPubkeyHex derives and hex-encodes DeriveOwnerPubkey's result, the
// form CounterRecord.owner_pubkey is persisted in.
func OwnerPubkeyHex(master *hdkeychain.ExtendedKey) (string, error) {
	pub, err := DeriveOwnerPubkey(master)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// RandomSecret and RandomBlindingFactor back non-deterministic wallets
// (no mnemonic): every output gets fresh, unrecoverable entropy, and no
// CounterRecord is ever written for them (spec §4.1).
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func RandomBlindingFactor() (*secp256k1.PrivateKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}
