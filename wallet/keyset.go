package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/client"
)

// getMintActiveKeyset fetches the active keyset for unit from mc's mint.
func getMintActiveKeyset(ctx context.Context, mc *client.Client, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	keysets, err := mc.GetAllKeysets(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %v", err)
	}

	for _, keyset := range keysets.Keysets {
		if !keyset.Active || keyset.Unit != unit.String() || crypto.IsLegacyKeysetId(keyset.Id) {
			continue
		}

		keys, err := getKeysetKeys(ctx, mc, keyset.Id)
		if err != nil {
			return nil, err
		}
		return &crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mc.MintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  keys,
			InputFeePpk: keyset.InputFeePpk,
		}, nil
	}

	return nil, errors.New("could not find an active keyset for the unit")
}

// getMintInactiveKeysets fetches every known inactive keyset for unit,
// keyed by id. Keysets with legacy (non-hex) ids are filtered out: they
// can't be folded into a BIP-32 derivation index.
func getMintInactiveKeysets(ctx context.Context, mc *client.Client, unit cashu.Unit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := mc.GetAllKeysets(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if keysetRes.Active || keysetRes.Unit != unit.String() || crypto.IsLegacyKeysetId(keysetRes.Id) {
			continue
		}
		inactiveKeysets[keysetRes.Id] = crypto.WalletKeyset{
			Id:          keysetRes.Id,
			MintURL:     mc.MintURL,
			Unit:        keysetRes.Unit,
			Active:      keysetRes.Active,
			InputFeePpk: keysetRes.InputFeePpk,
		}
	}
	return inactiveKeysets, nil
}

// getKeysetKeys fetches and verifies a single keyset's public keys against
// its id: the id a mint advertises must equal the locally derived id, or
// the wallet refuses to trust the keyset.
func getKeysetKeys(ctx context.Context, mc *client.Client, id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetsResponse, err := mc.GetKeysetById(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}
	if len(keysetsResponse.Keysets) == 0 {
		return nil, fmt.Errorf("mint returned no keyset for id '%v'", id)
	}

	keys, err := crypto.MapPubKeys(keysetsResponse.Keysets[0].Keys)
	if err != nil {
		return nil, err
	}

	derivedId := crypto.DeriveKeysetId(keys)
	if id != derivedId {
		return nil, fmt.Errorf("got invalid keyset: derived id '%v' but mint reports '%v'", derivedId, id)
	}

	return keys, nil
}
