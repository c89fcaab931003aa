package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/crypto"
)

func mustRandomPrivKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	pk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return pk
}

func mustParsePubKey(t *testing.T, hexKey string) *secp256k1.PublicKey {
	t.Helper()
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		t.Fatal(err)
	}
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		t.Fatal(err)
	}
	return pk
}

// keysetWithAmounts builds a throwaway keyset with a mint keypair per
// amount, mirroring the way a mint derives one private key per
// denomination (see crypto.GenerateKeyset in the mint-side teacher code).
func keysetWithAmounts(t *testing.T, id string, amounts []uint64) (crypto.WalletKeyset, map[uint64]*secp256k1.PrivateKey) {
	t.Helper()
	pubs := make(map[uint64]*secp256k1.PublicKey, len(amounts))
	privs := make(map[uint64]*secp256k1.PrivateKey, len(amounts))
	for _, amount := range amounts {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		privs[amount] = priv
		pubs[amount] = priv.PubKey()
	}
	return crypto.WalletKeyset{Id: id, Unit: cashu.Sat.String(), Active: true, PublicKeys: pubs}, privs
}

func TestConstructProofsRoundTrip(t *testing.T) {
	keyset, privs := keysetWithAmounts(t, "00deadbeef00", []uint64{1, 2, 8})
	w := &SingleMintWallet{MintURL: "http://localhost:3338", Unit: cashu.Sat, active: keyset}

	amounts := []uint64{1, 2, 8}
	messages := make(cashu.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))
	sigs := make(cashu.BlindedSignatures, len(amounts))

	for i, amount := range amounts {
		secret := "secret-" + string(rune('a'+i))
		r, err := crypto.RandomBlindingFactor()
		if err != nil {
			t.Fatal(err)
		}
		B_, rpriv := crypto.BlindMessage([]byte(secret), r.Serialize())

		secrets[i] = secret
		rs[i] = rpriv
		messages[i] = cashu.BlindedMessage{Amount: amount, Id: keyset.Id}

		C_ := crypto.SignBlindedMessage(B_, privs[amount])
		sigs[i] = cashu.BlindedSignature{
			Amount: amount,
			Id:     keyset.Id,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
		}
	}

	proofs, err := w.constructProofs(sigs, messages, secrets, rs)
	if err != nil {
		t.Fatalf("error constructing proofs: %v", err)
	}
	if len(proofs) != len(amounts) {
		t.Fatalf("expected %d proofs but got %d", len(amounts), len(proofs))
	}

	for i, p := range proofs {
		if !crypto.Verify([]byte(secrets[i]), privs[amounts[i]], mustParsePubKey(t, p.C)) {
			t.Fatalf("proof %d did not verify against the mint's own key", i)
		}
	}
}

func TestConstructProofsUnknownKeyset(t *testing.T) {
	keyset, _ := keysetWithAmounts(t, "00deadbeef00", []uint64{1})
	w := &SingleMintWallet{MintURL: "http://localhost:3338", Unit: cashu.Sat, active: keyset}

	sigs := cashu.BlindedSignatures{{Amount: 1, Id: "unknownkeyset", C_: "02" + strings.Repeat("0", 64)}}
	messages := cashu.BlindedMessages{{Amount: 1, Id: "unknownkeyset"}}
	secrets := []string{"s"}
	rs := []*secp256k1.PrivateKey{mustRandomPrivKey(t)}

	if _, err := w.constructProofs(sigs, messages, secrets, rs); err == nil {
		t.Fatal("expected error for signature from unknown keyset")
	}
}

func TestConstructProofsMissingAmount(t *testing.T) {
	keyset, _ := keysetWithAmounts(t, "00deadbeef00", []uint64{1})
	w := &SingleMintWallet{MintURL: "http://localhost:3338", Unit: cashu.Sat, active: keyset}

	sigs := cashu.BlindedSignatures{{Amount: 999, Id: keyset.Id, C_: "02" + strings.Repeat("0", 64)}}
	messages := cashu.BlindedMessages{{Amount: 999, Id: keyset.Id}}
	secrets := []string{"s"}
	rs := []*secp256k1.PrivateKey{mustRandomPrivKey(t)}

	if _, err := w.constructProofs(sigs, messages, secrets, rs); err == nil {
		t.Fatal("expected error for signature of an amount the keyset has no key for")
	}
}

func TestKeysetById(t *testing.T) {
	active, _ := keysetWithAmounts(t, "00active000000", []uint64{1})
	inactive, _ := keysetWithAmounts(t, "00inactive0000", []uint64{1})
	w := &SingleMintWallet{
		active:   active,
		inactive: map[string]crypto.WalletKeyset{inactive.Id: inactive},
	}

	if got := w.keysetById(active.Id); got == nil || got.Id != active.Id {
		t.Fatalf("expected to find active keyset by id")
	}
	if got := w.keysetById(inactive.Id); got == nil || got.Id != inactive.Id {
		t.Fatalf("expected to find inactive keyset by id")
	}
	if got := w.keysetById("does-not-exist"); got != nil {
		t.Fatal("expected nil for unknown keyset id")
	}
}

func TestSendExactAmountSkipsSwap(t *testing.T) {
	w := &SingleMintWallet{MintURL: "http://localhost:3338", Unit: cashu.Sat}

	available := cashu.Proofs{
		{Amount: 4, Id: "ks", Secret: "a", C: "c1"},
		{Amount: 8, Id: "ks", Secret: "b", C: "c2"},
	}

	toSend, toKeep, err := w.Send(context.Background(), 4, available, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(toSend) != 1 || toSend[0].Amount != 4 {
		t.Fatalf("expected to send the single 4-amount proof, got %+v", toSend)
	}
	if len(toKeep) != 1 || toKeep[0].Amount != 8 {
		t.Fatalf("expected to keep the 8-amount proof, got %+v", toKeep)
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	w := &SingleMintWallet{MintURL: "http://localhost:3338", Unit: cashu.Sat}
	available := cashu.Proofs{{Amount: 2, Id: "ks", Secret: "a", C: "c1"}}

	if _, _, err := w.Send(context.Background(), 100, available, 0, true); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds but got %v", err)
	}
}

func TestSelectSendProofsExactMatchShortcut(t *testing.T) {
	available := cashu.Proofs{
		{Amount: 1, Secret: "a"},
		{Amount: 2, Secret: "b"},
		{Amount: 8, Secret: "c"},
		{Amount: 16, Secret: "d"},
	}

	selected, remaining, err := selectSendProofs(available, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected.Amount()+remaining.Amount() != available.Amount() {
		t.Fatal("selected+remaining must equal the original total")
	}

	// an exact-amount proof short-circuits selection to just that proof
	if len(selected) != 1 || selected[0].Amount != 16 {
		t.Fatalf("expected the single 16-amount proof to be selected, got %+v", selected)
	}
}

func TestSelectSendProofsAccumulatesStoredOrder(t *testing.T) {
	available := cashu.Proofs{
		{Amount: 1, Secret: "a"},
		{Amount: 2, Secret: "b"},
		{Amount: 8, Secret: "c"},
	}

	// no single proof equals 9, so selection walks stored order accumulating
	// the smallest covering prefix: 1+2+8=11 >= 9
	selected, remaining, err := selectSendProofs(available, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 3 || selected.Amount() != 11 {
		t.Fatalf("expected the full stored-order prefix to be selected, got %+v", selected)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no proofs left over, got %+v", remaining)
	}
}

func TestSelectSendProofsInsufficientFunds(t *testing.T) {
	available := cashu.Proofs{{Amount: 2, Secret: "a"}}
	if _, _, err := selectSendProofs(available, 100); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds but got %v", err)
	}
}
