package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
)

func newTestDB(t *testing.T) storage.WalletDB {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.InitBolt(dir)
	if err != nil {
		t.Fatalf("error opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed, err := hdkeychain.GenerateSeed(32)
	if err != nil {
		t.Fatal(err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	return master
}

func TestCounterManagerDeterministic(t *testing.T) {
	db := newTestDB(t)
	master := newTestMaster(t)
	mgr := NewCounterManager(db, master)

	if !mgr.Deterministic() {
		t.Fatal("expected manager with a master key to report deterministic")
	}

	keyset := crypto.WalletKeyset{Id: "00deadbeef00", MintURL: "http://localhost:3338"}
	if err := db.SaveKeyset(&keyset); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}
	session, err := mgr.Begin(keyset.Id, 3)
	if err != nil {
		t.Fatalf("error beginning session: %v", err)
	}

	if counter := db.GetKeysetCounter(keyset.Id); counter != 3 {
		t.Fatalf("expected counter reserved eagerly to 3 but got %v", counter)
	}

	secrets := make(map[string]bool)
	for i := 0; i < 3; i++ {
		secret, idx, r, err := session.Generate()
		if err != nil {
			t.Fatalf("error generating output %d: %v", i, err)
		}
		if idx != uint32(i) {
			t.Fatalf("expected counter index %d but got %d", i, idx)
		}
		if secret == "" || r == nil {
			t.Fatal("expected non-empty secret and blinding factor")
		}
		secrets[secret] = true
	}
	if len(secrets) != 3 {
		t.Fatalf("expected 3 distinct secrets but got %d", len(secrets))
	}
	session.Commit()

	if _, _, _, err := session.Generate(); err == nil {
		t.Fatal("expected error generating beyond reserved range")
	}
}

func TestCounterManagerCancelReturnsUnused(t *testing.T) {
	db := newTestDB(t)
	master := newTestMaster(t)
	mgr := NewCounterManager(db, master)

	keysetId := "00cafe000000"
	if err := db.SaveKeyset(&crypto.WalletKeyset{Id: keysetId, MintURL: "http://localhost:3338"}); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}
	session, err := mgr.Begin(keysetId, 5)
	if err != nil {
		t.Fatalf("error beginning session: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, _, err := session.Generate(); err != nil {
			t.Fatalf("error generating output: %v", err)
		}
	}
	session.Cancel()

	if counter := db.GetKeysetCounter(keysetId); counter != 2 {
		t.Fatalf("expected counter rolled back to 2 after cancel but got %v", counter)
	}

	// Cancel is a no-op once already committed/canceled.
	session.Cancel()
	if counter := db.GetKeysetCounter(keysetId); counter != 2 {
		t.Fatalf("expected second cancel to be a no-op, counter still %v", counter)
	}
}

func TestCounterManagerNonDeterministic(t *testing.T) {
	db := newTestDB(t)
	mgr := NewCounterManager(db, nil)

	if mgr.Deterministic() {
		t.Fatal("expected manager without a master key to report non-deterministic")
	}

	keyset := crypto.WalletKeyset{Id: "00random0000"}
	session, err := mgr.Begin(keyset.Id, 2)
	if err != nil {
		t.Fatalf("error beginning session: %v", err)
	}

	secret1, counter1, r1, err := session.Generate()
	if err != nil {
		t.Fatal(err)
	}
	secret2, counter2, r2, err := session.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if counter1 != 0 || counter2 != 0 {
		t.Fatal("expected non-deterministic sessions to report counter 0")
	}
	if secret1 == secret2 {
		t.Fatal("expected distinct random secrets")
	}
	if r1.Serialize() == nil || r2.Serialize() == nil {
		t.Fatal("expected non-nil blinding factors")
	}

	// non-deterministic counter never gets persisted
	if counter := db.GetKeysetCounter(keyset.Id); counter != 0 {
		t.Fatalf("expected counter to stay 0 for non-deterministic wallet but got %v", counter)
	}
}

func TestGenerateOutputs(t *testing.T) {
	db := newTestDB(t)
	master := newTestMaster(t)
	mgr := NewCounterManager(db, master)

	keyset := crypto.WalletKeyset{Id: "00abcdef0000", MintURL: "http://localhost:3338"}
	if err := db.SaveKeyset(&keyset); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}
	amounts := cashu.AmountSplit(13)

	messages, secrets, rs, session, err := mgr.GenerateOutputs(keyset, amounts)
	if err != nil {
		t.Fatalf("error generating outputs: %v", err)
	}
	defer session.Commit()

	if len(messages) != len(amounts) || len(secrets) != len(amounts) || len(rs) != len(amounts) {
		t.Fatalf("expected %d outputs but got %d messages, %d secrets, %d blinding factors",
			len(amounts), len(messages), len(secrets), len(rs))
	}

	var total uint64
	for i, m := range messages {
		if m.Id != keyset.Id {
			t.Fatalf("expected keyset id '%v' on message but got '%v'", keyset.Id, m.Id)
		}
		total += amounts[i]
	}
	if total != 13 {
		t.Fatalf("expected outputs to split to amount 13 but summed to %d", total)
	}
}
