package sql

import (
	"log"
	"math/rand/v2"
	"os"
	"reflect"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut04"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut05"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
)

var db *DB

func TestMain(m *testing.M) {
	code, err := testMain(m)
	if err != nil {
		log.Println(err)
	}
	os.Exit(code)
}

func testMain(m *testing.M) (int, error) {
	dbpath := "./testdbsql"
	if err := os.MkdirAll(dbpath, 0750); err != nil {
		return 1, err
	}
	defer os.RemoveAll(dbpath)

	var err error
	db, err = Init(dbpath)
	if err != nil {
		return 1, err
	}
	defer db.Close()

	return m.Run(), nil
}

func TestSeed(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := []byte{1, 2, 3, 4, 5}
	db.SaveMnemonicSeed(mnemonic, seed)

	if got := db.GetMnemonic(); got != mnemonic {
		t.Fatalf("expected mnemonic '%v' but got '%v'", mnemonic, got)
	}
	if got := db.GetSeed(); !reflect.DeepEqual(got, seed) {
		t.Fatalf("expected seed '%v' but got '%v'", seed, got)
	}
}

func TestProofs(t *testing.T) {
	keysetId := "keysetId12345"
	numProofs := 25
	proofs := generateRandomProofs(keysetId, numProofs)

	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}

	fromDb := db.GetProofsByKeysetId(keysetId)
	if len(fromDb) != numProofs {
		t.Fatalf("expected '%v' proofs but got '%v'", numProofs, len(fromDb))
	}

	if err := db.DeleteProof(proofs[0].Secret); err != nil {
		t.Fatalf("error deleting proof: %v", err)
	}
	fromDb = db.GetProofsByKeysetId(keysetId)
	if len(fromDb) != numProofs-1 {
		t.Fatalf("expected '%v' proofs after delete but got '%v'", numProofs-1, len(fromDb))
	}
}

func TestPendingProofs(t *testing.T) {
	keysetId := "keysetId12345"
	quoteId := "quoteId12345"
	proofs := generateRandomProofs(keysetId, 10)

	if err := db.AddPendingProofsByQuoteId(proofs, quoteId); err != nil {
		t.Fatalf("error saving pending proofs: %v", err)
	}

	pending := db.GetPendingProofsByQuoteId(quoteId)
	if len(pending) != len(proofs) {
		t.Fatalf("expected '%v' pending proofs but got '%v'", len(proofs), len(pending))
	}

	if err := db.DeletePendingProofsByQuoteId(quoteId); err != nil {
		t.Fatalf("error deleting pending proofs: %v", err)
	}
	pending = db.GetPendingProofsByQuoteId(quoteId)
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending proofs but got '%v'", len(pending))
	}
}

func TestKeysets(t *testing.T) {
	ks := generateKeyset("http://localhost:3338")
	if err := db.SaveKeyset(&ks); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	fromDb := db.GetKeyset(ks.Id)
	if fromDb == nil {
		t.Fatal("expected keyset but got nil")
	}
	if fromDb.MintURL != ks.MintURL || fromDb.InputFeePpk != ks.InputFeePpk {
		t.Fatalf("keyset from db does not match saved keyset: %+v vs %+v", fromDb, ks)
	}

	if err := db.IncrementKeysetCounter(ks.Id, 7); err != nil {
		t.Fatalf("error incrementing counter: %v", err)
	}
	if counter := db.GetKeysetCounter(ks.Id); counter != 7 {
		t.Fatalf("expected counter 7 but got %v", counter)
	}

	if err := db.IncrementKeysetCounter("nonexistent", 1); err == nil {
		t.Fatal("expected error incrementing counter of unknown keyset")
	}
}

func TestMintQuotesWithLock(t *testing.T) {
	pk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	quote := storage.MintQuote{
		QuoteId:    "quote-locked",
		Mint:       "http://localhost:3338",
		Method:     "bolt11",
		State:      nut04.Unpaid,
		Amount:     100,
		PrivateKey: pk,
	}
	if err := db.SaveMintQuote(quote); err != nil {
		t.Fatalf("error saving mint quote: %v", err)
	}

	fromDb := db.GetMintQuoteById(quote.QuoteId)
	if fromDb == nil {
		t.Fatal("expected quote but got nil")
	}
	if fromDb.PrivateKey == nil {
		t.Fatal("expected private key to round-trip but got nil")
	}
	if !reflect.DeepEqual(pk.Serialize(), fromDb.PrivateKey.Serialize()) {
		t.Fatal("private key from db does not match saved one")
	}
}

func TestMeltQuotes(t *testing.T) {
	quote := storage.MeltQuote{
		QuoteId:    "melt-quote-1",
		Mint:       "http://localhost:3338",
		Method:     "bolt11",
		State:      nut05.Unpaid,
		Amount:     50,
		FeeReserve: 2,
	}
	if err := db.SaveMeltQuote(quote); err != nil {
		t.Fatalf("error saving melt quote: %v", err)
	}

	fromDb := db.GetMeltQuoteById(quote.QuoteId)
	if fromDb == nil {
		t.Fatal("expected quote but got nil")
	}
	if fromDb.Amount != quote.Amount || fromDb.FeeReserve != quote.FeeReserve {
		t.Fatalf("melt quote from db does not match saved one: %+v vs %+v", fromDb, quote)
	}
}

func TestTransactions(t *testing.T) {
	txn := storage.Transaction{
		Id:             "txn-1",
		Kind:           storage.LightningTx,
		Direction:      storage.In,
		Status:         storage.Pending,
		Mint:           "http://localhost:3338",
		Unit:           cashu.Sat.String(),
		Amount:         100,
		Memo:           "for coffee",
		Info:           "note-to-self",
		TokenString:    "cashuBtoken...",
		TokenProofYs:   []string{"y1", "y2"},
		PaymentExpired: true,
	}
	if err := db.SaveTransaction(txn); err != nil {
		t.Fatalf("error saving transaction: %v", err)
	}

	fromDb := db.GetTransactionById(txn.Id)
	if fromDb == nil {
		t.Fatal("expected transaction but got nil")
	}
	if !fromDb.PaymentExpired {
		t.Fatal("expected PaymentExpired to round-trip as true")
	}
	if fromDb.Status != storage.Pending {
		t.Fatalf("expected status %q but got %q", storage.Pending, fromDb.Status)
	}
	if fromDb.Memo != txn.Memo || fromDb.Info != txn.Info || fromDb.TokenString != txn.TokenString {
		t.Fatalf("memo/info/token_string did not round-trip: %+v", fromDb)
	}
	if !reflect.DeepEqual(fromDb.TokenProofYs, txn.TokenProofYs) {
		t.Fatalf("token proof Ys do not match: %v vs %v", fromDb.TokenProofYs, txn.TokenProofYs)
	}

	pending := db.GetPendingTransactions()
	if len(pending) != 1 || pending[0].Id != txn.Id {
		t.Fatalf("expected exactly the pending transaction back, got %+v", pending)
	}

	txn.Status = storage.Success
	if err := db.SaveTransaction(txn); err != nil {
		t.Fatalf("error updating transaction status: %v", err)
	}
	if len(db.GetPendingTransactions()) != 0 {
		t.Fatal("expected no pending transactions after marking success")
	}
}

func generateRandomString(length int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func generateRandomProofs(keysetId string, num int) cashu.Proofs {
	proofs := make(cashu.Proofs, num)
	for i := 0; i < num; i++ {
		proofs[i] = cashu.Proof{
			Amount: 21,
			Id:     keysetId,
			Secret: generateRandomString(64),
			C:      generateRandomString(64),
		}
	}
	return proofs
}

func generateKeyset(mint string) crypto.WalletKeyset {
	return crypto.WalletKeyset{
		Id:          generateRandomString(32),
		MintURL:     mint,
		Unit:        cashu.Sat.String(),
		Active:      true,
		PublicKeys:  make(map[uint64]*secp256k1.PublicKey),
		InputFeePpk: 100,
	}
}
