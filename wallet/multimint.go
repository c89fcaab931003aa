package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut07"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// MultiMintWallet coordinates several SingleMintWallets sharing one mnemonic
// and one Store. It is the wallet-facing surface most callers use: balance
// tracking, cross-mint token receipt, send selection, and melt all happen
// here, with each mint's own protocol chatter delegated to its
// SingleMintWallet.
type MultiMintWallet struct {
	mu    sync.RWMutex
	mints map[string]*SingleMintWallet

	db       storage.WalletDB
	mnemonic string
	master   *hdkeychain.ExtendedKey
	logger   *slog.Logger
}

// NewMultiMintWallet constructs a wallet over db. If db already has a
// stored mnemonic it's used (mnemonic argument is ignored); otherwise, a
// non-empty mnemonic is persisted as the wallet's seed, and an empty one
// means a non-deterministic wallet (random, unrecoverable secrets).
func NewMultiMintWallet(db storage.WalletDB, mnemonic string) (*MultiMintWallet, error) {
	w := &MultiMintWallet{mints: make(map[string]*SingleMintWallet), db: db}

	existing := db.GetMnemonic()
	if existing != "" {
		mnemonic = existing
	}

	if mnemonic != "" {
		if !bip39.IsMnemonicValid(mnemonic) {
			return nil, fmt.Errorf("invalid mnemonic")
		}
		seed := bip39.NewSeed(mnemonic, "")
		master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
		if err != nil {
			return nil, CryptoError{Op: "derive master key", Err: err}
		}
		w.master = master
		w.mnemonic = mnemonic

		if existing == "" {
			db.SaveMnemonicSeed(mnemonic, seed)
			pubkeyHex, err := crypto.OwnerPubkeyHex(master)
			if err != nil {
				return nil, CryptoError{Op: "derive owner pubkey", Err: err}
			}
			db.SaveOwnerPubkey(pubkeyHex)
		}
	}

	for mintURL := range db.GetKeysets() {
		if err := w.AddMint(context.Background(), mintURL, true, nil, true); err != nil {
			return nil, fmt.Errorf("error reconnecting to mint '%s': %v", mintURL, err)
		}
	}

	return w, nil
}

// UpdateMnemonic replaces the wallet's seed going forward. Existing
// CounterRecords keep their old owner_pubkey; only newly opened CountSessions
// use the new master key. Callers that need a full re-key should restore
// into a fresh wallet instead.
func (w *MultiMintWallet) UpdateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return CryptoError{Op: "derive master key", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.master = master
	w.mnemonic = mnemonic
	w.db.SaveMnemonicSeed(mnemonic, seed)

	pubkeyHex, err := crypto.OwnerPubkeyHex(master)
	if err != nil {
		return CryptoError{Op: "derive owner pubkey", Err: err}
	}
	w.db.SaveOwnerPubkey(pubkeyHex)

	for url, smw := range w.mints {
		w.mints[url] = smw.withCounter(NewCounterManager(w.db, master))
	}
	return nil
}

// withCounter returns a shallow copy of smw using a different CounterManager.
func (smw *SingleMintWallet) withCounter(cm *CounterManager) *SingleMintWallet {
	clone := *smw
	clone.counter = cm
	return &clone
}

// AddMint registers mintURL, unless it's already present and reconnect is
// false. The mint's wallet is built for acceptedUnits[0] only; further
// entries are ignored, and nil/empty means cashu.Sat.
func (w *MultiMintWallet) AddMint(ctx context.Context, mintURL string, reconnect bool,
	acceptedUnits []cashu.Unit, existing bool) error {

	w.mu.Lock()
	if _, ok := w.mints[mintURL]; ok && !reconnect {
		w.mu.Unlock()
		return fmt.Errorf("mint '%s' already present", mintURL)
	}
	w.mu.Unlock()

	if len(acceptedUnits) == 0 {
		acceptedUnits = []cashu.Unit{cashu.Sat}
	}

	smw, err := NewSingleMintWallet(ctx, mintURL, acceptedUnits[0], w.db, w.master)
	if err != nil {
		w.logErrorf("error adding mint '%s': %v", mintURL, err)
		return err
	}

	w.mu.Lock()
	w.mints[mintURL] = smw
	w.mu.Unlock()
	w.logInfof("added mint '%s' (unit %s)", mintURL, acceptedUnits[0])
	return nil
}

// RemoveMint forgets a mint locally. It does not attempt to spend or
// reclaim any proofs still stored for it.
func (w *MultiMintWallet) RemoveMint(mintURL string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.mints[mintURL]; !ok {
		return ErrMintUrlUnmatched
	}
	delete(w.mints, mintURL)
	return nil
}

func (w *MultiMintWallet) mint(mintURL string) (*SingleMintWallet, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	smw, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintUrlUnmatched
	}
	return smw, nil
}

// Balance returns the total unspent proof amount stored for one mint+unit.
func (w *MultiMintWallet) Balance(mintURL string, unit cashu.Unit) uint64 {
	var total uint64
	keysets := w.db.GetKeysets()[mintURL]
	ids := make(map[string]bool, len(keysets))
	for _, ks := range keysets {
		if ks.Unit == unit.String() {
			ids[ks.Id] = true
		}
	}
	for _, p := range w.db.GetProofs() {
		if ids[p.Id] {
			total += p.Amount
		}
	}
	return total
}

// MintBalance pairs a mint URL, unit, and its unspent total.
type MintBalance struct {
	Mint   string
	Unit   string
	Amount uint64
}

// Balances returns every known (mint, unit) pair's balance.
func (w *MultiMintWallet) Balances() []MintBalance {
	unitsByMint := make(map[string]map[string]bool)
	for mintURL, keysets := range w.db.GetKeysets() {
		units := make(map[string]bool)
		for _, ks := range keysets {
			units[ks.Unit] = true
		}
		unitsByMint[mintURL] = units
	}

	var out []MintBalance
	for mintURL, units := range unitsByMint {
		for unit := range units {
			out = append(out, MintBalance{Mint: mintURL, Unit: unit, Amount: w.Balance(mintURL, cashu.NewUnit(unit))})
		}
	}
	return out
}

// ReceiveTokens decodes and redeems a Cashu token, swapping its proofs into
// this wallet's own blinding material so the sender can no longer
// double-spend them, then persists them and one CashuTx(in) record per
// per-mint piece. A TokenV3 can legally carry several pieces (one per
// mint, §6); each is resolved, swapped and logged independently, and a
// piece whose mint this wallet doesn't have fails the whole call. See
// spec.md §4.4.
func (w *MultiMintWallet) ReceiveTokens(ctx context.Context, tokenStr string) (uint64, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, piece := range token.Pieces() {
		if len(piece.Proofs) == 0 {
			continue
		}

		smw, err := w.mint(piece.Mint)
		if err != nil {
			return total, err
		}

		received, err := smw.trySwap(ctx, piece.Proofs, cashu.AmountSplit(piece.Proofs.Amount()))
		if err != nil {
			w.logErrorf("error receiving token piece from '%s': %v", piece.Mint, err)
			return total, err
		}

		if err := w.db.SaveProofs(received); err != nil {
			return total, StoreError{Op: "save received proofs", Err: err}
		}

		pieceToken, err := cashu.NewTokenV3(piece.Proofs, piece.Mint, cashu.NewUnit(token.GetUnit()), false)
		if err != nil {
			return total, err
		}
		pieceToken.Memo = token.GetMemo()
		serialized, err := pieceToken.Serialize()
		if err != nil {
			return total, err
		}

		txn := storage.Transaction{
			Id:           cashuTxId(serialized),
			Kind:         storage.CashuTx,
			Direction:    storage.In,
			Status:       storage.Success,
			Mint:         piece.Mint,
			Unit:         token.GetUnit(),
			Amount:       received.Amount(),
			Memo:         token.GetMemo(),
			TokenString:  serialized,
			TokenProofYs: proofYs(received),
		}
		if err := w.db.SaveTransaction(txn); err != nil {
			return total, StoreError{Op: "save receive transaction", Err: err}
		}

		total += received.Amount()
		w.logInfof("received %d from '%s'", received.Amount(), piece.Mint)
	}

	return total, nil
}

// chooseMintForSend resolves which mint to spend from for send_tokens:
// mintURL if given (validated to have enough balance), otherwise the mint
// needing the fewest proofs to cover amount, per select_send_proofs
// (§4.4.1) run against each candidate.
func (w *MultiMintWallet) chooseMintForSend(mintURL string, unit cashu.Unit, amount uint64) (string, cashu.Proofs, error) {
	if mintURL != "" {
		if w.Balance(mintURL, unit) < amount {
			return "", nil, ErrInsufficientFunds
		}
		return mintURL, w.proofsForMintUnit(mintURL, unit), nil
	}

	var best string
	var bestSelected cashu.Proofs
	for _, b := range w.Balances() {
		if b.Unit != unit.String() || b.Amount < amount {
			continue
		}
		candidate := w.proofsForMintUnit(b.Mint, unit)
		selected, _, err := selectSendProofs(candidate, amount)
		if err != nil {
			continue
		}
		if best == "" || len(selected) < len(bestSelected) {
			best = b.Mint
			bestSelected = selected
		}
	}
	if best == "" {
		return "", nil, ErrInsufficientFunds
	}
	return best, w.proofsForMintUnit(best, unit), nil
}

func (w *MultiMintWallet) proofsForMintUnit(mintURL string, unit cashu.Unit) cashu.Proofs {
	keysets := w.db.GetKeysets()[mintURL]
	ids := make(map[string]bool, len(keysets))
	for _, ks := range keysets {
		if ks.Unit == unit.String() {
			ids[ks.Id] = true
		}
	}

	var out cashu.Proofs
	for _, p := range w.db.GetProofs() {
		if ids[p.Id] {
			out = append(out, p)
		}
	}
	return out
}

// SendTokens selects and swaps proofs (if needed) for an exact amount
// against a mint (auto-selected if mintURL is empty), deletes them locally,
// and returns the serialized token string for the recipient. memo is
// attached to the token itself; info is opaque caller metadata stored only
// on the local transaction row. allowSkipSplit lets the caller accept
// handing over an exact-match proof set as-is instead of forcing a swap.
// See spec.md §4.4.
func (w *MultiMintWallet) SendTokens(ctx context.Context, mintURL string, amount uint64, memo string, unit cashu.Unit, info string, allowSkipSplit bool) (string, error) {
	mintURL, available, err := w.chooseMintForSend(mintURL, unit, amount)
	if err != nil {
		return "", err
	}

	smw, err := w.mint(mintURL)
	if err != nil {
		return "", err
	}

	toSend, toKeep, err := smw.Send(ctx, amount, available, 0, allowSkipSplit)
	if err != nil {
		return "", err
	}

	// every proof that was spent to produce toSend+toKeep leaves the local
	// set; only toKeep (the change) gets saved back.
	spent := diffProofs(available, toKeep)
	for _, p := range spent {
		if err := w.db.DeleteProof(p.Secret); err != nil {
			return "", StoreError{Op: "delete sent proof", Err: err}
		}
	}
	if err := w.db.SaveProofs(toKeep); err != nil {
		return "", StoreError{Op: "save send change", Err: err}
	}

	token, err := cashu.NewTokenV3(toSend, mintURL, unit, false)
	if err != nil {
		return "", err
	}
	token.Memo = memo
	serialized, err := token.Serialize()
	if err != nil {
		return "", err
	}

	txn := storage.Transaction{
		Id:           cashuTxId(serialized),
		Kind:         storage.CashuTx,
		Direction:    storage.Out,
		Status:       storage.Pending,
		Mint:         mintURL,
		Unit:         unit.String(),
		Amount:       amount,
		Memo:         memo,
		Info:         info,
		TokenString:  serialized,
		TokenProofYs: proofYs(toSend),
	}
	if err := w.db.SaveTransaction(txn); err != nil {
		return "", StoreError{Op: "save send transaction", Err: err}
	}

	return serialized, nil
}

// PrepareDenomination arranges for at least ceil(amount/N) proofs of
// denomination N to already exist in storage for mintURL, manufacturing
// any shortfall by swapping other proofs to itself via send(denomination=N).
// N must be 1 or 2. See spec.md §4.4, §4.5.
func (w *MultiMintWallet) PrepareDenomination(ctx context.Context, mintURL string, amount uint64, unit cashu.Unit, denomination int) error {
	if denomination != 1 && denomination != 2 {
		return fmt.Errorf("unsupported denomination %d", denomination)
	}
	n := uint64(denomination)
	needed := (amount + n - 1) / n

	available := w.proofsForMintUnit(mintURL, unit)
	var haveN uint64
	for _, p := range available {
		if p.Amount == n {
			haveN++
		}
	}
	if haveN >= needed {
		return nil
	}
	shortfall := (needed - haveN) * n

	smw, err := w.mint(mintURL)
	if err != nil {
		return err
	}

	toSend, toKeep, err := smw.Send(ctx, shortfall, available, denomination, false)
	if err != nil {
		return err
	}

	spent := diffProofs(available, toKeep)
	for _, p := range spent {
		if err := w.db.DeleteProof(p.Secret); err != nil {
			return StoreError{Op: "delete proof swapped for denomination", Err: err}
		}
	}
	newProofs := append(append(cashu.Proofs{}, toSend...), toKeep...)
	if err := w.db.SaveProofs(newProofs); err != nil {
		return StoreError{Op: "save denomination proofs", Err: err}
	}
	return nil
}

// RequestMint opens a mint quote against mintURL and writes a pending
// LightningTx(in).
func (w *MultiMintWallet) RequestMint(ctx context.Context, mintURL string, amount uint64, unit cashu.Unit) (*storage.MintQuote, error) {
	smw, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	quote, err := smw.RequestMint(ctx, amount)
	if err != nil {
		return nil, err
	}

	txn := storage.Transaction{
		Id: quote.QuoteId, Kind: storage.LightningTx, Direction: storage.In, Status: storage.Pending,
		Mint: mintURL, Unit: unit.String(), Amount: amount,
		PaymentRequest: quote.PaymentRequest,
	}
	if err := w.db.SaveTransaction(txn); err != nil {
		return nil, StoreError{Op: "save mint-quote transaction", Err: err}
	}
	return quote, nil
}

// MintTokens exchanges a (hopefully paid) mint quote for proofs, advancing
// the pending LightningTx(in) to success, or to expired if the mint still
// reports it unpaid past its invoice's own expiry. See spec.md §4.4,
// §4.4.2.
func (w *MultiMintWallet) MintTokens(ctx context.Context, mintURL, quoteId string, amount uint64, unit cashu.Unit) (uint64, error) {
	smw, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}

	proofs, err := smw.MintTokens(ctx, quoteId, amount)
	if err != nil {
		var protoErr ProtocolError
		if errors.As(err, &protoErr) && protoErr.Err.Code == cashu.MintQuoteRequestNotPaidErrCode {
			if existing := w.db.GetTransactionById(quoteId); existing != nil && existing.Status == storage.Pending {
				if _, _, expired, perr := parseInvoice(existing.PaymentRequest); perr == nil && expired {
					existing.PaymentExpired = true
					existing.Status = storage.Expired
					w.db.SaveTransaction(*existing) //nolint:errcheck
				}
			}
		}
		w.logErrorf("error minting from quote '%s' at '%s': %v", quoteId, mintURL, err)
		return 0, err
	}

	switch existing := w.db.GetTransactionById(quoteId); {
	case existing != nil && existing.Direction == storage.In:
		existing.Status = storage.Success
		if err := w.db.SaveTransaction(*existing); err != nil {
			return proofs.Amount(), StoreError{Op: "update mint-quote transaction", Err: err}
		}
	case existing != nil && existing.Direction == storage.Out:
		// the out-leg of a send-to-self payment already occupies this id
		// (§4.4.2); record the in-leg separately instead of clobbering it.
		w.recordSendToSelf(quoteId, mintURL, unit, proofs.Amount())
	default:
		// recovery case: no local pending row (e.g. restored from another
		// device); synthesize a success row with no payment request.
		txn := storage.Transaction{
			Id: quoteId, Kind: storage.LightningTx, Direction: storage.In, Status: storage.Success,
			Mint: mintURL, Unit: unit.String(), Amount: proofs.Amount(),
		}
		if err := w.db.SaveTransaction(txn); err != nil {
			return proofs.Amount(), StoreError{Op: "save recovered mint transaction", Err: err}
		}
	}

	w.logInfof("minted %d from quote '%s' at '%s'", proofs.Amount(), quoteId, mintURL)
	return proofs.Amount(), nil
}

// recordSendToSelf implements spec.md §4.4.2's send-to-self detection: when
// a LightningTx(in) completes and a previously-stored out-direction
// transaction already occupies the same quote id, a second row is written
// under a disambiguated id so both legs of the round-trip stay visible.
func (w *MultiMintWallet) recordSendToSelf(quoteId, mintURL string, unit cashu.Unit, amount uint64) {
	mirror := storage.Transaction{
		Id: quoteId + "In", Kind: storage.LightningTx, Direction: storage.In, Status: storage.Success,
		Mint: mintURL, Unit: unit.String(), Amount: amount,
	}
	if err := w.db.SaveTransaction(mirror); err != nil {
		w.logErrorf("error recording send-to-self leg for quote '%s': %v", quoteId, err)
	}
}

// Melt pays invoice from mintURL's balance in unit, selecting inputs for
// amount+fee_reserve and swapping for exact change first if the selection
// overshoots. Returns whether it was paid and the preimage.
func (w *MultiMintWallet) Melt(ctx context.Context, mintURL, invoice string, amount uint64, unit cashu.Unit) (bool, string, error) {
	invoiceAmount, paymentHash, expired, err := parseInvoice(invoice)
	if err != nil {
		return false, "", err
	}
	if expired {
		return false, "", ErrInvoiceExpired
	}
	if invoiceAmount == 0 && amount == 0 {
		return false, "", ErrInvoiceAmountMismatch
	}
	if invoiceAmount != 0 {
		if amount != 0 && amount != invoiceAmount {
			return false, "", ErrInvoiceAmountMismatch
		}
		amount = invoiceAmount
	}

	smw, err := w.mint(mintURL)
	if err != nil {
		return false, "", err
	}

	quote, err := smw.MeltQuote(ctx, invoice)
	if err != nil {
		return false, "", err
	}

	needed := quote.Amount + quote.FeeReserve
	available := w.proofsForMintUnit(mintURL, unit)
	selected, _, err := selectSendProofs(available, needed)
	if err != nil {
		return false, "", err
	}

	inputs := selected
	if selected.Amount() > needed {
		meltAmounts := cashu.AmountSplit(needed)
		changeAmounts := cashu.AmountSplit(selected.Amount() - needed)
		swapped, err := smw.trySwap(ctx, selected, append(meltAmounts, changeAmounts...))
		if err != nil {
			return false, "", err
		}
		for _, p := range selected {
			w.db.DeleteProof(p.Secret) //nolint:errcheck
		}
		if err := w.db.SaveProofs(swapped); err != nil {
			return false, "", StoreError{Op: "save pre-melt swap change", Err: err}
		}
		inputs = swapped[:len(meltAmounts)]
	}

	paid, preimage, change, err := smw.Melt(ctx, *quote, inputs)
	if err != nil {
		w.logErrorf("error melting at '%s': %v", mintURL, err)
		return false, "", err
	}

	if paid {
		for _, p := range inputs {
			w.db.DeleteProof(p.Secret) //nolint:errcheck
		}
	}

	spentTotal, _ := cashu.UnderflowSubUint64(inputs.Amount(), change.Amount())
	feePaid, _ := cashu.UnderflowSubUint64(spentTotal, amount)
	status := storage.Failed
	if paid {
		status = storage.Success
	}
	txn := storage.Transaction{
		Id: quote.QuoteId, Kind: storage.LightningTx, Direction: storage.Out, Status: status,
		Mint: mintURL, Unit: unit.String(), Amount: amount,
		PaymentRequest: invoice, PaymentHash: paymentHash, Preimage: preimage,
		FeePaid: feePaid,
	}
	if err := w.db.SaveTransaction(txn); err != nil {
		return paid, preimage, StoreError{Op: "save melt transaction", Err: err}
	}

	w.logInfof("melted %d to '%s' at '%s' (paid=%v)", amount, paymentHash, mintURL, paid)
	return paid, preimage, nil
}

// Restore recovers unspent proofs for mintURL by replaying its deterministic
// secret sequence. If keysetId is non-empty only that keyset is replayed.
func (w *MultiMintWallet) Restore(ctx context.Context, mintURL, keysetId string) (uint64, error) {
	smw, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}
	proofs, err := smw.Restore(ctx, keysetId)
	if err != nil {
		return 0, err
	}
	return proofs.Amount(), nil
}

const checkProofsBatchSize = 64

// CheckPendings re-checks every pending transaction's outcome: Cashu-kind
// transactions via proof state batches, Lightning-kind via their mint
// quote. Returns how many transactions changed state and how many pending
// transactions were examined. See spec.md §4.4, §8.
func (w *MultiMintWallet) CheckPendings(ctx context.Context) (int, int, error) {
	pending := w.db.GetPendingTransactions()
	w.logDebugf("checking %d pending transactions", len(pending))

	updated := 0
	for _, txn := range pending {
		switch txn.Kind {
		case storage.CashuTx:
			ok, err := w.checkPendingCashuTx(ctx, txn)
			if err != nil {
				w.logErrorf("error checking pending cashu tx '%s': %v", txn.Id, err)
				continue
			}
			if ok {
				updated++
			}
		case storage.LightningTx:
			if txn.Direction != storage.In {
				continue
			}
			if _, err := w.MintTokens(ctx, txn.Mint, txn.Id, txn.Amount, cashu.NewUnit(txn.Unit)); err != nil {
				w.logDebugf("mint quote '%s' still pending: %v", txn.Id, err)
			}
			if after := w.db.GetTransactionById(txn.Id); after != nil && after.Status != storage.Pending {
				updated++
			}
		}
	}
	return updated, len(pending), nil
}

// checkPendingCashuTx re-checks txn's proofs in batches of 64, flipping it
// to success if any of them is reported Spent.
func (w *MultiMintWallet) checkPendingCashuTx(ctx context.Context, txn storage.Transaction) (bool, error) {
	smw, err := w.mint(txn.Mint)
	if err != nil {
		return false, err
	}

	token, err := cashu.DecodeToken(txn.TokenString)
	if err != nil {
		return false, err
	}
	proofs := token.Proofs()
	spent := false
	for i := 0; i < len(proofs); i += checkProofsBatchSize {
		end := i + checkProofsBatchSize
		if end > len(proofs) {
			end = len(proofs)
		}
		states, err := smw.CheckProofs(ctx, proofs[i:end])
		if err != nil {
			return false, err
		}
		for _, state := range states {
			if state == nut07.Spent {
				spent = true
			}
		}
	}
	if !spent {
		return false, nil
	}

	txn.Status = storage.Success
	if err := w.db.SaveTransaction(txn); err != nil {
		return false, StoreError{Op: "update pending cashu transaction", Err: err}
	}
	return true, nil
}

func (w *MultiMintWallet) proofsBySecretYs(ys []string) cashu.Proofs {
	want := make(map[string]bool, len(ys))
	for _, y := range ys {
		want[y] = true
	}
	var out cashu.Proofs
	for _, p := range w.db.GetProofs() {
		Y := crypto.HashToCurve([]byte(p.Secret))
		if want[hex.EncodeToString(Y.SerializeCompressed())] {
			out = append(out, p)
		}
	}
	return out
}

// CheckProofsInDatabase verifies every locally stored proof for mintURL
// against the mint, deleting any it reports as spent.
func (w *MultiMintWallet) CheckProofsInDatabase(ctx context.Context, mintURL string) error {
	smw, err := w.mint(mintURL)
	if err != nil {
		return err
	}

	ids := make(map[string]bool)
	for _, ks := range w.db.GetKeysets()[mintURL] {
		ids[ks.Id] = true
	}
	var proofs cashu.Proofs
	for _, p := range w.db.GetProofs() {
		if ids[p.Id] {
			proofs = append(proofs, p)
		}
	}
	states, err := smw.CheckProofs(ctx, proofs)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if states[p.Secret] == nut07.Spent {
			if err := w.db.DeleteProof(p.Secret); err != nil {
				return StoreError{Op: "delete spent proof", Err: err}
			}
		}
	}
	return nil
}

func diffProofs(all, remove cashu.Proofs) cashu.Proofs {
	removeSet := make(map[string]bool, len(remove))
	for _, p := range remove {
		removeSet[p.Secret] = true
	}
	var out cashu.Proofs
	for _, p := range all {
		if !removeSet[p.Secret] {
			out = append(out, p)
		}
	}
	return out
}

func proofYs(proofs cashu.Proofs) []string {
	ys := make([]string, len(proofs))
	for i, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return ys
}

// cashuTxId derives a CashuTx's id: the hex sha256 digest of the token's
// serialized wire form. See spec.md §3.
func cashuTxId(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

