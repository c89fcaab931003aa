package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut03"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut04"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut05"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut07"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut09"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut17"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut20"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/client"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
	"github.com/keychat-io/cashu-wallet-go/wallet/submanager"
)

// SingleMintWallet drives the full proof lifecycle against exactly one
// mint: mint, receive, send, melt, restore, state-check. It owns the
// mint's active/inactive keyset cache and delegates every derivation to a
// CounterManager and every HTTP call to a MintClient.
type SingleMintWallet struct {
	MintURL string
	Unit    cashu.Unit

	mc      *client.Client
	db      storage.WalletDB
	counter *CounterManager

	active   crypto.WalletKeyset
	inactive map[string]crypto.WalletKeyset

	subMgr *submanager.SubscriptionManager
}

// NewSingleMintWallet fetches mintURL's keysets for unit and constructs a
// wallet bound to it. master may be nil for a non-deterministic wallet.
func NewSingleMintWallet(ctx context.Context, mintURL string, unit cashu.Unit,
	db storage.WalletDB, master *hdkeychain.ExtendedKey) (*SingleMintWallet, error) {

	mc := client.New(mintURL, 0)

	active, err := getMintActiveKeyset(ctx, mc, unit)
	if err != nil {
		return nil, classifyMintErr(mintURL, err)
	}
	active.Counter = db.GetKeysetCounter(active.Id)
	if err := db.SaveKeyset(active); err != nil {
		return nil, StoreError{Op: "save active keyset", Err: err}
	}

	inactive, err := getMintInactiveKeysets(ctx, mc, unit)
	if err != nil {
		return nil, classifyMintErr(mintURL, err)
	}
	for id, ks := range inactive {
		ks.Counter = db.GetKeysetCounter(id)
		if err := db.SaveKeyset(&ks); err != nil {
			return nil, StoreError{Op: "save inactive keyset", Err: err}
		}
		inactive[id] = ks
	}

	return &SingleMintWallet{
		MintURL:  mintURL,
		Unit:     unit,
		mc:       mc,
		db:       db,
		counter:  NewCounterManager(db, master),
		active:   *active,
		inactive: inactive,
	}, nil
}

// refreshActiveKeyset re-checks whether the mint has rotated its active
// keyset since construction, persisting the rotation locally if so.
func (w *SingleMintWallet) refreshActiveKeyset(ctx context.Context) error {
	all, err := w.mc.GetAllKeysets(ctx)
	if err != nil {
		return classifyMintErr(w.MintURL, err)
	}

	for _, ks := range all.Keysets {
		if !ks.Active || ks.Unit != w.Unit.String() || crypto.IsLegacyKeysetId(ks.Id) || ks.Id == w.active.Id {
			continue
		}

		w.active.Active = false
		w.inactive[w.active.Id] = w.active
		if err := w.db.SaveKeyset(&w.active); err != nil {
			return StoreError{Op: "inactivate keyset", Err: err}
		}

		keys, err := getKeysetKeys(ctx, w.mc, ks.Id)
		if err != nil {
			return classifyMintErr(w.MintURL, err)
		}
		newActive := crypto.WalletKeyset{
			Id:          ks.Id,
			MintURL:     w.MintURL,
			Unit:        ks.Unit,
			Active:      true,
			PublicKeys:  keys,
			Counter:     w.db.GetKeysetCounter(ks.Id),
			InputFeePpk: ks.InputFeePpk,
		}
		if err := w.db.SaveKeyset(&newActive); err != nil {
			return StoreError{Op: "save new active keyset", Err: err}
		}
		delete(w.inactive, ks.Id)
		w.active = newActive
		break
	}

	return nil
}

func (w *SingleMintWallet) keysetById(id string) *crypto.WalletKeyset {
	if id == w.active.Id {
		return &w.active
	}
	if ks, ok := w.inactive[id]; ok {
		return &ks
	}
	return nil
}

// RequestMint asks the mint for a bolt11 mint quote, persisting it pending.
// If the mint advertises NUT-20 support, the quote is locked to a freshly
// generated keypair so only this wallet can redeem it; the private key is
// stored alongside the quote for MintTokens to sign with later.
func (w *SingleMintWallet) RequestMint(ctx context.Context, amount uint64) (*storage.MintQuote, error) {
	req := nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   w.Unit.String(),
	}

	var lockKey *secp256k1.PrivateKey
	if info, err := w.mc.GetMintInfo(ctx); err == nil {
		if _, ok := info.Nuts[20]; ok {
			if pk, err := secp256k1.GeneratePrivateKey(); err == nil {
				lockKey = pk
				req.Pubkey = hex.EncodeToString(pk.PubKey().SerializeCompressed())
			}
		}
	}

	res, err := w.mc.PostMintQuoteBolt11(ctx, req)
	if err != nil {
		return nil, classifyMintErr(w.MintURL, err)
	}

	quote := storage.MintQuote{
		QuoteId:        res.Quote,
		Mint:           w.MintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          res.State,
		Unit:           w.Unit.String(),
		PaymentRequest: res.Request,
		Amount:         amount,
		QuoteExpiry:    uint64(res.Expiry),
		PrivateKey:     lockKey,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, StoreError{Op: "save mint quote", Err: err}
	}
	return &quote, nil
}

// MintTokens exchanges a paid mint quote for proofs, by denomination amount.
// If the quote was locked (NUT-20), the request is schnorr-signed with the
// quote's stored private key.
func (w *SingleMintWallet) MintTokens(ctx context.Context, quoteId string, amount uint64) (cashu.Proofs, error) {
	if err := w.refreshActiveKeyset(ctx); err != nil {
		return nil, err
	}

	split := cashu.AmountSplit(amount)
	messages, secrets, rs, session, err := w.counter.GenerateOutputs(w.active, split)
	if err != nil {
		return nil, err
	}

	req := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: messages}
	if quote := w.db.GetMintQuoteById(quoteId); quote != nil && quote.PrivateKey != nil {
		sig, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, messages)
		if err != nil {
			session.Cancel()
			return nil, CryptoError{Op: "sign mint quote", Err: err}
		}
		req.Signature = hex.EncodeToString(sig.Serialize())
	}

	res, err := w.mc.PostMintBolt11(ctx, req)
	if err != nil {
		session.Cancel()
		return nil, classifyMintErr(w.MintURL, err)
	}
	session.Commit()

	proofs, err := w.constructProofs(res.Signatures, messages, secrets, rs)
	if err != nil {
		return nil, err
	}

	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, StoreError{Op: "save minted proofs", Err: err}
	}
	return proofs, nil
}

// constructProofs unblinds a mint's signatures against the messages/secrets/
// blinding factors that produced them.
func (w *SingleMintWallet) constructProofs(sigs cashu.BlindedSignatures,
	messages cashu.BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {

	if len(sigs) != len(secrets) {
		return nil, fmt.Errorf("mint returned %d signatures for %d outputs", len(sigs), len(secrets))
	}

	proofs := make(cashu.Proofs, len(sigs))
	for i, sig := range sigs {
		keyset := w.keysetById(sig.Id)
		if keyset == nil {
			return nil, fmt.Errorf("received signature from unknown keyset '%s'", sig.Id)
		}
		pub, ok := keyset.PublicKeys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("keyset '%s' has no public key for amount %d", sig.Id, sig.Amount)
		}

		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, CryptoError{Op: "decode signature", Err: err}
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, CryptoError{Op: "parse signature", Err: err}
		}

		C := crypto.UnblindSignature(C_, rs[i], pub)
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}

// trySwap swaps proofs for a fresh set of outputs against this mint's
// active keyset, e.g. to consolidate denominations or move proofs off an
// inactive keyset. It retries up to two times, skipping ahead past any
// counter range the mint reports as already signed, before giving up. See
// §4.3.1.
func (w *SingleMintWallet) trySwap(ctx context.Context, proofs cashu.Proofs, amounts []uint64) (cashu.Proofs, error) {
	if err := w.refreshActiveKeyset(ctx); err != nil {
		return nil, err
	}

	const maxRetries = 2
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		messages, secrets, rs, session, err := w.counter.GenerateOutputs(w.active, amounts)
		if err != nil {
			return nil, err
		}

		res, err := w.mc.PostSwap(ctx, nut03.PostSwapRequest{Inputs: proofs, Outputs: messages})
		if err != nil {
			lastErr = classifyMintErr(w.MintURL, err)
			if cashu.IsOutputsAlreadySigned(err) {
				session.Commit() // burn this range, it collided; move past it
				continue
			}
			session.Cancel()
			return nil, lastErr
		}
		session.Commit()

		return w.constructProofs(res.Signatures, messages, secrets, rs)
	}

	return nil, lastErr
}

// Send selects proofs from available covering amount (§4.4.1) and, unless
// the selection matches amount exactly and the caller allows skipping the
// split, swaps the overshoot for an exact keep/send pair (§4.3, §4.5).
// denomination is the preferred unit size (0, 1 or 2) for the send half of
// the split; see splitSendAmounts.
func (w *SingleMintWallet) Send(ctx context.Context, amount uint64, available cashu.Proofs, denomination int, allowSkipSplit bool) (cashu.Proofs, cashu.Proofs, error) {
	if denomination < 0 || denomination > 2 {
		return nil, nil, fmt.Errorf("unsupported send denomination %d", denomination)
	}

	selected, unselected, err := selectSendProofs(available, amount)
	if err != nil {
		return nil, nil, err
	}

	if allowSkipSplit && selected.Amount() == amount {
		return selected, unselected, nil
	}

	keepAmounts := cashu.AmountSplit(selected.Amount() - amount)
	sendAmounts := splitSendAmounts(amount, denomination)
	outputs := make([]uint64, 0, len(keepAmounts)+len(sendAmounts))
	outputs = append(outputs, keepAmounts...)
	outputs = append(outputs, sendAmounts...)

	swapped, err := w.trySwap(ctx, selected, outputs)
	if err != nil {
		return nil, nil, err
	}

	toKeep := append(cashu.Proofs{}, unselected...)
	toKeep = append(toKeep, swapped[:len(keepAmounts)]...)
	toSend := swapped[len(keepAmounts):]
	return toSend, toKeep, nil
}

// MeltQuote asks the mint for the fee reserve needed to pay invoice.
func (w *SingleMintWallet) MeltQuote(ctx context.Context, invoice string) (*storage.MeltQuote, error) {
	res, err := w.mc.PostMeltQuoteBolt11(ctx, nut05.PostMeltQuoteBolt11Request{
		Request: invoice,
		Unit:    w.Unit.String(),
	})
	if err != nil {
		return nil, classifyMintErr(w.MintURL, err)
	}

	quote := storage.MeltQuote{
		QuoteId:        res.Quote,
		Mint:           w.MintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          res.State,
		Unit:           w.Unit.String(),
		PaymentRequest: invoice,
		Amount:         res.Amount,
		FeeReserve:     res.FeeReserve,
		QuoteExpiry:    uint64(res.Expiry),
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, StoreError{Op: "save melt quote", Err: err}
	}
	return &quote, nil
}

// Melt pays a melt quote with inputs, returning whether it was paid, the
// preimage if any, and unblinded change proofs for the fee-reserve
// overpayment.
func (w *SingleMintWallet) Melt(ctx context.Context, quote storage.MeltQuote, inputs cashu.Proofs) (bool, string, cashu.Proofs, error) {
	if err := w.refreshActiveKeyset(ctx); err != nil {
		return false, "", nil, err
	}

	// blank outputs to carry back change, sized per NUT-08: ceil(log2(fee_reserve)) of them
	var numBlanks int
	if quote.FeeReserve > 0 {
		numBlanks = int(math.Ceil(math.Log2(float64(quote.FeeReserve))))
	}
	blankAmounts := make([]uint64, numBlanks)
	for i := range blankAmounts {
		blankAmounts[i] = 1
	}

	var messages cashu.BlindedMessages
	var secrets []string
	var rs []*secp256k1.PrivateKey
	var session *CountSession
	if numBlanks > 0 {
		var err error
		messages, secrets, rs, session, err = w.counter.GenerateOutputs(w.active, blankAmounts)
		if err != nil {
			return false, "", nil, err
		}
	}

	res, err := w.mc.PostMeltBolt11(ctx, nut05.PostMeltBolt11Request{Quote: quote.QuoteId, Inputs: inputs})
	if err != nil {
		if session != nil {
			session.Cancel()
		}
		return false, "", nil, classifyMintErr(w.MintURL, err)
	}
	if session != nil {
		session.Commit()
	}

	var change cashu.Proofs
	if len(res.Change) > 0 && numBlanks > 0 {
		// mint may return fewer signatures than blanks offered
		trimmed := messages[:len(res.Change)]
		change, err = w.constructProofs(res.Change, trimmed, secrets[:len(res.Change)], rs[:len(res.Change)])
		if err != nil {
			return res.Paid, res.Preimage, nil, err
		}
		if err := w.db.SaveProofs(change); err != nil {
			return res.Paid, res.Preimage, change, StoreError{Op: "save melt change", Err: err}
		}
	}

	return res.Paid, res.Preimage, change, nil
}

// Subscribe opens (and caches) a NUT-17 websocket subscription to this
// mint for kind, a push-based fast path ahead of polling CheckProofs. The
// subscription is supplementary: callers must still reconcile with
// CheckPendings/CheckProofs, which remain the source of truth.
func (w *SingleMintWallet) Subscribe(ctx context.Context, kind nut17.SubscriptionKind, filters []string) (*submanager.Subscription, error) {
	if w.subMgr == nil {
		sm, err := submanager.NewSubscriptionManager(ctx, w.MintURL)
		if err != nil {
			return nil, err
		}
		w.subMgr = sm
	}
	return w.subMgr.Subscribe(kind, filters)
}

// CheckProofs queries proof states for the given proofs, keyed by secret.
func (w *SingleMintWallet) CheckProofs(ctx context.Context, proofs cashu.Proofs) (map[string]nut07.State, error) {
	ys := make([]string, len(proofs))
	bySecret := make(map[string]string, len(proofs))
	for i, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		yHex := hex.EncodeToString(Y.SerializeCompressed())
		ys[i] = yHex
		bySecret[yHex] = p.Secret
	}

	res, err := w.mc.PostCheckProofState(ctx, nut07.PostCheckStateRequest{Ys: ys})
	if err != nil {
		return nil, classifyMintErr(w.MintURL, err)
	}

	states := make(map[string]nut07.State, len(res.States))
	for _, s := range res.States {
		if secret, ok := bySecret[s.Y]; ok {
			states[secret] = s.State
		}
	}
	return states, nil
}

// Restore replays the deterministic secret/blinding-factor sequence for
// every keyset of this mint, recovering any unspent proofs the mint still
// holds signatures for. See §4.6. If keysetId is non-empty, only that
// keyset is replayed instead of every keyset this mint advertises.
func (w *SingleMintWallet) Restore(ctx context.Context, keysetId string) (cashu.Proofs, error) {
	if !w.counter.Deterministic() {
		return nil, fmt.Errorf("restore requires a deterministic (mnemonic-backed) wallet")
	}

	all, err := w.mc.GetAllKeysets(ctx)
	if err != nil {
		return nil, classifyMintErr(w.MintURL, err)
	}

	var restored cashu.Proofs
	for _, ks := range all.Keysets {
		if ks.Unit != w.Unit.String() || crypto.IsLegacyKeysetId(ks.Id) {
			continue
		}
		if keysetId != "" && ks.Id != keysetId {
			continue
		}

		keys, err := getKeysetKeys(ctx, w.mc, ks.Id)
		if err != nil {
			return nil, classifyMintErr(w.MintURL, err)
		}
		keyset := crypto.WalletKeyset{
			Id: ks.Id, MintURL: w.MintURL, Unit: ks.Unit, Active: ks.Active,
			PublicKeys: keys, InputFeePpk: ks.InputFeePpk,
		}

		proofs, err := w.restoreKeyset(ctx, keyset)
		if err != nil {
			return nil, err
		}
		restored = append(restored, proofs...)
	}

	if err := w.db.SaveProofs(restored); err != nil {
		return nil, StoreError{Op: "save restored proofs", Err: err}
	}
	return restored, nil
}

const restoreBatchSize = 100

func (w *SingleMintWallet) restoreKeyset(ctx context.Context, keyset crypto.WalletKeyset) (cashu.Proofs, error) {
	var restored cashu.Proofs
	emptyBatches := 0

	for emptyBatches < 3 {
		amounts := make([]uint64, restoreBatchSize)
		for i := range amounts {
			amounts[i] = 1 // amount is irrelevant for restore outputs, the mint ignores it
		}

		messages, secrets, rs, session, err := w.counter.GenerateOutputs(keyset, amounts)
		if err != nil {
			return nil, err
		}

		res, err := w.mc.PostRestore(ctx, nut09.PostRestoreRequest{Outputs: messages})
		if err != nil {
			session.Cancel()
			return nil, classifyMintErr(w.MintURL, err)
		}
		session.Commit()

		if len(res.Signatures) == 0 {
			emptyBatches++
			continue
		}
		emptyBatches = 0

		secretByB_ := make(map[string]string, len(messages))
		rByB_ := make(map[string]*secp256k1.PrivateKey, len(messages))
		for i, m := range messages {
			secretByB_[m.B_] = secrets[i]
			rByB_[m.B_] = rs[i]
		}

		ys := make([]string, len(res.Signatures))
		bySecret := make(map[string]cashu.Proof, len(res.Signatures))
		for i, sig := range res.Outputs {
			secret := secretByB_[sig.B_]
			r := rByB_[sig.B_]
			pub, ok := keyset.PublicKeys[res.Signatures[i].Amount]
			if !ok {
				return nil, fmt.Errorf("keyset '%s' has no public key for amount %d", keyset.Id, res.Signatures[i].Amount)
			}

			C_bytes, err := hex.DecodeString(res.Signatures[i].C_)
			if err != nil {
				return nil, CryptoError{Op: "decode restored signature", Err: err}
			}
			C_, err := secp256k1.ParsePubKey(C_bytes)
			if err != nil {
				return nil, CryptoError{Op: "parse restored signature", Err: err}
			}
			C := crypto.UnblindSignature(C_, r, pub)

			Y := crypto.HashToCurve([]byte(secret))
			yHex := hex.EncodeToString(Y.SerializeCompressed())
			ys[i] = yHex
			bySecret[yHex] = cashu.Proof{
				Amount: res.Signatures[i].Amount,
				Id:     res.Signatures[i].Id,
				Secret: secret,
				C:      hex.EncodeToString(C.SerializeCompressed()),
			}
		}

		stateRes, err := w.mc.PostCheckProofState(ctx, nut07.PostCheckStateRequest{Ys: ys})
		if err != nil {
			return nil, classifyMintErr(w.MintURL, err)
		}

		for _, state := range stateRes.States {
			if len(state.Witness) > 0 {
				continue
			}
			if state.State == nut07.Unspent {
				restored = append(restored, bySecret[state.Y])
			}
		}
	}

	return restored, nil
}

// selectSendProofs implements the deterministic, tie-break-stable selection
// rule of spec.md §4.4.1: a proof equal to amount short-circuits the whole
// selection; otherwise proofs are walked in stored order, accumulating
// into the smallest prefix whose sum covers amount.
func selectSendProofs(available cashu.Proofs, amount uint64) (selected, remaining cashu.Proofs, err error) {
	if amount == 0 {
		return nil, nil, ErrInsufficientFunds
	}

	for i, p := range available {
		if p.Amount == amount {
			selected = cashu.Proofs{p}
			remaining = make(cashu.Proofs, 0, len(available)-1)
			remaining = append(remaining, available[:i]...)
			remaining = append(remaining, available[i+1:]...)
			return selected, remaining, nil
		}
	}

	var total uint64
	takeIndex := -1
	for i, p := range available {
		total += p.Amount
		if total >= amount {
			takeIndex = i
			break
		}
	}
	if takeIndex == -1 {
		return nil, nil, ErrInsufficientFunds
	}

	selected = append(selected, available[:takeIndex+1]...)
	remaining = append(remaining, available[takeIndex+1:]...)
	return selected, remaining, nil
}

// splitSendAmounts lays out the output amounts for the "send" half of a
// split (spec.md §4.5). With no denomination preference (N=0) it's a plain
// canonical powers-of-two split; with N∈{1,2} it's (amount div N) copies
// of N followed by a canonical split of the remainder.
func splitSendAmounts(amount uint64, denomination int) []uint64 {
	if denomination == 0 {
		return cashu.AmountSplit(amount)
	}

	n := uint64(denomination)
	copies := amount / n
	remainder := amount % n

	amounts := make([]uint64, 0, copies+1)
	for i := uint64(0); i < copies; i++ {
		amounts = append(amounts, n)
	}
	amounts = append(amounts, cashu.AmountSplit(remainder)...)
	return amounts
}
