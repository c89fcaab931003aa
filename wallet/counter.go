package wallet

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
)

// retirementThreshold is the highest counter value a keyset may reach
// before CounterManager refuses to hand out more indices for it. Derivation
// indices are hardened (index | 2^31), so 2^31-51 leaves headroom below the
// hardened boundary for a final small batch instead of failing mid-batch.
const retirementThreshold = 1<<31 - 51

var errKeysetRetired = fmt.Errorf("keyset has reached its counter retirement threshold (%d)", retirementThreshold)

// CounterManager derives deterministic secrets and blinding factors for a
// mnemonic-backed wallet, per NUT-13. It owns the one piece of truly shared
// mutable state in a SingleMintWallet: the per-keyset counter. Every output
// generation goes through a CountSession so concurrent sends/mints/restores
// against the same keyset never reuse a derivation index.
type CounterManager struct {
	mu     sync.Mutex
	db     storage.WalletDB
	master *hdkeychain.ExtendedKey // nil for a non-deterministic (random-secret) wallet
}

func NewCounterManager(db storage.WalletDB, master *hdkeychain.ExtendedKey) *CounterManager {
	return &CounterManager{db: db, master: master}
}

// Deterministic reports whether this manager derives secrets from a seed
// (true) or falls back to random, unrecoverable secrets (false).
func (m *CounterManager) Deterministic() bool { return m.master != nil }

// CountSession reserves a contiguous range of counter indices for one
// keyset. Reservation happens eagerly at Begin so two concurrent sessions
// never overlap; Cancel gives back whatever the caller didn't end up using.
type CountSession struct {
	mgr      *CounterManager
	keysetId string
	path     *hdkeychain.ExtendedKey
	start    uint32
	count    uint32
	used     uint32
	done     bool
}

// Begin reserves n counter indices for keysetId, returning a session that
// hands them out one at a time via Next/Generate. Call Commit once the
// outputs have been accepted by the mint, or Cancel to return unused
// indices if the operation is aborted before that.
func (m *CounterManager) Begin(keysetId string, n uint32) (*CountSession, error) {
	if !m.Deterministic() {
		return &CountSession{mgr: m, keysetId: keysetId, count: n}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.db.GetKeysetCounter(keysetId)
	if current > retirementThreshold-n {
		return nil, errKeysetRetired
	}

	keysetPath, err := crypto.DeriveKeysetPath(m.master, keysetId)
	if err != nil {
		return nil, CryptoError{Op: "derive keyset path", Err: err}
	}

	if err := m.db.IncrementKeysetCounter(keysetId, n); err != nil {
		return nil, StoreError{Op: "reserve counter range", Err: err}
	}

	return &CountSession{mgr: m, keysetId: keysetId, path: keysetPath, start: current, count: n}, nil
}

// Next returns the next reserved counter index in this session.
func (s *CountSession) Next() (uint32, error) {
	if s.used >= s.count {
		return 0, fmt.Errorf("count session for keyset '%s' exhausted its reserved range of %d", s.keysetId, s.count)
	}
	idx := s.start + s.used
	s.used++
	return idx, nil
}

// Generate derives the secret and blinding factor for the session's next
// counter index. For a non-deterministic session it returns fresh random
// values and no CounterRecord needs to be written for them.
func (s *CountSession) Generate() (secret string, counter uint32, r *secp256k1.PrivateKey, err error) {
	if s.mgr.Deterministic() {
		counter, err = s.Next()
		if err != nil {
			return "", 0, nil, err
		}
		secret, err = crypto.DeriveSecret(s.path, counter)
		if err != nil {
			return "", 0, nil, CryptoError{Op: "derive secret", Err: err}
		}
		r, err = crypto.DeriveBlindingFactor(s.path, counter)
		if err != nil {
			return "", 0, nil, CryptoError{Op: "derive blinding factor", Err: err}
		}
		return secret, counter, r, nil
	}

	secret, err = crypto.RandomSecret()
	if err != nil {
		return "", 0, nil, CryptoError{Op: "generate random secret", Err: err}
	}
	r, err = crypto.RandomBlindingFactor()
	if err != nil {
		return "", 0, nil, CryptoError{Op: "generate random blinding factor", Err: err}
	}
	return secret, 0, r, nil
}

// Commit finalizes the session. The counter was already advanced
// persistently at Begin, so Commit just marks the session closed.
func (s *CountSession) Commit() {
	s.done = true
}

// Cancel returns any unused indices in the session's reservation back to
// the keyset's counter, so an aborted operation doesn't burn derivation
// space. Safe to call after Commit (no-op) or multiple times.
func (s *CountSession) Cancel() {
	if s.done || !s.mgr.Deterministic() {
		s.done = true
		return
	}
	s.done = true

	unused := s.count - s.used
	if unused == 0 {
		return
	}

	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	// best-effort: if another session already advanced past this range,
	// leaving the gap unused is safe, just wastes derivation indices.
	s.mgr.db.IncrementKeysetCounter(s.keysetId, ^uint32(unused-1)) //nolint:errcheck
}

// GenerateOutputs derives a full batch of blinded messages for the given
// amount split against keysetId, returning the messages alongside the
// secrets and blinding factors needed to unblind the eventual signatures.
func (m *CounterManager) GenerateOutputs(keyset crypto.WalletKeyset, amounts []uint64) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, *CountSession, error) {

	session, err := m.Begin(keyset.Id, uint32(len(amounts)))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	messages := make(cashu.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amount := range amounts {
		secret, _, r, err := session.Generate()
		if err != nil {
			session.Cancel()
			return nil, nil, nil, nil, err
		}

		B_, _ := crypto.BlindMessage([]byte(secret), r.Serialize())
		messages[i] = cashu.BlindedMessage{
			Amount: amount,
			Id:     keyset.Id,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
		}
		secrets[i] = secret
		rs[i] = r
	}

	return messages, secrets, rs, session, nil
}
