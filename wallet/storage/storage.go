package storage

import (
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut04"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut05"
	"github.com/keychat-io/cashu-wallet-go/crypto"
)

type QuoteType int

const (
	Mint QuoteType = iota + 1
	Melt
)

func (quote QuoteType) String() string {
	switch quote {
	case Mint:
		return "Mint"
	case Melt:
		return "Melt"
	default:
		return "unknown"
	}
}

type WalletDB interface {
	SaveMnemonicSeed(string, []byte)
	GetSeed() []byte
	GetMnemonic() string
	SaveOwnerPubkey(string)
	GetOwnerPubkey() string

	SaveProofs(cashu.Proofs) error
	GetProofs() cashu.Proofs
	GetProofsByKeysetId(string) cashu.Proofs
	DeleteProof(string) error

	AddPendingProofs(cashu.Proofs) error
	AddPendingProofsByQuoteId(cashu.Proofs, string) error
	GetPendingProofs() []DBProof
	GetPendingProofsByQuoteId(string) []DBProof
	DeletePendingProofs([]string) error
	DeletePendingProofsByQuoteId(string) error

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets() crypto.KeysetsMap
	GetKeyset(string) *crypto.WalletKeyset
	IncrementKeysetCounter(string, uint32) error
	GetKeysetCounter(string) uint32
	UpdateKeysetMintURL(oldURL, newURL string) error

	SaveMintQuote(MintQuote) error
	GetMintQuotes() []MintQuote
	GetMintQuoteById(string) *MintQuote

	SaveMeltQuote(MeltQuote) error
	GetMeltQuotes() []MeltQuote
	GetMeltQuoteById(string) *MeltQuote

	SaveTransaction(Transaction) error
	GetTransactions() []Transaction
	GetPendingTransactions() []Transaction
	GetTransactionById(string) *Transaction

	Close() error
}

// TxKind distinguishes the two variants of Transaction: a swap/receive/send
// over the Cashu protocol, or a Lightning mint/melt.
type TxKind string

const (
	CashuTx     TxKind = "cashu"
	LightningTx TxKind = "lightning"
)

// TxDirection records whether a Transaction added to or removed from the
// wallet's balance.
type TxDirection string

const (
	In  TxDirection = "in"
	Out TxDirection = "out"
)

// TxStatus tracks a Transaction through its lifecycle: Pending is the only
// non-terminal status; Success, Failed and Expired are all terminal and
// mutually exclusive with Pending and with each other.
type TxStatus string

const (
	Pending TxStatus = "pending"
	Success TxStatus = "success"
	Failed  TxStatus = "failed"
	Expired TxStatus = "expired"
)

// Transaction is the wallet's persisted activity log entry: a tagged
// variant over a Cashu token movement (send/receive/swap) or a Lightning
// payment (mint/melt). Kind selects which of the Cashu/Lightning-only
// fields below apply; the common fields are always populated.
type Transaction struct {
	Id        string      `json:"id"`
	Kind      TxKind      `json:"kind"`
	Direction TxDirection `json:"direction"`
	Status    TxStatus    `json:"status"`
	Mint      string      `json:"mint"`
	Unit      string      `json:"unit"`
	Amount    uint64      `json:"amount"`
	CreatedAt int64       `json:"created_at"`
	// Memo is the optional note attached when the transaction was created
	// (a Cashu token memo, or a caller-supplied label).
	Memo string `json:"memo,omitempty"`
	// Info is arbitrary caller-supplied metadata, opaque to the wallet.
	Info string `json:"info,omitempty"`

	// CashuTx fields
	TokenProofYs []string `json:"token_proof_ys,omitempty"`
	// TokenString is the serialized wire token this transaction moved;
	// Id is the hex sha256 digest of this string.
	TokenString string `json:"token_string,omitempty"`

	// LightningTx fields
	PaymentRequest string `json:"payment_request,omitempty"`
	PaymentHash    string `json:"payment_hash,omitempty"`
	Preimage       string `json:"preimage,omitempty"`
	FeePaid        uint64 `json:"fee_paid,omitempty"`
	// PaymentExpired is set once a pending mint-quote's invoice is found to
	// have passed its bolt11 expiry with the quote still unpaid.
	PaymentExpired bool `json:"payment_expired,omitempty"`
}

type DBProof struct {
	Y      string           `json:"y"`
	Amount uint64           `json:"amount"`
	Id     string           `json:"id"`
	Secret string           `json:"secret"`
	C      string           `json:"C"`
	DLEQ   *cashu.DLEQProof `json:"dleq,omitempty"`
	// set if pending proofs are tied to a melt quote
	MeltQuoteId string `json:"quote_id"`
}

type MintQuote struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut04.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
	PrivateKey     *secp256k1.PrivateKey
}

type mintQuoteTemp struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut04.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
	PrivateKey     []byte
}

// custom Marshaller to serialize and deserialize private key to and from []byte

func (mq *MintQuote) MarshalJSON() ([]byte, error) {
	tempQuote := mintQuoteTemp{
		QuoteId:        mq.QuoteId,
		Mint:           mq.Mint,
		Method:         mq.Method,
		State:          mq.State,
		Unit:           mq.Unit,
		PaymentRequest: mq.PaymentRequest,
		Amount:         mq.Amount,
		CreatedAt:      mq.CreatedAt,
		SettledAt:      mq.SettledAt,
		QuoteExpiry:    mq.QuoteExpiry,
	}

	if mq.PrivateKey != nil {
		tempQuote.PrivateKey = mq.PrivateKey.Serialize()
	}

	return json.Marshal(tempQuote)
}

func (mq *MintQuote) UnmarshalJSON(data []byte) error {
	tempQuote := &mintQuoteTemp{}

	if err := json.Unmarshal(data, tempQuote); err != nil {
		return err
	}

	mq.QuoteId = tempQuote.QuoteId
	mq.Mint = tempQuote.Mint
	mq.Method = tempQuote.Method
	mq.State = tempQuote.State
	mq.Unit = tempQuote.Unit
	mq.PaymentRequest = tempQuote.PaymentRequest
	mq.Amount = tempQuote.Amount
	mq.CreatedAt = tempQuote.CreatedAt
	mq.SettledAt = tempQuote.SettledAt
	mq.QuoteExpiry = tempQuote.QuoteExpiry
	if len(tempQuote.PrivateKey) > 0 {
		mq.PrivateKey = secp256k1.PrivKeyFromBytes(tempQuote.PrivateKey)
	}

	return nil
}

type MeltQuote struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut05.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	FeeReserve     uint64
	Preimage       string
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
}

type Invoice struct {
	TransactionType QuoteType
	// mint or melt quote id
	Id string
	// mint that issued quote
	Mint           string
	QuoteAmount    uint64
	InvoiceAmount  uint64
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	CreatedAt      int64
	Paid           bool
	SettledAt      int64
	QuoteExpiry    uint64
}
