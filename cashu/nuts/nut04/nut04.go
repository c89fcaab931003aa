// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"

	"github.com/keychat-io/cashu-wallet-go/cashu"
)

// State is a mint quote's lifecycle state: unpaid, paid (invoice settled,
// not yet minted), or issued (signatures already handed out for it).
type State int

const (
	Unpaid State = iota
	Paid
	Issued
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func StringToState(s string) State {
	switch s {
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	default:
		return Unpaid
	}
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	// Pubkey locks the quote per NUT-20: only a PostMintBolt11Request
	// signed by the matching private key may redeem it.
	Pubkey string `json:"pubkey,omitempty"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"-"`
	Paid    bool   `json:"paid"`
	Expiry  int64  `json:"expiry"`
	Pubkey  string `json:"pubkey,omitempty"`
}

func (r *PostMintQuoteBolt11Response) UnmarshalJSON(data []byte) error {
	type alias PostMintQuoteBolt11Response
	var tmp struct {
		alias
		StateStr string `json:"state"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*r = PostMintQuoteBolt11Response(tmp.alias)
	if tmp.StateStr != "" {
		r.State = StringToState(tmp.StateStr)
		r.Paid = r.State != Unpaid
	}
	return nil
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
	// Signature is the NUT-20 schnorr signature over quote+outputs,
	// required when the quote was requested with a locking Pubkey.
	Signature string `json:"signature,omitempty"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
