// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"

	"github.com/keychat-io/cashu-wallet-go/cashu"
)

// State is a melt quote's lifecycle state.
type State int

const (
	Unpaid State = iota
	Pending
	Paid
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(s string) State {
	switch s {
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	default:
		return Unpaid
	}
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string                  `json:"quote"`
	Amount     uint64                  `json:"amount"`
	FeeReserve uint64                  `json:"fee_reserve"`
	State      State                   `json:"-"`
	Paid       bool                    `json:"paid"`
	Expiry     int64                   `json:"expiry"`
	Change     cashu.BlindedSignatures `json:"change,omitempty"`
}

func (r *PostMeltQuoteBolt11Response) UnmarshalJSON(data []byte) error {
	type alias PostMeltQuoteBolt11Response
	var tmp struct {
		alias
		StateStr string `json:"state"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*r = PostMeltQuoteBolt11Response(tmp.alias)
	if tmp.StateStr != "" {
		r.State = StringToState(tmp.StateStr)
		r.Paid = r.State == Paid
	}
	return nil
}

type PostMeltBolt11Request struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}

type PostMeltBolt11Response struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"payment_preimage"`
}
