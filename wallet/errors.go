package wallet

import (
	"errors"
	"fmt"

	"github.com/keychat-io/cashu-wallet-go/cashu"
)

// ErrMintUrlUnmatched is returned when a token, a proof, or a request names
// a mint URL the calling wallet has no record of.
var ErrMintUrlUnmatched = errors.New("mint url not recognized by this wallet")

// ErrInsufficientFunds is returned when a wallet cannot cover a requested
// send or melt amount (plus fees) from its unspent proofs.
var ErrInsufficientFunds = errors.New("insufficient funds")

// InvoiceError distinguishes an invalid bolt11 request from one that is
// well-formed but already expired or whose amount doesn't match the
// caller's expectation.
type InvoiceError struct {
	Reason string
}

func (e InvoiceError) Error() string { return "invalid invoice: " + e.Reason }

var (
	ErrInvoiceInvalid       = InvoiceError{Reason: "could not decode payment request"}
	ErrInvoiceExpired       = InvoiceError{Reason: "payment request has expired"}
	ErrInvoiceAmountMismatch = InvoiceError{Reason: "payment request amount does not match"}
)

// ProtocolError wraps a cashu.Error returned by a mint's HTTP API, so
// callers can distinguish a mint-side protocol rejection (bad request,
// already spent, etc.) from a transport failure.
type ProtocolError struct {
	Mint string
	Err  cashu.Error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("mint '%s' rejected request: %s", e.Mint, e.Err.Error())
}

func (e ProtocolError) Unwrap() error { return e.Err }

// TransportError wraps a network-level failure talking to a mint (DNS,
// connection refused, timeout, malformed HTTP response).
type TransportError struct {
	Mint string
	Err  error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("error reaching mint '%s': %v", e.Mint, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// StoreError wraps a failure from the Store backend (bolt/sql), so callers
// can tell a persistence failure apart from a protocol or transport one.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

// CryptoError wraps a failure in blinding, unblinding, or DLEQ
// verification.
type CryptoError struct {
	Op  string
	Err error
}

func (e CryptoError) Error() string {
	return fmt.Sprintf("crypto error during %s: %v", e.Op, e.Err)
}

func (e CryptoError) Unwrap() error { return e.Err }

// classifyMintErr turns an error returned by a wallet/client.Client call
// into the appropriate ProtocolError/TransportError wrapper, so callers
// further up (SingleMintWallet, MultiMintWallet) only need to check with
// errors.As.
func classifyMintErr(mintURL string, err error) error {
	if err == nil {
		return nil
	}

	var cashuErr cashu.Error
	if errors.As(err, &cashuErr) {
		return ProtocolError{Mint: mintURL, Err: cashuErr}
	}

	return TransportError{Mint: mintURL, Err: err}
}
