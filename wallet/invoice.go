package wallet

import (
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// parseInvoice decodes a bolt11 payment request and reports the amount it
// asks for, in sats, and whether it has already expired.
func parseInvoice(invoice string) (amountSat uint64, paymentHash string, expired bool, err error) {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return 0, "", false, InvoiceError{Reason: err.Error()}
	}

	amountSat = uint64(bolt11.MSatoshi / 1000)
	expiresAt := time.Unix(int64(bolt11.CreatedAt), 0).Add(time.Duration(bolt11.Expiry) * time.Second)
	return amountSat, bolt11.PaymentHash, time.Now().After(expiresAt), nil
}
