package model

import "fmt"

// PaymentRequirement is what the issuance API returns with its 402 response.
type PaymentRequirement struct {
	Amount          string `json:"amount"`
	Network         string `json:"network"`
	RelayerContract string `json:"relayerContract"`
}

// Authorization is a TransferWithAuthorization message.
type Authorization struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

type SignedAuthorization struct {
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// Outcome is the per-item result of a blast, kept at the item's batch index.
type Outcome struct {
	Index  int
	TxRef  string
	Reason string
	Err    error
}

func (o Outcome) Success() bool {
	return o.Err == nil
}

func (o Outcome) String() string {
	if o.Success() {
		return fmt.Sprintf("Mint #%d SUCCESS -> %s", o.Index+1, o.TxRef)
	}
	return fmt.Sprintf("Mint #%d FAILED -> %s", o.Index+1, o.Reason)
}

func CountOutcomes(outcomes []Outcome) (success, failed int) {
	for _, o := range outcomes {
		if o.Success() {
			success++
		} else {
			failed++
		}
	}
	return success, failed
}
