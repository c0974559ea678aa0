package domain

// TransferNotice describes a completed ledger transfer delivered to a receiving account.
type TransferNotice struct {
	Contract AccountID `json:"contract"`
	From     AccountID `json:"from"`
	To       AccountID `json:"to"`
	Quantity Amount    `json:"quantity"`
	Memo     string    `json:"memo"`
}

// Currency returns the ledger currency of the transferred quantity.
func (n TransferNotice) Currency() Currency {
	return Currency{Contract: n.Contract, Denom: n.Quantity.Denom}
}
