package models

// SchemeExact is the only payment scheme the coordinator recognizes.
const SchemeExact = "exact"

// PaymentRequirement is one entry of a 402 challenge's accepts array:
// what an agent demands before it will execute.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired Atomic `json:"maxAmountRequired"`
	Resource          string `json:"resource,omitempty"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int64  `json:"maxTimeoutSeconds"`
}

// PaymentChallenge is the payload of a 402 JSON-RPC error.
type PaymentChallenge struct {
	Accepts []PaymentRequirement `json:"accepts"`
	Error   string               `json:"error,omitempty"`
}

// PaymentAuthorization binds sender, receiver, amount and a validity
// window under a signature; attached to a retried request as proof.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       Atomic `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	// Nonce is 32 random bytes, hex encoded.
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// PaymentProof is the authorization plus the echoed challenge entry,
// carried in the retry message's metadata.
type PaymentProof struct {
	Authorization PaymentAuthorization `json:"authorization"`
	Requirement   PaymentRequirement   `json:"requirement"`
	TxHash        string               `json:"transactionHash"`
	Network       string               `json:"network"`
	Payer         string               `json:"payer"`
}
