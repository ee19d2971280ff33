// Package identifier classifies user input as a Solana account address or a
// transaction signature. Classification looks only at length; it does not
// decode or validate the encoding.
package identifier

import (
	"strings"
	"unicode/utf8"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
)

type Kind string

const (
	KindAccountAddress       Kind = "accountAddress"
	KindTransactionSignature Kind = "txHash"
)

// MaxAddressLength is the longest input still treated as an account address.
// Base58 public keys encode to at most 44 characters; signatures are longer.
const MaxAddressLength = 44

type Identifier struct {
	Kind  Kind   `json:"type"`
	Value string `json:"identifier"`
}

func (id Identifier) IsAddress() bool   { return id.Kind == KindAccountAddress }
func (id Identifier) IsSignature() bool { return id.Kind == KindTransactionSignature }

// Classify trims the input and picks a kind by character count.
func Classify(input string) (Identifier, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return Identifier{}, clierr.InvalidIdentifier(value)
	}
	return Identifier{Kind: KindOf(value), Value: value}, nil
}

// KindOf is the total length rule: <= 44 characters is an address.
func KindOf(value string) Kind {
	if utf8.RuneCountInString(value) <= MaxAddressLength {
		return KindAccountAddress
	}
	return KindTransactionSignature
}
