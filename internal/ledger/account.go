package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeEntryPaid AccountSubType = iota
	SubTypeBuybackReceived

	// System sub-types
	SubTypeSystemTreasury

	// External sub-types
	SubTypeExternalPayments
	SubTypeExternalPayouts
)

// AccountKey identifies one ledger account. Owner is the principal id for
// user accounts and empty otherwise.
type AccountKey struct {
	Scope    AccountScope
	Owner    string
	SubType  AccountSubType
	Currency string
}

// NewUserAccountKey creates a key for a principal's account
func NewUserAccountKey(principalID string, subType AccountSubType, currency string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		Owner:    principalID,
		SubType:  subType,
		Currency: currency,
	}
}

// NewSystemAccountKey creates a key for house accounts
func NewSystemAccountKey(subType AccountSubType, currency string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		SubType:  subType,
		Currency: currency,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, currency string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeExternal,
		SubType:  subType,
		Currency: currency,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner, k.subTypeName(), k.Currency)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Currency)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Currency)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeEntryPaid:
		return "entry_paid"
	case SubTypeBuybackReceived:
		return "buyback_received"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeExternalPayments:
		return "payments"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
