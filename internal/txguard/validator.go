// Package txguard validates untrusted, externally signed ledger
// transactions and rejects replays of ones already settled.
package txguard

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
	"LootLedger/internal/retry"
)

const (
	// DefaultMaxSize is the decoded size ceiling in bytes.
	DefaultMaxSize = 10240
	// DefaultMaxInstructions caps instruction count per transaction.
	DefaultMaxInstructions = 100
)

// Validated is a transaction that passed every check.
type Validated struct {
	SignatureID string
	FeePayer    string
	Transaction *solana.Transaction
}

// Validator runs the full validation pipeline.
type Validator struct {
	guard           *ReplayGuard
	reader          LedgerReader
	runner          *retry.Runner
	maxInstructions int
	logger          zerolog.Logger
	metrics         *observability.Metrics
}

// NewValidator creates a validator.
func NewValidator(guard *ReplayGuard, maxInstructions int, logger zerolog.Logger, metrics *observability.Metrics) *Validator {
	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}
	return &Validator{
		guard:           guard,
		maxInstructions: maxInstructions,
		logger:          logger,
		metrics:         metrics,
	}
}

// WithLedger enables VerifyTransactionOnChain.
func (v *Validator) WithLedger(reader LedgerReader, runner *retry.Runner) *Validator {
	v.reader = reader
	v.runner = runner
	return v
}

// Guard exposes the replay guard for marking settled signatures.
func (v *Validator) Guard() *ReplayGuard { return v.guard }

// ValidateTransaction checks raw (base64) in order: encoding, estimated
// size, decoded size, wire structure, parse, signatures, fee payer, asset
// reference, instruction count, primary signature and replay. The first
// failing stage decides the error.
func (v *Validator) ValidateTransaction(ctx context.Context, raw, expectedAssetID, expectedPrincipalID string, maxSize int) (*Validated, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	// Steps 1-2: encoding and estimated size
	if err := checkEncoding(raw, maxSize); err != nil {
		return nil, v.reject("encoding", err)
	}

	// Step 3: decode
	buf, err := decode(raw, maxSize)
	if err != nil {
		return nil, v.reject("decode", err)
	}

	// Step 4: cheap structure check
	if err := checkStructure(buf); err != nil {
		return nil, v.reject("structure", err)
	}

	// Step 5: full parse
	tx, err := parseTransaction(buf)
	if err != nil {
		return nil, v.reject("parse", err)
	}

	// Step 6: at least one real signature
	if !hasSignature(tx) {
		return nil, v.reject("signatures", failure.New(failure.InputMalformed, "transaction carries no signatures"))
	}

	// Step 7: fee payer
	feePayer, err := v.checkFeePayer(tx, expectedPrincipalID)
	if err != nil {
		return nil, v.reject("fee_payer", err)
	}

	// Step 8: asset reference (informational)
	v.checkAssetReference(tx, expectedAssetID)

	// Step 9: instruction count
	if n := len(tx.Message.Instructions); n == 0 || n > v.maxInstructions {
		return nil, v.reject("instructions", failure.New(failure.InputMalformed, "instruction count %d outside 1..%d", n, v.maxInstructions))
	}

	// Step 10: primary signature
	primary := tx.Signatures[0]
	if primary == (solana.Signature{}) {
		return nil, v.reject("primary_signature", failure.New(failure.InputMalformed, "primary signature slot is empty"))
	}
	signatureID := primary.String()

	// Step 11: replay
	processed, err := v.guard.IsProcessed(ctx, signatureID)
	if err != nil {
		return nil, v.reject("replay", err)
	}
	if processed {
		return nil, v.reject("replay", failure.New(failure.ReplayDetected, "signature %s already processed", observability.ShortID(signatureID)))
	}

	v.record("complete", "ok")
	return &Validated{SignatureID: signatureID, FeePayer: feePayer, Transaction: tx}, nil
}

// parseTransaction deserializes buf. Parser panics on hostile input become
// INPUT_MALFORMED.
func parseTransaction(buf []byte) (tx *solana.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = failure.New(failure.InputMalformed, "transaction parser panicked: %v", r)
		}
	}()
	tx, err = solana.TransactionFromDecoder(bin.NewBinDecoder(buf))
	if err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "deserialize transaction")
	}
	if len(tx.Signatures) == 0 {
		return nil, failure.New(failure.InputMalformed, "transaction has no signature slots")
	}
	return tx, nil
}

func hasSignature(tx *solana.Transaction) bool {
	for _, sig := range tx.Signatures {
		if sig != (solana.Signature{}) {
			return true
		}
	}
	return false
}

// checkFeePayer compares the first static account key with the expected
// principal. Only a definite mismatch rejects; anything it cannot decide
// is logged.
func (v *Validator) checkFeePayer(tx *solana.Transaction, expectedPrincipalID string) (string, error) {
	if len(tx.Message.AccountKeys) == 0 {
		v.logger.Warn().Msg("transaction has no static account keys, fee payer unknown")
		return "", nil
	}
	feePayer := tx.Message.AccountKeys[0]
	expected, err := solana.PublicKeyFromBase58(expectedPrincipalID)
	if err != nil {
		v.logger.Warn().
			Str("principal", expectedPrincipalID).
			Msg("expected principal is not a public key, skipping fee payer check")
		return feePayer.String(), nil
	}
	if !feePayer.Equals(expected) {
		return "", failure.New(failure.InputMalformed, "fee payer %s is not principal %s", feePayer, expected)
	}
	return feePayer.String(), nil
}

func (v *Validator) checkAssetReference(tx *solana.Transaction, expectedAssetID string) {
	asset, err := solana.PublicKeyFromBase58(expectedAssetID)
	if err != nil {
		v.logger.Debug().Str("asset", expectedAssetID).Msg("asset id is not a public key, skipping reference check")
		return
	}
	for _, key := range tx.Message.AccountKeys {
		if key.Equals(asset) {
			return
		}
	}
	ev := v.logger.Warn().Str("asset", expectedAssetID)
	if tx.Message.IsVersioned() && len(tx.Message.AddressTableLookups) > 0 {
		ev = ev.Bool("lookup_tables", true)
	}
	ev.Msg("expected asset not among static account keys")
}

func (v *Validator) reject(stage string, err error) error {
	v.record(stage, string(failure.CodeOf(err)))
	v.logger.Info().Str("stage", stage).Err(err).Msg("transaction rejected")
	return fmt.Errorf("validate transaction: %w", err)
}

func (v *Validator) record(stage, result string) {
	if v.metrics != nil {
		v.metrics.TxValidations.WithLabelValues(stage, result).Inc()
	}
}
