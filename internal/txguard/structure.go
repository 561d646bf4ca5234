package txguard

import (
	"encoding/base64"
	"regexp"

	"LootLedger/internal/failure"
)

const (
	signatureLen = 64
	pubkeyLen    = 32

	// maxSignatures bounds the leading signature count so it always fits
	// one compact-u16 byte.
	maxSignatures = 64

	// versionPrefix marks a v0 message; other high-bit values are unknown
	// message versions.
	versionPrefix = 0x80

	// minTransactionSize is the smallest well-formed buffer: signature
	// count, one signature, message header, one account key, the recent
	// blockhash and an instruction count.
	minTransactionSize = 1 + signatureLen + 3 + 1 + pubkeyLen + pubkeyLen + 1
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// checkEncoding runs the cheap string checks that precede decoding.
func checkEncoding(raw string, maxSize int) error {
	if raw == "" {
		return failure.New(failure.InputMalformed, "transaction is empty")
	}
	if !base64Pattern.MatchString(raw) || len(raw)%4 != 0 {
		return failure.New(failure.InputMalformed, "transaction is not standard base64")
	}
	if estimated := len(raw) * 3 / 4; estimated > maxSize {
		return failure.New(failure.InputMalformed, "transaction of ~%d bytes exceeds limit %d", estimated, maxSize)
	}
	return nil
}

func decode(raw string, maxSize int) ([]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "decode base64")
	}
	if len(buf) == 0 {
		return nil, failure.New(failure.InputMalformed, "decoded transaction is empty")
	}
	if len(buf) > maxSize {
		return nil, failure.New(failure.InputMalformed, "transaction of %d bytes exceeds limit %d", len(buf), maxSize)
	}
	return buf, nil
}

// checkStructure rejects buffers that cannot be a wire transaction before
// the full parser sees them.
func checkStructure(buf []byte) error {
	if len(buf) < minTransactionSize {
		return failure.New(failure.InputMalformed, "transaction of %d bytes is below minimum %d", len(buf), minTransactionSize)
	}
	sigCount := int(buf[0])
	if sigCount == 0 || sigCount > maxSignatures {
		return failure.New(failure.InputMalformed, "implausible signature count %d", sigCount)
	}
	msgStart := 1 + sigCount*signatureLen
	headerAt := msgStart
	if msgStart < len(buf) && buf[msgStart]&0x80 != 0 {
		if buf[msgStart] != versionPrefix {
			return failure.New(failure.InputMalformed, "unsupported message version 0x%x", buf[msgStart])
		}
		headerAt++
	}
	if headerAt+3 > len(buf) {
		return failure.New(failure.InputMalformed, "transaction truncated before message header")
	}
	if required := int(buf[headerAt]); required != sigCount {
		return failure.New(failure.InputMalformed, "header requires %d signatures, buffer carries %d", required, sigCount)
	}
	return nil
}
