package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Digest maps arbitrary text to a printable hash string.
type Digest func(data string) string

const (
	DigestSHA256   = "sha256"
	DigestSHA3_256 = "sha3-256"
)

// SHA256 is the default digest: base64 of the SHA-256 sum.
func SHA256(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func SHA3_256(data string) string {
	sum := sha3.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func DigestByName(name string) (Digest, error) {
	switch name {
	case "", DigestSHA256:
		return SHA256, nil
	case DigestSHA3_256:
		return SHA3_256, nil
	default:
		return nil, fmt.Errorf("unknown digest %q", name)
	}
}
