package ledger

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
)

const (
	SignerSimulated = "simulated"
	SignerMLDSA44   = "mldsa44"
)

var (
	ErrVerifyUnsupported = errors.New("ledger: signer cannot verify with a public key")
	ErrInvalidKey        = errors.New("ledger: invalid key")
)

// Signer produces and checks transfer signatures. Keys and signatures are opaque printable strings.
type Signer interface {
	Name() string
	GenerateKey() (pub string, priv string, err error)
	Sign(data string, secret string) (string, error)
	// Verify checks sig against the public identity of the signer.
	// Schemes that cannot verify without the secret return ErrVerifyUnsupported.
	Verify(data string, sig string, public string) (bool, error)
}

// SimulatedSigner computes Sign(m, k) = Digest(m ‖ k). It is a placeholder and offers no security:
// anyone holding the secret can forge, and nobody without it can verify.
type SimulatedSigner struct {
	Digest Digest
	Rand   io.Reader
}

var _ Signer = (*SimulatedSigner)(nil)

func NewSimulatedSigner(d Digest) *SimulatedSigner {
	return &SimulatedSigner{Digest: d, Rand: rand.Reader}
}

func (s *SimulatedSigner) Name() string {
	return SignerSimulated
}

// GenerateKey returns two unrelated random 32 byte strings.
func (s *SimulatedSigner) GenerateKey() (string, string, error) {
	buf := make([]byte, 64)
	if _, err := io.ReadFull(s.Rand, buf); err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(buf[:32]), base64.StdEncoding.EncodeToString(buf[32:]), nil
}

func (s *SimulatedSigner) Sign(data string, secret string) (string, error) {
	return s.Digest(data + secret), nil
}

func (s *SimulatedSigner) Verify(string, string, string) (bool, error) {
	return false, ErrVerifyUnsupported
}

// VerifyWithSecret recomputes the signature. This is the only check the scheme allows.
func (s *SimulatedSigner) VerifyWithSecret(data string, sig string, secret string) bool {
	return s.Digest(data+secret) == sig
}

// MLDSASigner is a genuine public key scheme (ML-DSA-44). Keys and signatures are base64 encoded.
type MLDSASigner struct {
	scheme sign.Scheme
}

var _ Signer = (*MLDSASigner)(nil)

func NewMLDSASigner() *MLDSASigner {
	return &MLDSASigner{scheme: mldsa44.Scheme()}
}

func (s *MLDSASigner) Name() string {
	return SignerMLDSA44
}

func (s *MLDSASigner) GenerateKey() (string, string, error) {
	pk, sk, err := s.scheme.GenerateKey()
	if err != nil {
		return "", "", err
	}
	pb, err := pk.MarshalBinary()
	if err != nil {
		return "", "", err
	}
	sb, err := sk.MarshalBinary()
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(pb), base64.StdEncoding.EncodeToString(sb), nil
}

func (s *MLDSASigner) Sign(data string, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return base64.StdEncoding.EncodeToString(s.scheme.Sign(sk, []byte(data), nil)), nil
}

func (s *MLDSASigner) Verify(data string, sig string, public string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(public)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sigRaw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, nil
	}
	return s.scheme.Verify(pk, []byte(data), sigRaw, nil), nil
}

func SignerByName(name string, d Digest) (Signer, error) {
	switch name {
	case "", SignerSimulated:
		return NewSimulatedSigner(d), nil
	case SignerMLDSA44:
		return NewMLDSASigner(), nil
	default:
		return nil, fmt.Errorf("unknown signer %q", name)
	}
}
