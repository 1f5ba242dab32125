package signing

import (
	"fmt"

	"github.com/cassiomorais/onramp/internal/domain/errors"
)

// Config describes how provider requests are signed.
type Config struct {
	Algorithm Algorithm
	Encoding  Encoding
	Secret    string
}

// NewChain returns the signers to try in order. Only EncodingAuto yields more
// than one: the raw secret, then the base64-decoded secret when the secret
// decodes. Algorithms are never mixed within a chain.
func NewChain(cfg Config) ([]Signer, error) {
	switch cfg.Algorithm {
	case AlgorithmRSA:
		s, err := NewRSASigner(cfg.Secret)
		if err != nil {
			return nil, err
		}
		return []Signer{s}, nil

	case AlgorithmHMAC, "":
		if cfg.Encoding != EncodingAuto {
			s, err := NewHMACSigner(cfg.Secret, cfg.Encoding)
			if err != nil {
				return nil, err
			}
			return []Signer{s}, nil
		}

		raw, err := NewHMACSigner(cfg.Secret, EncodingRaw)
		if err != nil {
			return nil, err
		}
		chain := []Signer{raw}
		if decoded, err := NewHMACSigner(cfg.Secret, EncodingBase64); err == nil {
			chain = append(chain, decoded)
		}
		return chain, nil

	default:
		return nil, errors.NewSigningError(string(cfg.Algorithm),
			fmt.Errorf("%w: %q", errors.ErrUnsupportedAlgorithm, cfg.Algorithm))
	}
}
