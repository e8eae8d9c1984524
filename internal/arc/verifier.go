package arc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Verifier verifies ARC chains. With a nil KeyLookup only structural
// verification runs, and intact chains report unknown rather than
// pass.
type Verifier struct {
	keys KeyLookup
}

// NewVerifier creates an ARC chain verifier. keys may be nil to
// disable cryptographic verification.
func NewVerifier(keys KeyLookup) *Verifier {
	return &Verifier{keys: keys}
}

// Verify reconstructs the chain from the message's ARC headers and
// verifies every set in ascending instance order. It never trusts a
// later instance's cv= tag to vouch for earlier breakage.
func (v *Verifier) Verify(ctx context.Context, message []byte) (*ChainResult, error) {
	headers, body, err := parseMessage(message)
	if err != nil {
		return nil, err
	}

	sets := extractSets(headers)
	if len(sets) == 0 {
		return &ChainResult{Validation: ChainValidationNone}, nil
	}

	result := &ChainResult{
		TotalSets: len(sets),
		Sets:      make([]*SetResult, 0, len(sets)),
	}

	// Instances must be exactly 1..N, dense and duplicate-free.
	for i, set := range sets {
		if set.Instance == i+1 {
			continue
		}
		result.Validation = ChainValidationFail
		if i > 0 && set.Instance == sets[i-1].Instance {
			result.Error = fmt.Errorf("duplicate ARC instance %d", set.Instance)
		} else {
			result.Error = fmt.Errorf("non-contiguous ARC instance %d at position %d", set.Instance, i+1)
		}
		return result, nil
	}
	if len(sets) > MaxInstances {
		result.Validation = ChainValidationFail
		result.Error = ErrChainTooLong
		return result, nil
	}

	keyless := false
	for _, set := range sets {
		setResult := v.verifySet(ctx, set, headers, body)
		result.Sets = append(result.Sets, setResult)

		if setResult.KeyUnavailable {
			keyless = true
		}
		if !setResult.SealValid || !setResult.MessageSignatureValid {
			result.Validation = ChainValidationFail
			result.Error = setResult.Error
			return result, nil
		}
		result.HighestValid = set.Instance
	}

	// Without keys an intact chain is indistinguishable from a forged
	// one; report unknown, never pass.
	if keyless {
		result.Validation = ChainValidationUnknown
		return result, nil
	}

	result.Validation = ChainValidationPass
	return result, nil
}

// verifySet checks one ARC set structurally and, when a public key is
// available, cryptographically.
func (v *Verifier) verifySet(ctx context.Context, set *Set, headers mail.Header, body []byte) *SetResult {
	result := &SetResult{Instance: set.Instance}

	// A second header of any kind for this instance means someone
	// spliced into the chain; there is no way to know which one the
	// sealer signed.
	for _, name := range []string{hdrSeal, hdrAMS, hdrAAR} {
		if countARCHeaders(headers, name, set.Instance) > 1 {
			result.Error = fmt.Errorf("duplicate %s for instance %d", name, set.Instance)
			return result
		}
	}

	sealParams := parseParams(set.Seal)
	for _, p := range []string{"i", "a", "cv", "d", "s", "b"} {
		if sealParams[p] == "" {
			result.Error = fmt.Errorf("ARC-Seal missing parameter: %s", p)
			return result
		}
	}
	// RFC 8617 §4.1.3: h= is forbidden on ARC-Seal.
	if _, ok := sealParams["h"]; ok {
		result.Error = errors.New("ARC-Seal carries forbidden h tag")
		return result
	}
	if n, _ := strconv.Atoi(sealParams["i"]); n != set.Instance {
		result.Error = errors.New("ARC-Seal instance mismatch")
		return result
	}

	amsParams := parseParams(set.MessageSignature)
	for _, p := range []string{"i", "a", "c", "d", "s", "h", "bh", "b"} {
		if amsParams[p] == "" {
			result.Error = fmt.Errorf("ARC-Message-Signature missing parameter: %s", p)
			return result
		}
	}
	if n, _ := strconv.Atoi(amsParams["i"]); n != set.Instance {
		result.Error = errors.New("ARC-Message-Signature instance mismatch")
		return result
	}

	if v.keys == nil {
		result.SealValid = true
		result.MessageSignatureValid = true
		result.KeyUnavailable = true
		return result
	}

	key, err := v.keys.LookupKey(ctx, sealParams["s"], sealParams["d"])
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			result.Error = fmt.Errorf("instance %d: %w", set.Instance, err)
			return result
		}
		// Transient lookup failure: structure holds but the
		// signatures cannot be checked.
		log.Warn().Err(err).Int("instance", set.Instance).Msg("ARC key lookup failed")
		result.SealValid = true
		result.MessageSignatureValid = true
		result.KeyUnavailable = true
		return result
	}

	if err := verifyMessageSignature(key, set, amsParams, headers, body); err != nil {
		result.Error = fmt.Errorf("instance %d AMS: %w", set.Instance, err)
		return result
	}
	result.MessageSignatureValid = true

	if err := verifySeal(key, set, headers); err != nil {
		result.Error = fmt.Errorf("instance %d seal: %w", set.Instance, err)
		return result
	}
	result.SealValid = true

	return result
}

// verifyMessageSignature recomputes the body hash and header hash for
// one AMS and checks its RSA signature.
func verifyMessageSignature(key *rsa.PublicKey, set *Set, amsParams map[string]string, headers mail.Header, body []byte) error {
	headerCanon, bodyCanon := splitCanonicalization(amsParams["c"])

	canonBody := canonicalizeBody(body, bodyCanon)
	bodyHash := sha256.Sum256(canonBody)
	if base64.StdEncoding.EncodeToString(bodyHash[:]) != amsParams["bh"] {
		return errors.New("body hash mismatch")
	}

	signedHeaders := strings.Split(amsParams["h"], ":")
	data := canonicalizeHeaders(headers, signedHeaders, headerCanon)
	data = append(data, []byte("arc-message-signature:"+canonicalizeHeaderValue(stripSignature(set.MessageSignature), headerCanon))...)

	return verifyRSA(key, data, amsParams["b"])
}

// verifySeal reconstructs the seal input from the chain as received
// and checks the set's seal signature.
func verifySeal(key *rsa.PublicKey, set *Set, headers mail.Header) error {
	var data bytes.Buffer
	writeSealInput(&data, headers, set.Instance,
		set.AuthenticationResults,
		set.MessageSignature,
		stripSignature(set.Seal))

	return verifyRSA(key, data.Bytes(), parseParams(set.Seal)["b"])
}

func verifyRSA(key *rsa.PublicKey, data []byte, sigB64 string) error {
	sigB64 = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, sigB64)

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig); err != nil {
		return errors.New("signature verification failed")
	}
	return nil
}

func splitCanonicalization(c string) (header, body string) {
	header, body = canonRelaxed, canonRelaxed
	parts := strings.SplitN(c, "/", 2)
	if len(parts) > 0 && parts[0] != "" {
		header = parts[0]
	}
	if len(parts) == 2 && parts[1] != "" {
		body = parts[1]
	}
	return header, body
}
