package arc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mailforge/smtp-edge/internal/directory"
)

// SignatureConfig holds ARC signature configuration.
type SignatureConfig struct {
	// Headers to sign in ARC-Message-Signature, in preference order.
	Headers []string
	// HeaderCanonicalization is relaxed or simple.
	HeaderCanonicalization string
	// BodyCanonicalization is relaxed or simple.
	BodyCanonicalization string
}

// DefaultSignatureConfig returns the default ARC signature
// configuration.
func DefaultSignatureConfig() *SignatureConfig {
	return &SignatureConfig{
		Headers: []string{
			"from", "to", "cc", "subject", "date",
			"message-id", "reply-to", "references",
			"in-reply-to", "content-type", "mime-version",
			"dkim-signature",
		},
		HeaderCanonicalization: canonRelaxed,
		BodyCanonicalization:   canonRelaxed,
	}
}

// Signer adds ARC header sets to messages passing through the mail
// system. Safe for concurrent use.
type Signer struct {
	keys     directory.KeyProvider
	hostname string
	config   *SignatureConfig
	now      func() time.Time
}

// NewSigner creates an ARC signer. A nil config selects the defaults.
func NewSigner(keys directory.KeyProvider, hostname string, config *SignatureConfig) *Signer {
	if config == nil {
		config = DefaultSignatureConfig()
	}
	return &Signer{
		keys:     keys,
		hostname: hostname,
		config:   config,
		now:      time.Now,
	}
}

// Sign prepends a new ARC set (Seal, Message-Signature,
// Authentication-Results) to the message. chainValidation is the
// outcome the caller asserts over prior instances: none for the first
// hop, otherwise the verifier's result.
func (s *Signer) Sign(ctx context.Context, domainName string, message []byte, authResults []AuthResult, chainValidation ChainValidation) ([]byte, error) {
	// ARC uses the same key infrastructure as DKIM.
	key, err := s.keys.GetActiveDKIMKey(ctx, domainName)
	if err != nil {
		return nil, fmt.Errorf("look up signing key: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("no active signing key for domain %s", domainName)
	}

	headers, body, err := parseMessage(message)
	if err != nil {
		return nil, err
	}

	sets := extractSets(headers)
	instance := 1
	if len(sets) > 0 {
		instance = sets[len(sets)-1].Instance + 1
	}
	if instance > MaxInstances {
		return nil, ErrChainTooLong
	}

	aar := s.buildAuthenticationResults(instance, authResults, chainValidation)

	ams, err := s.buildMessageSignature(instance, key, domainName, headers, body)
	if err != nil {
		return nil, fmt.Errorf("build ARC-Message-Signature: %w", err)
	}

	seal, err := s.buildSeal(instance, key, domainName, chainValidation, headers, aar, ams)
	if err != nil {
		return nil, fmt.Errorf("build ARC-Seal: %w", err)
	}

	// The Seal is computed last but placed first: it commits to the
	// contents of both AMS and AAR.
	var out bytes.Buffer
	fmt.Fprintf(&out, "ARC-Seal: %s\r\n", seal)
	fmt.Fprintf(&out, "ARC-Message-Signature: %s\r\n", ams)
	fmt.Fprintf(&out, "ARC-Authentication-Results: %s\r\n", aar)
	out.Write(message)

	log.Debug().
		Str("domain", domainName).
		Int("instance", instance).
		Str("chain_validation", string(chainValidation)).
		Msg("message signed with ARC")

	return out.Bytes(), nil
}

// buildAuthenticationResults renders the ARC-Authentication-Results
// value. Method and result tokens are emitted unquoted.
func (s *Signer) buildAuthenticationResults(instance int, authResults []AuthResult, chainValidation ChainValidation) string {
	parts := []string{
		fmt.Sprintf("i=%d", instance),
		s.hostname,
		fmt.Sprintf("arc=%s", chainValidation),
	}

	for _, ar := range authResults {
		result := fmt.Sprintf("%s=%s", ar.Method, ar.Result)
		if ar.Reason != "" {
			result += fmt.Sprintf(" (%s)", ar.Reason)
		}
		for k, v := range ar.Properties {
			result += fmt.Sprintf(" %s=%s", k, v)
		}
		parts = append(parts, result)
	}

	return strings.Join(parts, "; ")
}

// buildMessageSignature renders and signs the ARC-Message-Signature
// value.
func (s *Signer) buildMessageSignature(instance int, key *directory.DKIMKey, domainName string, headers mail.Header, body []byte) (string, error) {
	canonBody := canonicalizeBody(body, s.config.BodyCanonicalization)
	bodyHash := sha256.Sum256(canonBody)
	bodyHashB64 := base64.StdEncoding.EncodeToString(bodyHash[:])

	// Sign only the configured headers actually present, preserving
	// the configured order.
	var signedHeaders []string
	for _, h := range s.config.Headers {
		if headers.Get(h) != "" {
			signedHeaders = append(signedHeaders, h)
		}
	}

	params := fmt.Sprintf("i=%d; a=%s; c=%s/%s; d=%s; s=%s; t=%d; h=%s; bh=%s; ",
		instance,
		key.Algorithm,
		s.config.HeaderCanonicalization,
		s.config.BodyCanonicalization,
		domainName,
		key.Selector,
		s.now().Unix(),
		strings.Join(signedHeaders, ":"),
		bodyHashB64,
	)

	data := canonicalizeHeaders(headers, signedHeaders, s.config.HeaderCanonicalization)
	data = append(data, []byte("arc-message-signature:"+canonicalizeHeaderValue(params, s.config.HeaderCanonicalization))...)

	sig, err := signRSA(key.PrivateKey, data)
	if err != nil {
		return "", err
	}

	return params + "b=" + foldSignature(sig), nil
}

// buildSeal renders and signs the ARC-Seal value. The Seal covers the
// full chain of prior sets plus the new AAR and AMS; it carries no h=
// or bh= tags.
func (s *Signer) buildSeal(instance int, key *directory.DKIMKey, domainName string, cv ChainValidation, headers mail.Header, aar, ams string) (string, error) {
	params := fmt.Sprintf("i=%d; a=%s; cv=%s; d=%s; s=%s; t=%d; ",
		instance,
		key.Algorithm,
		cv,
		domainName,
		key.Selector,
		s.now().Unix(),
	)

	var data bytes.Buffer
	writeSealInput(&data, headers, instance, aar, ams, params)

	sig, err := signRSA(key.PrivateKey, data.Bytes())
	if err != nil {
		return "", err
	}

	return params + "b=" + foldSignature(sig), nil
}

// writeSealInput assembles the ARC-Seal signing input: the full trio
// of every prior instance in ascending order, then the new AAR and
// AMS, then the new Seal's own parameters without b=.
func writeSealInput(buf *bytes.Buffer, headers mail.Header, instance int, aar, ams, sealParams string) {
	for inst := 1; inst < instance; inst++ {
		if h := arcHeader(headers, hdrSeal, inst); h != "" {
			fmt.Fprintf(buf, "arc-seal:%s\r\n", canonicalizeHeaderValue(h, canonRelaxed))
		}
		if h := arcHeader(headers, hdrAMS, inst); h != "" {
			fmt.Fprintf(buf, "arc-message-signature:%s\r\n", canonicalizeHeaderValue(h, canonRelaxed))
		}
		if h := arcHeader(headers, hdrAAR, inst); h != "" {
			fmt.Fprintf(buf, "arc-authentication-results:%s\r\n", canonicalizeHeaderValue(h, canonRelaxed))
		}
	}

	fmt.Fprintf(buf, "arc-authentication-results:%s\r\n", canonicalizeHeaderValue(aar, canonRelaxed))
	fmt.Fprintf(buf, "arc-message-signature:%s\r\n", canonicalizeHeaderValue(ams, canonRelaxed))
	fmt.Fprintf(buf, "arc-seal:%s", canonicalizeHeaderValue(sealParams, canonRelaxed))
}

func signRSA(key *rsa.PrivateKey, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
