// Package arc implements ARC (Authenticated Received Chain) signing
// and verification as defined in RFC 8617. ARC preserves email
// authentication results across message forwarding by mailing lists
// and other intermediaries.
package arc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strconv"
	"strings"
)

// MaxInstances is the RFC 8617 cap on chain length.
const MaxInstances = 50

// ErrChainTooLong is returned when a message already carries the
// maximum number of ARC sets.
var ErrChainTooLong = errors.New("ARC chain too long")

// ChainValidation represents the result of ARC chain validation.
type ChainValidation string

const (
	ChainValidationNone    ChainValidation = "none"    // No ARC headers present
	ChainValidationPass    ChainValidation = "pass"    // Chain validated successfully
	ChainValidationFail    ChainValidation = "fail"    // Chain validation failed
	ChainValidationUnknown ChainValidation = "unknown" // Cannot validate (missing keys, etc.)
)

// AuthResult is one upstream authentication result carried into
// ARC-Authentication-Results.
type AuthResult struct {
	Method     string // spf, dkim, dmarc, arc
	Result     string // pass, fail, none, etc.
	Reason     string // optional reason
	Properties map[string]string
}

// Set is one complete ARC header trio (instance i).
type Set struct {
	Instance              int
	Seal                  string // ARC-Seal header value
	MessageSignature      string // ARC-Message-Signature header value
	AuthenticationResults string // ARC-Authentication-Results header value
}

// ChainResult holds the outcome of chain verification.
type ChainResult struct {
	Validation   ChainValidation
	HighestValid int
	TotalSets    int
	Error        error
	Sets         []*SetResult
}

// SetResult holds the verification result for a single ARC set.
type SetResult struct {
	Instance              int
	SealValid             bool
	MessageSignatureValid bool
	KeyUnavailable        bool
	Error                 error
}

const (
	hdrSeal = "Arc-Seal"
	hdrAMS  = "Arc-Message-Signature"
	hdrAAR  = "Arc-Authentication-Results"
)

// parseMessage splits raw RFC 5322 bytes into parsed headers and the
// body.
func parseMessage(message []byte) (mail.Header, []byte, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(message))
	if err != nil {
		return nil, nil, fmt.Errorf("parse message: %w", err)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return msg.Header, body, nil
}

// parseParams parses the tag=value list shared by all three ARC
// headers (RFC 6376 §3.2 grammar).
func parseParams(header string) map[string]string {
	params := make(map[string]string)

	header = strings.ReplaceAll(header, "\r\n", "")
	header = strings.ReplaceAll(header, "\n", "")
	header = strings.ReplaceAll(header, "\t", " ")

	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx == -1 {
			continue
		}
		tag := strings.TrimSpace(part[:idx])
		value := strings.TrimSpace(part[idx+1:])
		params[tag] = value
	}

	return params
}

// instanceOf extracts the i= tag of an ARC header value, or 0.
func instanceOf(header string) int {
	n, _ := strconv.Atoi(parseParams(header)["i"])
	return n
}

// extractSets groups the message's ARC headers into sets sorted by
// ascending instance number. Sets are created from ARC-Seal headers;
// AMS and AAR values are attached by matching instance. Duplicate
// seals are kept so the verifier can observe and reject them.
func extractSets(headers mail.Header) []*Set {
	var sets []*Set

	for _, seal := range headers[hdrSeal] {
		instance := instanceOf(seal)
		if instance <= 0 {
			continue
		}
		sets = append(sets, &Set{Instance: instance, Seal: seal})
	}

	for _, ams := range headers[hdrAMS] {
		instance := instanceOf(ams)
		for _, set := range sets {
			if set.Instance == instance {
				set.MessageSignature = ams
				break
			}
		}
	}

	for _, aar := range headers[hdrAAR] {
		instance := instanceOf(aar)
		for _, set := range sets {
			if set.Instance == instance {
				set.AuthenticationResults = aar
				break
			}
		}
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].Instance < sets[j].Instance
	})

	return sets
}

// arcHeader returns the header value of the given name carrying the
// given instance number, or "".
func arcHeader(headers mail.Header, name string, instance int) string {
	for _, h := range headers[name] {
		if instanceOf(h) == instance {
			return h
		}
	}
	return ""
}

// countARCHeaders counts headers of the given name carrying the given
// instance number. More than one is a malformed chain.
func countARCHeaders(headers mail.Header, name string, instance int) int {
	n := 0
	for _, h := range headers[name] {
		if instanceOf(h) == instance {
			n++
		}
	}
	return n
}

// stripSignature removes the b= tag and its value from an ARC header
// so the remainder matches the parameter string that was originally
// signed.
func stripSignature(header string) string {
	idx := indexBTag(header)
	if idx == -1 {
		return header
	}
	end := strings.Index(header[idx:], ";")
	if end == -1 {
		return header[:idx]
	}
	return header[:idx] + header[idx+end+1:]
}

// indexBTag finds the start of the b= tag, skipping bh=.
func indexBTag(header string) int {
	for i := 0; i+1 < len(header); i++ {
		if header[i] != 'b' || header[i+1] != '=' {
			continue
		}
		// Not bh=, and preceded by start, space, tab, fold or ';'.
		if i == 0 {
			return i
		}
		switch header[i-1] {
		case ' ', '\t', ';', '\n':
			return i
		}
	}
	return -1
}
