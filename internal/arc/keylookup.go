package arc

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrKeyNotFound is returned when the domain publishes no usable
// public key under the queried selector.
var ErrKeyNotFound = errors.New("no public key found")

// KeyLookup resolves the public key a remote signer published at
// <selector>._domainkey.<domain>.
type KeyLookup interface {
	LookupKey(ctx context.Context, selector, domain string) (*rsa.PublicKey, error)
}

// DNSKeyLookup resolves signing keys from DNS TXT records.
type DNSKeyLookup struct {
	Resolver *net.Resolver
}

// LookupKey fetches and parses the DKIM-style TXT record for
// selector._domainkey.domain.
func (d *DNSKeyLookup) LookupKey(ctx context.Context, selector, domain string) (*rsa.PublicKey, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	name := fmt.Sprintf("%s._domainkey.%s", selector, domain)
	records, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}

	for _, record := range records {
		if key, err := ParsePublicKey(record); err == nil {
			return key, nil
		}
	}

	return nil, ErrKeyNotFound
}

// ParsePublicKey extracts the RSA public key from a DKIM TXT record
// value (the p= tag, base64 SubjectPublicKeyInfo).
func ParsePublicKey(record string) (*rsa.PublicKey, error) {
	var keyB64 string
	for _, part := range strings.Split(record, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "p=") {
			keyB64 = strings.ReplaceAll(strings.TrimPrefix(part, "p="), " ", "")
		}
	}
	if keyB64 == "" {
		return nil, ErrKeyNotFound
	}

	der, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
