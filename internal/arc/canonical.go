package arc

import (
	"bytes"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Canonicalization algorithms from RFC 6376 §3.4, reused by ARC.
const (
	canonSimple  = "simple"
	canonRelaxed = "relaxed"
)

var wspRun = regexp.MustCompile(`[ \t]+`)

func canonicalizeBody(body []byte, method string) []byte {
	if method == canonSimple {
		return canonicalizeBodySimple(body)
	}
	return canonicalizeBodyRelaxed(body)
}

// canonicalizeBodySimple strips trailing empty lines, keeping a single
// terminating CRLF on non-empty bodies.
func canonicalizeBodySimple(body []byte) []byte {
	body = bytes.TrimRight(body, "\r\n")
	if len(body) > 0 {
		body = append(body, '\r', '\n')
	}
	return body
}

// canonicalizeBodyRelaxed collapses whitespace runs within lines,
// strips trailing whitespace per line and trailing empty lines, and
// terminates with a single CRLF. Idempotent.
func canonicalizeBodyRelaxed(body []byte) []byte {
	lines := bytes.Split(body, []byte("\n"))
	result := make([][]byte, 0, len(lines))

	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\r"))
		line = wspRun.ReplaceAll(line, []byte(" "))
		line = bytes.TrimRight(line, " \t")
		result = append(result, line)
	}

	for len(result) > 0 && len(result[len(result)-1]) == 0 {
		result = result[:len(result)-1]
	}

	if len(result) == 0 {
		return []byte("\r\n")
	}

	output := bytes.Join(result, []byte("\r\n"))
	return append(output, '\r', '\n')
}

// canonicalizeHeaders renders the named headers as signing input, one
// "name:value\r\n" line per header in the given order.
func canonicalizeHeaders(headers mail.Header, names []string, method string) []byte {
	var buf bytes.Buffer

	for _, name := range names {
		value := headers.Get(name)
		if value == "" {
			continue
		}

		if method == canonSimple {
			buf.WriteString(fmt.Sprintf("%s: %s", name, value))
		} else {
			buf.WriteString(fmt.Sprintf("%s:%s", strings.ToLower(name), canonicalizeHeaderValue(value, method)))
		}
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

// canonicalizeHeaderValue applies relaxed value canonicalization:
// unfold continuations, collapse whitespace runs, trim ends.
func canonicalizeHeaderValue(value, method string) string {
	if method == canonSimple {
		return value
	}

	value = strings.ReplaceAll(value, "\r\n ", " ")
	value = strings.ReplaceAll(value, "\r\n\t", " ")
	value = wspRun.ReplaceAllString(value, " ")

	return strings.TrimSpace(value)
}

// foldSignature breaks a base64 signature into 72-character lines
// joined by CRLF plus tab, per the continuation-line convention.
func foldSignature(sig string) string {
	const lineLen = 72
	var b strings.Builder

	for i := 0; i < len(sig); i += lineLen {
		end := i + lineLen
		if end > len(sig) {
			end = len(sig)
		}
		if i > 0 {
			b.WriteString("\r\n\t")
		}
		b.WriteString(sig[i:end])
	}

	return b.String()
}
