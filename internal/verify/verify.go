// Package verify implements the signed-proxy request verification of
// spec.md §4.1: a stateless check that an incoming HTTP request was
// signed by the trusted storefront proxy.
//
// Two independent canonicalizations are supported, tried in order:
// header mode (base64 HMAC over sorted query params + body) and query
// mode (hex HMAC over concatenated key=value params + body, Shopify
// style). Both fold the request body into the signed message so a
// tampered POST body is rejected even if the query string still
// verifies.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// excludedQueryKeys are never part of the query-mode canonical message:
// they carry the signature itself.
var excludedQueryKeys = map[string]bool{
	"signature":    true,
	"hmac":         true,
	"shopify_hmac": true,
}

// Verify reports whether r was signed by secret. It tries header mode
// first (a designated header carrying a base64 signature), then query
// mode (a hex "signature" query parameter). A missing secret, missing
// signature, or any decoding failure yields false — it never panics and
// never short-circuits on a partial byte match.
func Verify(r *http.Request, secret string, signatureHeader string, body []byte) bool {
	if secret == "" {
		return false
	}

	if headerSig := r.Header.Get(signatureHeader); headerSig != "" {
		return verifyHeader(secret, r.URL.RawQuery, headerSig, body)
	}

	if querySig := r.URL.Query().Get("signature"); querySig != "" {
		return verifyQuery(secret, r.URL.Query(), querySig, body)
	}

	return false
}

// verifyHeader implements §4.1(a). The canonical message is the raw,
// percent-encoding-preserved query string with its key=value pairs
// sorted alphabetically by key, joined with "&", followed by "\n" and
// the raw body.
func verifyHeader(secret, rawQuery, headerSigB64 string, body []byte) bool {
	given, err := base64.StdEncoding.DecodeString(headerSigB64)
	if err != nil {
		return false
	}

	canonical := canonicalizeRawQuery(rawQuery) + "\n" + string(body)
	expected := hmacSHA256(secret, canonical)

	return hmac.Equal(expected, given)
}

// verifyQuery implements §4.1(b). The canonical message is the
// concatenation (no separator) of "key=value" pairs in alphabetical key
// order, excluding signature/hmac/shopify_hmac, followed directly by the
// raw body (no separator). Multi-valued keys join their values with commas.
func verifyQuery(secret string, params url.Values, hexSig string, body []byte) bool {
	given, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if excludedQueryKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(params[k], ","))
	}
	sb.Write(body)

	expected := hmacSHA256(secret, sb.String())
	return hmac.Equal(expected, given)
}

// canonicalizeRawQuery sorts a raw (still percent-encoded) query string's
// key=value segments alphabetically by decoded key, preserving each
// segment's original encoding, and rejoins them with "&".
func canonicalizeRawQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	segments := strings.Split(rawQuery, "&")
	type kv struct {
		decodedKey string
		raw        string
	}
	pairs := make([]kv, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		rawKey := seg
		if idx := strings.IndexByte(seg, '='); idx >= 0 {
			rawKey = seg[:idx]
		}
		decodedKey, err := url.QueryUnescape(rawKey)
		if err != nil {
			decodedKey = rawKey
		}
		pairs = append(pairs, kv{decodedKey: decodedKey, raw: seg})
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].decodedKey < pairs[j].decodedKey })

	raws := make([]string, len(pairs))
	for i, p := range pairs {
		raws[i] = p.raw
	}
	return strings.Join(raws, "&")
}

func hmacSHA256(secret, message string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
