package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header names shared between signer and verifier.
const (
	HeaderSignature   = "X-Signature"
	HeaderTimestamp   = "X-Timestamp"
	HeaderNonce       = "X-Nonce"
	HeaderContentHash = "X-Content-Hash"
)

// SignedHeaders is the set of headers a signer attaches to a request.
type SignedHeaders struct {
	Signature   string
	Timestamp   string
	Nonce       string
	ContentHash string
}

// Signer produces signed headers for outbound service-to-service requests.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Sign builds the signed headers for a request. Body may be nil for
// body-less methods; query may be nil when the URL has no parameters.
func (s *Signer) Sign(method, path string, query url.Values, body []byte) (SignedHeaders, error) {
	nonce, err := NewNonce()
	if err != nil {
		return SignedHeaders{}, err
	}

	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	contentHash := ""
	if len(body) > 0 {
		contentHash = hashBody(body)
	}

	canonical := canonicalString(method, path, timestamp, nonce, query, contentHash)
	return SignedHeaders{
		Signature:   computeDigest(s.secret, canonical),
		Timestamp:   timestamp,
		Nonce:       nonce,
		ContentHash: contentHash,
	}, nil
}

// SignRequest signs an outbound request in place, restoring the body after
// hashing it.
func (s *Signer) SignRequest(req *http.Request) error {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	signed, err := s.Sign(req.Method, req.URL.Path, req.URL.Query(), body)
	if err != nil {
		return err
	}

	req.Header.Set(HeaderSignature, signed.Signature)
	req.Header.Set(HeaderTimestamp, signed.Timestamp)
	req.Header.Set(HeaderNonce, signed.Nonce)
	if signed.ContentHash != "" {
		req.Header.Set(HeaderContentHash, signed.ContentHash)
	}
	return nil
}

// NewNonce returns a url-safe random token with 32 bytes of entropy.
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// canonicalString serializes the signature payload deterministically:
// METHOD\nPATH\nTIMESTAMP\nNONCE[\nSORTED_QUERY][\nBODY_HASH]
func canonicalString(method, path, timestamp, nonce string, query url.Values, contentHash string) string {
	parts := []string{strings.ToUpper(method), path, timestamp, nonce}
	if len(query) > 0 {
		parts = append(parts, sortedQuery(query))
	}
	if contentHash != "" {
		parts = append(parts, contentHash)
	}
	return strings.Join(parts, "\n")
}

func sortedQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, k+"="+v)
		}
	}
	return strings.Join(pairs, "&")
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func computeDigest(secret []byte, canonical string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
