// Package oauth1 builds OAuth 1.0a HMAC-SHA1 signed Authorization headers.
package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/codec"
)

const (
	SignatureMethod = "HMAC-SHA1"
	Version         = "1.0"
)

// headerOrder is the order in which oauth_* fields appear in the header.
var headerOrder = []string{
	"oauth_consumer_key",
	"oauth_nonce",
	"oauth_signature",
	"oauth_signature_method",
	"oauth_timestamp",
	"oauth_token",
	"oauth_version",
}

// Credentials holds the consumer and access token pair used for signing.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

func (c Credentials) validate() error {
	var missing []string
	if c.ConsumerKey == "" {
		missing = append(missing, "consumer key")
	}
	if c.ConsumerSecret == "" {
		missing = append(missing, "consumer secret")
	}
	if c.Token == "" {
		missing = append(missing, "access token")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "access token secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", autherr.ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

// SignedRequest is the result of signing one request.
type SignedRequest struct {
	Method     string
	BaseURL    string
	Parameters map[string]string // oauth_* and extra parameters, unencoded
	Nonce      string
	Timestamp  int64
	Signature  string
	Header     string
}

// Signer signs requests with a fixed set of credentials. It holds no mutable
// state and is safe for concurrent use.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() (string, error)
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for oauth_timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithNonceSource overrides the nonce generator.
func WithNonceSource(fn func() (string, error)) Option {
	return func(s *Signer) { s.nonce = fn }
}

// NewSigner returns a Signer for creds. All four credential fields are required.
func NewSigner(creds Credentials, opts ...Option) (*Signer, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	s := &Signer{creds: creds, now: time.Now, nonce: NewNonce}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewNonce returns 32 hex characters drawn from crypto/rand.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: read nonce: %v", autherr.ErrSignature, err)
	}
	return hex.EncodeToString(b), nil
}

// BuildAuthorizationHeader returns the Authorization header value for the
// request. extraParams are the query or form parameters that take part in the
// signature; they are not added to the header.
func (s *Signer) BuildAuthorizationHeader(method, baseURL string, extraParams map[string]string) (string, error) {
	req, err := s.Sign(method, baseURL, extraParams)
	if err != nil {
		return "", err
	}
	return req.Header, nil
}

// Sign computes the signature for the request and returns all intermediate
// values.
func (s *Signer) Sign(method, baseURL string, extraParams map[string]string) (*SignedRequest, error) {
	if method == "" || baseURL == "" {
		return nil, fmt.Errorf("%w: method and base URL are required", autherr.ErrSignature)
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}
	ts := s.now().Unix()

	params := make(map[string]string, len(extraParams)+7)
	for k, v := range extraParams {
		params[k] = v
	}
	params["oauth_consumer_key"] = s.creds.ConsumerKey
	params["oauth_nonce"] = nonce
	params["oauth_signature_method"] = SignatureMethod
	params["oauth_timestamp"] = strconv.FormatInt(ts, 10)
	params["oauth_token"] = s.creds.Token
	params["oauth_version"] = Version

	for k, v := range params {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return nil, fmt.Errorf("%w: parameter %q is not valid UTF-8", autherr.ErrSignature, k)
		}
	}

	base := BaseString(method, baseURL, params)
	sig := Signature(s.creds.ConsumerSecret, s.creds.TokenSecret, base)
	params["oauth_signature"] = sig

	return &SignedRequest{
		Method:     strings.ToUpper(method),
		BaseURL:    baseURL,
		Parameters: params,
		Nonce:      nonce,
		Timestamp:  ts,
		Signature:  sig,
		Header:     header(params),
	}, nil
}

// ParameterString encodes every key and value, sorts by encoded key then
// encoded value, and joins the pairs with "&".
func ParameterString(params map[string]string) string {
	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, kv{codec.PercentEncode(k), codec.PercentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

// BaseString builds the signature base string.
func BaseString(method, baseURL string, params map[string]string) string {
	return strings.ToUpper(method) + "&" +
		codec.PercentEncode(baseURL) + "&" +
		codec.PercentEncode(ParameterString(params))
}

// Signature returns base64(HMAC-SHA1(enc(consumerSecret)&enc(tokenSecret), base)).
func Signature(consumerSecret, tokenSecret, base string) string {
	key := codec.PercentEncode(consumerSecret) + "&" + codec.PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return codec.Base64(mac.Sum(nil))
}

func header(params map[string]string) string {
	fields := make([]string, 0, len(headerOrder))
	for _, k := range headerOrder {
		fields = append(fields, fmt.Sprintf(`%s="%s"`, k, codec.PercentEncode(params[k])))
	}
	return "OAuth " + strings.Join(fields, ", ")
}
