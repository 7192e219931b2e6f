// Package twitter calls the two endpoints the bot writes to: the legacy
// media upload endpoint (OAuth 1.0a) and the v2 tweet creation endpoint
// (OAuth 2.0 bearer).
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markb/mentionbot/internal/authenticator"
	"github.com/markb/mentionbot/internal/autherr"
)

const (
	DefaultUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	DefaultTweetsURL = "https://api.twitter.com/2/tweets"

	maxResponse = 1 << 20
)

// Client selects the authenticator per endpoint.
type Client struct {
	upload    *http.Client
	api       *http.Client
	uploadURL string
	tweetsURL string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the upload and tweet URLs.
func WithEndpoints(uploadURL, tweetsURL string) Option {
	return func(c *Client) {
		c.uploadURL = uploadURL
		c.tweetsURL = tweetsURL
	}
}

// NewClient returns a Client that signs uploads with uploadAuth and tweet
// requests with apiAuth.
func NewClient(uploadAuth, apiAuth authenticator.Authenticator, opts ...Option) *Client {
	base := &http.Client{Timeout: 30 * time.Second}
	c := &Client{
		upload:    authenticator.Client(uploadAuth, base),
		api:       authenticator.Client(apiAuth, base),
		uploadURL: DefaultUploadURL,
		tweetsURL: DefaultTweetsURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Media is the upload endpoint's response.
type Media struct {
	MediaID          int64  `json:"media_id"`
	MediaIDString    string `json:"media_id_string"`
	Size             int64  `json:"size"`
	ExpiresAfterSecs int64  `json:"expires_after_secs"`
}

// UploadMedia uploads base64-encoded image data. additionalOwners travel as
// a signed query parameter; the media itself is an unsigned multipart field.
func (c *Client) UploadMedia(ctx context.Context, mediaBase64 string, additionalOwners []string) (*Media, error) {
	if mediaBase64 == "" {
		return nil, fmt.Errorf("media data is empty")
	}

	u, err := url.Parse(c.uploadURL)
	if err != nil {
		return nil, fmt.Errorf("%w: upload url: %v", autherr.ErrConfig, err)
	}
	if len(additionalOwners) > 0 {
		q := u.Query()
		q.Set("additional_owners", strings.Join(additionalOwners, ","))
		u.RawQuery = q.Encode()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("media_data", mediaBase64); err != nil {
		return nil, fmt.Errorf("write media_data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var media Media
	if err := do(c.upload, req, &media); err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	return &media, nil
}

// Tweet is a created tweet.
type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Reply *replyTo    `json:"reply,omitempty"`
	Media *mediaBlock `json:"media,omitempty"`
}

type replyTo struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type mediaBlock struct {
	MediaIDs []string `json:"media_ids"`
}

// CreateReply posts text as a reply to inReplyTo, attaching mediaIDs.
func (c *Client) CreateReply(ctx context.Context, text, inReplyTo string, mediaIDs []string) (*Tweet, error) {
	payload := createTweetRequest{Text: text}
	if inReplyTo != "" {
		payload.Reply = &replyTo{InReplyToTweetID: inReplyTo}
	}
	if len(mediaIDs) > 0 {
		payload.Media = &mediaBlock{MediaIDs: mediaIDs}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tweetsURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Data Tweet `json:"data"`
	}
	if err := do(c.api, req, &resp); err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	return &resp.Data, nil
}

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api: status=%d body=%s", e.StatusCode, e.Body)
}

func do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", autherr.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &autherr.ProviderError{Kind: autherr.ErrAuthExpired, StatusCode: resp.StatusCode, Description: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &autherr.ProviderError{Kind: autherr.ErrNetwork, StatusCode: resp.StatusCode, Description: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
