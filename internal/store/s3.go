package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

// S3Options holds configuration for the S3 backend.
type S3Options struct {
	// Bucket is the S3 bucket name (required)
	Bucket string

	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services)
	Endpoint string

	// AccessKeyID is the AWS access key (optional if using IAM roles)
	AccessKeyID string

	// SecretAccessKey is the AWS secret key (optional if using IAM roles)
	SecretAccessKey string

	// UsePathStyle forces path-style addressing (MinIO and some S3-compatible services)
	UsePathStyle bool

	// Prefix is prepended to every object key
	Prefix string
}

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps each client's pair in one JSON object and uses S3
// conditional writes (If-Match / If-None-Match) for the version check.
//
// Take on flow states is a read followed by a delete and is not atomic: two
// concurrent callbacks for the same state may both read it before either
// deletes it.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Store creates an S3-backed store from opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket name is required", autherr.ErrConfig)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return newS3Store(client, opts.Bucket, opts.Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) tokenKey(clientID string) string {
	return s.prefix + "tokens/" + clientID + ".json"
}

func (s *S3Store) flowKey(id string) string {
	return s.prefix + "flows/" + id + ".json"
}

// s3Pair is the stored object body.
type s3Pair struct {
	tokens.Pair
	UpdatedAt time.Time `json:"updated_at"`
}

// Get reads the token object for clientID.
func (s *S3Store) Get(ctx context.Context, clientID string) (*tokens.Pair, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}
	obj, _, err := s.getPair(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &obj.Pair, nil
}

func (s *S3Store) getPair(ctx context.Context, clientID string) (*s3Pair, string, error) {
	body, etag, err := s.getObject(ctx, s.tokenKey(clientID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, "", fmt.Errorf("token pair for %s: %w", clientID, autherr.ErrNotFound)
		}
		return nil, "", fmt.Errorf("get token object: %w", err)
	}
	var obj s3Pair
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, "", fmt.Errorf("decode token object: %w", err)
	}
	return &obj, etag, nil
}

// Put writes the token object. The first write requires that no object
// exists; later writes require the ETag of the object holding prevVersion.
func (s *S3Store) Put(ctx context.Context, clientID string, pair *tokens.Pair, prevVersion int64) error {
	if err := validatePut(clientID, pair); err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.tokenKey(clientID)),
		ContentType: aws.String("application/json"),
	}

	if prevVersion == 0 {
		in.IfNoneMatch = aws.String("*")
	} else {
		cur, etag, err := s.getPair(ctx, clientID)
		if errors.Is(err, autherr.ErrNotFound) {
			return conflict(clientID, prevVersion, 0)
		}
		if err != nil {
			return err
		}
		if cur.Version != prevVersion {
			return conflict(clientID, prevVersion, cur.Version)
		}
		in.IfMatch = aws.String(etag)
	}

	obj := s3Pair{Pair: *pair, UpdatedAt: s.now().UTC()}
	obj.Version = prevVersion + 1
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode token object: %w", err)
	}
	in.Body = bytes.NewReader(body)

	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isPreconditionError(err) {
			return fmt.Errorf("%w: client %s changed concurrently", autherr.ErrStoreConflict, clientID)
		}
		return fmt.Errorf("put token object: %w", err)
	}

	pair.Version = obj.Version
	return nil
}

// Save writes the flow state object.
func (s *S3Store) Save(ctx context.Context, state *oauth.FlowState) error {
	if state == nil || state.ID == "" {
		return ErrEmptyStateID
	}
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.flowKey(state.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return fmt.Errorf("put flow state: %w", err)
	}
	return nil
}

// Take reads then deletes the flow state object.
func (s *S3Store) Take(ctx context.Context, id string) (*oauth.FlowState, error) {
	key := s.flowKey(id)
	body, _, err := s.getObject(ctx, key)
	if err != nil {
		if isNotFoundError(err) {
			return nil, oauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("get flow state: %w", err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("delete flow state: %w", err)
	}

	var state oauth.FlowState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode flow state: %w", err)
	}
	if state.Expired(s.now()) {
		return nil, oauth.ErrStateNotFound
	}
	return &state, nil
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	return body, aws.ToString(out.ETag), nil
}

func isNotFoundError(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return httpStatus(err) == http.StatusNotFound
}

func isPreconditionError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	status := httpStatus(err)
	return status == http.StatusPreconditionFailed || status == http.StatusConflict
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
