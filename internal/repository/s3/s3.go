// Package s3 stores snapshots as a single object in an S3-compatible bucket
// (AWS S3 or MinIO).
package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-keeper/internal/crypto"
	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// Object metadata keys.
const (
	metaRevision = "revision"
	metaDigest   = "digest"
	metaSavedAt  = "saved-at"
)

var sealAAD = []byte("clinic-keeper/s3")

// Config holds the connection parameters.
type Config struct {
	Region          string
	Bucket          string
	Key             string // object key, "clinic/db.json" if empty
	Endpoint        string // optional; custom endpoint such as MinIO
	AccessKeyID     string // optional, falls back to the default credentials chain
	SecretAccessKey string
	PathStyle       bool
}

// Repo implements repository.SnapshotRepository on one object.
type Repo struct {
	client *s3.Client
	bucket string
	key    string
	sealer *crypto.Sealer
	now    func() time.Time
}

var _ repository.SnapshotRepository = (*Repo)(nil)

type options struct {
	sealer *crypto.Sealer
	http   *http.Client
	now    func() time.Time
}

// Option configures a Repo.
type Option func(*options)

// WithSealer encrypts the stored object.
func WithSealer(s *crypto.Sealer) Option { return func(o *options) { o.sealer = s } }

// WithHTTPClient replaces the transport used by the SDK.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.http = c } }

// WithClock overrides the save timestamp source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New creates a repository from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Repo, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	key := cfg.Key
	if key == "" {
		key = "clinic/db.json"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		so.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if o.http != nil {
			so.HTTPClient = o.http
		}
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		so.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Repo{client: client, bucket: cfg.Bucket, key: key, sealer: o.sealer, now: o.now}, nil
}

// Load fetches and verifies the object.
func (r *Repo) Load(ctx context.Context) (*model.StoredSnapshot, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &r.bucket, Key: &r.key})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3://%s/%s: %w", r.bucket, r.key, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(out.Body)
	_ = out.Body.Close()
	if err != nil {
		return nil, err
	}
	if crypto.IsSealed(b) {
		if r.sealer == nil {
			return nil, fmt.Errorf("%w: s3://%s/%s is sealed, passphrase required", errs.ErrMalformedSnapshot, r.bucket, r.key)
		}
		if b, err = r.sealer.Open(b, sealAAD); err != nil {
			return nil, err
		}
	}

	s := &model.StoredSnapshot{Document: storage.Snapshot(b)}
	if err := decodeMeta(out.Metadata, &s.Revision); err != nil {
		return nil, err
	}
	if err := repository.Verify(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save overwrites the object.
func (r *Repo) Save(ctx context.Context, doc storage.Snapshot) (model.Revision, error) {
	rev, err := repository.Stamp(doc, 0, r.now())
	if err != nil {
		return model.Revision{}, err
	}
	body := []byte(doc)
	contentType := "application/json"
	if r.sealer != nil {
		if body, err = r.sealer.Seal(body, sealAAD); err != nil {
			return model.Revision{}, err
		}
		contentType = "application/octet-stream"
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &r.bucket,
		Key:           &r.key,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   &contentType,
		Metadata: map[string]string{
			metaRevision: rev.ID.String(),
			metaDigest:   hex.EncodeToString(rev.Digest),
			metaSavedAt:  rev.SavedAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return model.Revision{}, fmt.Errorf("put s3://%s/%s: %w", r.bucket, r.key, err)
	}
	return rev, nil
}

// Close is a no-op.
func (r *Repo) Close() error { return nil }

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

func metaValue(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// decodeMeta reads the revision; objects without metadata load unverified.
func decodeMeta(md map[string]string, rev *model.Revision) error {
	if id := metaValue(md, metaRevision); id != "" {
		u, err := uuid.FromString(id)
		if err != nil {
			return fmt.Errorf("%w: revision %q: %w", errs.ErrMalformedSnapshot, id, err)
		}
		rev.ID = u
	}
	if d := metaValue(md, metaDigest); d != "" {
		b, err := hex.DecodeString(d)
		if err != nil {
			return fmt.Errorf("%w: digest: %w", errs.ErrMalformedSnapshot, err)
		}
		rev.Digest = b
	}
	if at := metaValue(md, metaSavedAt); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return fmt.Errorf("%w: saved-at: %w", errs.ErrMalformedSnapshot, err)
		}
		rev.SavedAt = t
	}
	return nil
}
