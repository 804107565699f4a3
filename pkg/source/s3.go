package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/dbbot/pkg/config"
)

const s3Scheme = "s3"

// S3Reader lists and downloads result documents from S3-compatible storage.
type S3Reader struct {
	log     logrus.FieldLogger
	cfg     *config.S3SourceConfig
	client  *s3.Client
	limiter *rate.Limiter
}

// NewS3Reader creates a new S3Reader from the given configuration.
func NewS3Reader(
	log logrus.FieldLogger,
	cfg *config.S3SourceConfig,
) *S3Reader {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &S3Reader{
		log:     log.WithField("component", "s3-reader"),
		cfg:     cfg,
		client:  newS3Client(cfg),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func newS3Client(cfg *config.S3SourceConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = config.DefaultS3Region
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

// IsS3URL reports whether ref is an s3:// URL.
func IsS3URL(ref string) bool {
	return strings.HasPrefix(ref, s3Scheme+"://")
}

// ParseS3URL splits an s3://bucket/key URL into bucket and key. The key may
// be empty or end in "/" when the URL names a prefix.
func ParseS3URL(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", ref, err)
	}

	if u.Scheme != s3Scheme {
		return "", "", fmt.Errorf("%q is not an s3:// URL", ref)
	}

	if u.Host == "" {
		return "", "", fmt.Errorf("%q has no bucket", ref)
	}

	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Expand returns ref itself when it names an object, or the s3:// URLs of
// every *.xml object below it when it names a prefix (empty key or trailing
// slash).
func (r *S3Reader) Expand(ctx context.Context, ref string) ([]string, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return nil, err
	}

	if key != "" && !strings.HasSuffix(key, "/") {
		return []string{ref}, nil
	}

	var refs []string

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})

	for paginator.HasMorePages() {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", ref, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.EqualFold(path.Ext(*obj.Key), ".xml") {
				continue
			}

			refs = append(refs, fmt.Sprintf("%s://%s/%s", s3Scheme, bucket, *obj.Key))
		}
	}

	sort.Strings(refs)

	r.log.WithFields(logrus.Fields{
		"prefix":    ref,
		"documents": len(refs),
	}).Debug("Expanded S3 prefix")

	return refs, nil
}

// Download copies the object named by ref into a temporary file. The
// returned Document removes the file on Close.
func (r *S3Reader) Download(ctx context.Context, ref string) (Document, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return Document{}, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return Document{}, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Document{}, fmt.Errorf("getting object %q: %w", ref, os.ErrNotExist)
		}

		return Document{}, fmt.Errorf("getting object %q: %w", ref, err)
	}

	defer func() { _ = out.Body.Close() }()

	f, err := os.CreateTemp(r.cfg.DownloadDir, "dbbot-*"+path.Ext(key))
	if err != nil {
		return Document{}, fmt.Errorf("creating temp file: %w", err)
	}

	cleanup := func() { _ = os.Remove(f.Name()) }

	n, err := io.Copy(f, out.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		cleanup()

		return Document{}, fmt.Errorf("downloading object %q: %w", ref, err)
	}

	r.log.WithFields(logrus.Fields{
		"object": ref,
		"size":   units.HumanSize(float64(n)),
	}).Debug("Downloaded document")

	return Document{Path: f.Name(), Source: ref, cleanup: cleanup}, nil
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
