// Package s3store implements remote.Client over an S3 bucket.
//
// The namespace owner is the bucket and the repo is a key prefix. Every
// first-level "directory" under the prefix is a run, and every object below
// it is an artifact named by its key relative to the run:
//
//	s3://<bucket>/<prefix>/<run>/<artifact name>
package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/remote"
)

// slowDownWait is the back-off used for throttling answers, which S3 sends
// without a suggested delay.
const slowDownWait = time.Second

var throttleCodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestLimitExceeded": true,
	"TooManyRequests":      true,
	"RequestThrottled":     true,
}

// API is the subset of the S3 client used by the store.
type API interface {
	s3.ListObjectsV2APIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Store struct {
	api API
}

func New(api API) *Store {
	return &Store{api: api}
}

// Options configures NewFromEnv.
type Options struct {
	Region     string
	Endpoint   string
	HTTPClient *http.Client
}

// NewFromEnv builds a Store from the default AWS credential chain
// (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID, ...). SDK retries are
// disabled; retrying is the job of remote.Resilient.
func NewFromEnv(ctx context.Context, opts Options) (*Store, error) {
	var loadOpts []func(*awsConfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsConfig.WithHTTPClient(opts.HTTPClient))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client), nil
}

func basePrefix(ns artifact.Namespace) string {
	p := strings.Trim(ns.Repo, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func runPrefix(scope artifact.Scope) string {
	return basePrefix(scope.Namespace) + scope.RunID + "/"
}

func (s *Store) ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (remote.Page[artifact.Run], error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(ns.Owner),
		Prefix:    aws.String(basePrefix(ns)),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(int32(pageSize)),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}

	out, err := s.api.ListObjectsV2(ctx, in)
	if err != nil {
		return remote.Page[artifact.Run]{}, classify(err)
	}

	runs := make([]artifact.Run, 0, len(out.CommonPrefixes))
	for _, cp := range out.CommonPrefixes {
		id := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
		runs = append(runs, artifact.Run{ID: id, Name: id})
	}

	page := remote.Page[artifact.Run]{Items: runs}
	if aws.ToBool(out.IsTruncated) {
		page.Next = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *Store) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	prefix := runPrefix(scope)
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(scope.Namespace.Owner),
		Prefix: aws.String(prefix),
	})

	var artifacts []artifact.Artifact
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			artifacts = append(artifacts, artifact.Artifact{
				ID:        key,
				Name:      strings.TrimPrefix(key, prefix),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
				RunID:     scope.RunID,
			})
		}
	}
	return artifacts, nil
}

func (s *Store) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(scope.Namespace.Owner),
		Key:    aws.String(runPrefix(scope) + name),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps SDK errors onto the remote error taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if throttleCodes[apiErr.ErrorCode()] {
		return &remote.RateLimitError{RetryAfter: slowDownWait, Err: err}
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return remote.Permanent(err)
	}
	return err
}
