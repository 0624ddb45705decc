package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

// s3API is the subset of *s3.Client this package calls, narrowed for tests.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Client lazily builds a shared S3 client using ambient credentials (the
// default AWS credential chain: env vars, shared config, instance role),
// matching spec §4.1's "credentials via ambient environment".
func (f *Fetcher) s3Client(ctx context.Context) (s3API, error) {
	f.s3Once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			f.s3err = err
			return
		}
		f.s3cli = s3.NewFromConfig(cfg)
	})
	return f.s3cli, f.s3err
}

func (f *Fetcher) fetchS3(ctx context.Context, ref pluginref.PluginRef) ([]byte, error) {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNotFound, URL: ref.URL, Err: err}
	}
	bucket := u.Host
	if bucket == "" {
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchNotFound, URL: ref.URL,
			Err: errors.New("s3 url missing bucket (host part)"),
		}
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchNotFound, URL: ref.URL,
			Err: errors.New("s3 url missing object key (path part)"),
		}
	}

	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNetwork, URL: ref.URL, Err: err}
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NoSuchBucket", "NotFound":
				return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNotFound, URL: ref.URL, Err: err}
			case "AccessDenied", "Forbidden":
				return nil, &hmcperr.FetchError{Kind: hmcperr.FetchAuth, URL: ref.URL, Err: err}
			}
		}
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNetwork, URL: ref.URL, Err: err}
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxFetchBytes))
	if err != nil {
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchNetwork, URL: ref.URL,
			Err: fmt.Errorf("reading s3 object body: %w", err),
		}
	}
	return body, nil
}
