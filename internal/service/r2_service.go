package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	cfg "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperr"
)

// AssetVerifier confirms that a media URL points at a stored object.
type AssetVerifier interface {
	VerifyAsset(ctx context.Context, assetURL string) error
}

type objectHeader interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// R2Service checks assets hosted in a Cloudflare R2 bucket. URLs outside the
// bucket's public URL are accepted without a lookup.
type R2Service struct {
	client    objectHeader
	bucket    string
	publicURL string
}

// NewR2Service returns a verifier that accepts everything when no bucket is
// configured.
func NewR2Service(ctx context.Context, r2 cfg.R2) (*R2Service, error) {
	if r2.BucketName == "" || r2.PublicURL == "" {
		return &R2Service{}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	})
	return newR2Service(client, r2.BucketName, r2.PublicURL), nil
}

func newR2Service(client objectHeader, bucket, publicURL string) *R2Service {
	return &R2Service{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/") + "/",
	}
}

func (r *R2Service) VerifyAsset(ctx context.Context, assetURL string) error {
	if r.client == nil || !strings.HasPrefix(assetURL, r.publicURL) {
		return nil
	}
	key := strings.TrimPrefix(assetURL, r.publicURL)
	if key == "" {
		return apperr.Validation("media url %q has no object key", assetURL)
	}

	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return apperr.Validation("media object %q does not exist", key)
		}
		return apperr.Transient(err, "head r2 object")
	}
	return nil
}
