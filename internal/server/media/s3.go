package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/metrics"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

const DefaultMaxUploadBytes int64 = 10 << 20

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectAPI is the subset of *s3.Client used by S3Provider.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UsePathStyle    bool
	DeliveryBaseURL string
	MaxUploadBytes  int64
}

// S3Provider stores images in an S3 compatible bucket and hands out URLs
// for an image delivery front that understands transformation segments.
type S3Provider struct {
	client   objectAPI
	bucket   string
	urls     URLBuilder
	maxBytes int64
	logger   logging.Logger
	suffix   func() string
}

func NewS3Provider(ctx context.Context, cfg S3Config, logger logging.Logger) (*S3Provider, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return newS3Provider(client, cfg, logger), nil
}

func newS3Provider(client objectAPI, cfg S3Config, logger logging.Logger) *S3Provider {
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	base := cfg.DeliveryBaseURL
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Provider{
		client:   client,
		bucket:   cfg.Bucket,
		urls:     NewURLBuilder(base),
		maxBytes: maxBytes,
		logger:   logger.With("module", "media"),
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

func (p *S3Provider) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, p.maxBytes)
	}
	return data, nil
}

func (p *S3Provider) Upload(ctx context.Context, r io.Reader, filename, folder string, opts UploadOptions) (res *UploadResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderOperation("upload", err, time.Since(start).Seconds())
	}()

	data, err := p.readAll(r)
	if err != nil {
		return nil, err
	}
	info, err := inspect(data)
	if err != nil {
		return nil, err
	}
	data, info, err = render(data, info, opts)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s_%s.%s", strings.Trim(folder, "/"), baseName(filename), p.suffix(), info.ext)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(info.mime),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"width":  strconv.Itoa(info.width),
			"height": strconv.Itoa(info.height),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordUploadBytes(info.ext, int64(len(data)))
	p.logger.Debug(ctx, "asset stored", "public_id", key, "bytes", len(data))

	return &UploadResult{
		PublicID: key,
		Width:    info.width,
		Height:   info.height,
		Bytes:    int64(len(data)),
		Format:   info.ext,
	}, nil
}

func (p *S3Provider) Delete(ctx context.Context, publicID string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderOperation("delete", err, time.Since(start).Seconds())
	}()

	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", publicID, err)
	}
	return nil
}

func (p *S3Provider) BuildURL(publicID string, t *models.Transformation) string {
	return p.urls.Build(publicID, t)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func (p *S3Provider) GetDetails(ctx context.Context, publicID string) (d *AssetDetails, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderOperation("details", err, time.Since(start).Seconds())
	}()

	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("asset %s: %w", publicID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("head object %s: %w", publicID, err)
	}

	d = &AssetDetails{
		PublicID:    publicID,
		Bytes:       aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
	}
	d.Format = allowedMIMEs[d.ContentType]
	if out.LastModified != nil {
		d.LastModified = *out.LastModified
	}
	d.Width, _ = strconv.Atoi(out.Metadata["width"])
	d.Height, _ = strconv.Atoi(out.Metadata["height"])
	return d, nil
}
