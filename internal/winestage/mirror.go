package winestage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorSettings describe an optional S3 compatible bucket (AWS, R2, MinIO)
// holding source archives under <Prefix>/<archive name>.
type MirrorSettings struct {
	Bucket          string
	Endpoint        string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// Publish uploads archives fetched from upstream back to the bucket.
	Publish bool
}

func mirrorSettingsFromConfig(c *Config) (MirrorSettings, error) {
	publish, err := c.boolValue("WINESTAGE_S3_PUBLISH", false)
	if err != nil {
		return MirrorSettings{}, err
	}
	return MirrorSettings{
		Bucket:          c.Values["WINESTAGE_S3_BUCKET"],
		Endpoint:        c.Values["WINESTAGE_S3_ENDPOINT"],
		Region:          valueOr(c.Values["WINESTAGE_S3_REGION"], "auto"),
		Prefix:          strings.Trim(c.Values["WINESTAGE_S3_PREFIX"], "/"),
		AccessKeyID:     c.Values["WINESTAGE_S3_ACCESS_KEY_ID"],
		SecretAccessKey: c.Values["WINESTAGE_S3_SECRET_ACCESS_KEY"],
		Publish:         publish,
	}, nil
}

// Enabled reports whether a bucket is configured.
func (m MirrorSettings) Enabled() bool { return m.Bucket != "" }

// Key returns the object key for an archive file name.
func (m MirrorSettings) Key(archive string) string {
	if m.Prefix == "" {
		return archive
	}
	return path.Join(m.Prefix, archive)
}

// S3Fetcher downloads archives from the mirror bucket.
type S3Fetcher struct {
	Client   *s3.Client
	Settings MirrorSettings
	Console  *Console
}

// NewS3Fetcher builds a client from m. Without static keys the default AWS
// credential chain is used.
func NewS3Fetcher(ctx context.Context, m MirrorSettings, console *Console) (*S3Fetcher, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("no mirror bucket configured (WINESTAGE_S3_BUCKET)")
	}

	options := []func(*config.LoadOptions) error{
		config.WithRegion(m.Region),
	}
	if m.AccessKeyID != "" || m.SecretAccessKey != "" {
		if m.AccessKeyID == "" || m.SecretAccessKey == "" {
			return nil, fmt.Errorf("mirror credentials incomplete (WINESTAGE_S3_ACCESS_KEY_ID, WINESTAGE_S3_SECRET_ACCESS_KEY)")
		}
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(m.AccessKeyID, m.SecretAccessKey, "")))
	}
	if console != nil && console.Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if m.Endpoint != "" {
			o.BaseEndpoint = aws.String(m.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{Client: client, Settings: m, Console: console}, nil
}

// Fetch looks the archive named by url up in the bucket.
func (f *S3Fetcher) Fetch(ctx context.Context, url, dest string) error {
	key := f.Settings.Key(ArchiveName(url))
	f.Console.Debugf("Trying mirror s3://%s/%s\n", f.Settings.Bucket, key)

	output, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.Settings.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("mirror get %s: %w", key, err)
	}
	defer output.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, output.Body); err != nil {
		out.Close()
		return fmt.Errorf("mirror read %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	f.Console.Step("Fetched %s from mirror", path.Base(key))
	return nil
}

// Publish uploads a local archive unless the bucket already has it.
func (f *S3Fetcher) Publish(ctx context.Context, file string) error {
	in, err := os.Open(file)
	if err != nil {
		return err
	}
	defer in.Close()
	stat, err := in.Stat()
	if err != nil {
		return err
	}

	key := f.Settings.Key(path.Base(file))
	if _, err := f.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.Settings.Bucket),
		Key:    aws.String(key),
	}); err == nil {
		f.Console.Debugf("%s already on mirror\n", key)
		return nil
	}
	_, err = f.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.Settings.Bucket),
		Key:           aws.String(key),
		Body:          in,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(archiveContentType(key)),
	})
	if err != nil {
		return fmt.Errorf("mirror put %s: %w", key, err)
	}
	return nil
}

func archiveContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".gz"), strings.HasSuffix(key, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	}
	return "application/octet-stream"
}
