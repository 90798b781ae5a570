package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// AudioExtensions are the accepted audio upload formats.
var AudioExtensions = []string{"mp3", "wav", "m4a"}

// S3Store keeps session audio and archived model responses in one bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewS3Client returns nil when AWS_BUCKET is not configured.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	if util.GetEnv("AWS_BUCKET") == "" {
		return nil, nil
	}
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnv("AWS_REGION")),
		config.WithBaseEndpoint(util.GetEnv("AWS_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("AWS_ACCESS_KEY"),
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket, now: time.Now}
}

// AudioKey is the object key of a session's audio upload.
func AudioKey(userID, sessionID, filename string) string {
	return path.Join("audio", userID, sessionID, "recording."+Extension(filename))
}

// ResponseKey is the object key of one archived model response.
func ResponseKey(userID, sessionID string, at time.Time) string {
	return path.Join("responses", userID, sessionID, at.UTC().Format("20060102T150405.000000000Z")+".json")
}

// SessionPrefixes are the prefixes holding all objects of a session.
func SessionPrefixes(userID, sessionID string) []string {
	return []string{
		path.Join("audio", userID, sessionID) + "/",
		path.Join("responses", userID, sessionID) + "/",
	}
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return strings.TrimPrefix(ext, ".")
}

func contentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s *S3Store) GetFile(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) PutFile(ctx context.Context, key string, file io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

func (s *S3Store) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// ArchiveResponse stores one raw model response of a session run.
func (s *S3Store) ArchiveResponse(ctx context.Context, userID, sessionID string, raw []byte) error {
	return s.PutFile(ctx, ResponseKey(userID, sessionID, s.now()), bytes.NewReader(raw))
}

// DeleteSessionObjects removes the audio and archived responses of a session.
func (s *S3Store) DeleteSessionObjects(ctx context.Context, userID, sessionID string) error {
	for _, prefix := range SessionPrefixes(userID, sessionID) {
		if err := s.DeleteFolder(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

// GenerateDownloadLink presigns a GET for key, valid for 15 minutes. With
// AWS_PUBLIC_ENDPOINT set the link points to that endpoint.
func (s *S3Store) GenerateDownloadLink(ctx context.Context, key string) (string, error) {
	presignClient := s.client
	prefix := ""

	if publicEndpoint := util.GetEnv("AWS_PUBLIC_ENDPOINT"); publicEndpoint != "" {
		publicURL, err := url.Parse(publicEndpoint)
		if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
			return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT: %s", publicEndpoint)
		}
		prefix = strings.TrimSuffix(publicURL.Path, "/")

		// the signature must match the host the client will call
		presignClient = s3.NewFromConfig(
			aws.Config{
				Region:      s.client.Options().Region,
				Credentials: s.client.Options().Credentials,
				HTTPClient:  s.client.Options().HTTPClient,
			},
			func(o *s3.Options) {
				o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", publicURL.Scheme, publicURL.Host))
				o.UsePathStyle = true
			},
		)
	}

	out, err := s3.NewPresignClient(presignClient).PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(15*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix == "" {
		return out.URL, nil
	}
	signedURL, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signedURL.Path = prefix + signedURL.Path
	return signedURL.String(), nil
}

func (s *S3Store) DeleteFolder(ctx context.Context, prefix string) error {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("failed to list objects in folder %s: %w", prefix, err)
		}
		if len(listOutput.Contents) == 0 {
			break
		}

		objects := make([]types.ObjectIdentifier, 0, len(listOutput.Contents))
		for _, obj := range listOutput.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in folder %s: %w", prefix, err)
		}

		if listOutput.IsTruncated == nil || !*listOutput.IsTruncated {
			break
		}
		listInput.ContinuationToken = listOutput.NextContinuationToken
	}
	return nil
}
