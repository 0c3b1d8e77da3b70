package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// S3Store uploads attachments to a bucket and optionally announces each
// upload on an SQS queue.
type S3Store struct {
	client   *s3.Client
	bucket   string
	baseURL  string
	sqs      *sqs.Client
	queueURL string
	now      func() time.Time
}

type S3Options struct {
	Bucket string
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to the
	// virtual-hosted bucket URL.
	PublicBaseURL string
	// UploadQueue is an SQS queue name; empty disables notices.
	UploadQueue string
}

// NewS3Store loads the default AWS config (env, shared files, endpoint
// overrides) and builds the clients.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	st := &S3Store{
		client: s3.New(s3.Options{
			Region:       cfg.Region,
			Credentials:  cfg.Credentials,
			HTTPClient:   cfg.HTTPClient,
			BaseEndpoint: cfg.BaseEndpoint,
			UsePathStyle: true,
		}),
		bucket:  opts.Bucket,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		now:     time.Now,
	}
	if st.baseURL == "" {
		st.baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, cfg.Region)
	}

	if opts.UploadQueue != "" {
		st.sqs = sqs.New(sqs.Options{
			Region:       cfg.Region,
			Credentials:  cfg.Credentials,
			HTTPClient:   cfg.HTTPClient,
			BaseEndpoint: cfg.BaseEndpoint,
		})
		resp, err := st.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(opts.UploadQueue)})
		if err != nil {
			return nil, fmt.Errorf("resolve SQS queue %q: %w", opts.UploadQueue, err)
		}
		st.queueURL = aws.ToString(resp.QueueUrl)
	}
	return st, nil
}

func (s *S3Store) UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (directory.BlobRef, error) {
	key, err := Key(s.now(), name)
	if err != nil {
		return directory.BlobRef{}, err
	}
	data, err := readLimited(r)
	if err != nil {
		return directory.BlobRef{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return directory.BlobRef{}, fmt.Errorf("upload %s: %w", key, err)
	}

	ref := directory.BlobRef{Key: key, URL: s.baseURL + "/" + key}
	if s.sqs != nil {
		if err := s.notify(ctx, key, contentType, len(data)); err != nil {
			// the object is stored; a lost notice is not an upload failure
			slog.Warn("upload notice failed", "key", key, "error", err)
		}
	}
	return ref, nil
}

type uploadNotice struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

func (s *S3Store) notify(ctx context.Context, key, contentType string, size int) error {
	body, err := json.Marshal(uploadNotice{
		Bucket:      s.bucket,
		Key:         key,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  s.now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = s.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}
