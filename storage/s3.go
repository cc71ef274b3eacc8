package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// ArchiveConfig beschreibt einen S3-kompatiblen Speicher (z.B. Strato HiDrive, MinIO).
type ArchiveConfig struct {
	URL    string
	Region string
	Key    string
	Secret string
	Bucket string
}

// objectAPI ist der von Archive genutzte Ausschnitt des S3-Clients.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Archive legt Laufberichte und Backups in einem Bucket ab.
type Archive struct {
	client  objectAPI
	bucket  string
	baseURL string
}

// NewS3Client erstellt einen S3-Client mit statischen Zugangsdaten.
// Mit URL wird ein eigener Endpunkt im Path-Style angesprochen.
func NewS3Client(ctx context.Context, cfg ArchiveConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
	)
	if err != nil {
		return nil, eris.Wrap(err, "storage: load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
			o.UsePathStyle = true
		}
	}), nil
}

// NewArchive erstellt ein Archiv über dem konfigurierten Bucket.
func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("storage: archive bucket is empty")
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newArchive(client, cfg), nil
}

func newArchive(client objectAPI, cfg ArchiveConfig) *Archive {
	return &Archive{client: client, bucket: cfg.Bucket, baseURL: strings.TrimRight(cfg.URL, "/")}
}

// Upload lädt Daten hoch und gibt den Link zurück.
func (a *Archive) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "storage: upload %s", key)
	}
	return a.link(key), nil
}

// PutJSON serialisiert v und legt es unter key ab.
func (a *Archive) PutJSON(ctx context.Context, key string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "storage: marshal %s", key)
	}
	return a.Upload(ctx, key, data, "application/json")
}

// Rotate behält unter prefix nur die keep neuesten Objekte und gibt die Zahl
// der gelöschten Objekte zurück.
func (a *Archive) Rotate(ctx context.Context, prefix string, keep int) (int, error) {
	var objects []types.Object
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, eris.Wrapf(err, "storage: list %s", prefix)
		}
		objects = append(objects, out.Contents...)
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	if len(objects) <= keep {
		return 0, nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	deleted := 0
	for _, obj := range objects[keep:] {
		if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    obj.Key,
		}); err != nil {
			return deleted, eris.Wrapf(err, "storage: delete %s", aws.ToString(obj.Key))
		}
		deleted++
	}
	return deleted, nil
}

func (a *Archive) link(key string) string {
	if a.baseURL == "" {
		return fmt.Sprintf("s3://%s/%s", a.bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", a.baseURL, a.bucket, key)
}
