package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
)

// S3Interface is the subset of the S3 client the Persist uses.
type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Persist implements the ydoc.Persist interface for storing and loading
// blobs as objects in a bucket. Names seen recently are not stored again.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	seen       *simplelru.LRU
}

// Load loads the bytes persisted in the named object.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	output, err := p.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	p.seen.Add(name, nil)
	return b, nil
}

// Store persists the given bytes in an object of the given name, unless it
// was stored or loaded recently.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	if p.seen.Contains(name) {
		return nil
	}
	_, err := p.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	p.seen.Add(name, nil)
	return nil
}

// NewPersist returns a Persist that loads and stores blobs as objects
// named prefix+name with the given S3 client and bucket name.
func NewPersist(client S3Interface, bucketName, prefix string) *Persist {
	seen, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &Persist{client, bucketName, prefix, seen}
}
