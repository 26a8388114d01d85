// Package s3test provides an S3 client for tests: an in-process fake by
// default, or a real endpoint when YDOC_TEST_S3_ENDPOINT is set.
package s3test

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http/httptest"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Client returns a client, a fresh bucket and a func that empties the
// bucket and stops the fake server.
func Client() (*s3.S3, string, func()) {
	var client *s3.S3
	closer := func() {}
	if endpoint := os.Getenv("YDOC_TEST_S3_ENDPOINT"); endpoint != "" {
		config := aws.Config{
			Credentials: credentials.NewStaticCredentials(
				getEnv("AWS_ACCESS_KEY_ID"),
				getEnv("AWS_SECRET_ACCESS_KEY"),
				getEnvOrDefault("AWS_SESSION_TOKEN", ""),
			),
			Endpoint:         aws.String(endpoint),
			S3ForcePathStyle: aws.Bool(true),
		}
		// A real AWS region lets the SDK pick the endpoint; any other
		// S3-compatible store just needs a nonempty region.
		config.Region = aws.String(getEnvOrDefault("AWS_REGION", "not-using-AWS"))
		if *config.Region != "not-using-AWS" {
			config.Endpoint = nil
		}
		sess, err := session.NewSession(&config)
		if err != nil {
			panic(err)
		}
		client = s3.New(sess)
	} else {
		faker := gofakes3.New(s3mem.New())
		ts := httptest.NewServer(faker.Server())
		closer = ts.Close
		sess, err := session.NewSession(&aws.Config{
			Credentials: credentials.NewStaticCredentials(
				"TEST-ACCESSKEYID",
				"TEST-SECRETACCESSKEY",
				"",
			),
			Endpoint:         aws.String(ts.URL),
			Region:           aws.String("ca-west-1"),
			DisableSSL:       aws.Bool(true),
			S3ForcePathStyle: aws.Bool(true),
		})
		if err != nil {
			panic(err)
		}
		client = s3.New(sess)
	}

	bucketName := randBucketName()
	if _, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: &bucketName}); err != nil {
		panic(err)
	}
	stop := closer
	return client, bucketName, func() {
		_ = emptyBucket(client, bucketName)
		stop()
	}
}

func getEnv(key string) string {
	res := os.Getenv(key)
	if res == "" {
		panic(fmt.Sprintf("environment '%s' unset", key))
	}
	return res
}

func getEnvOrDefault(key, def string) string {
	if res := os.Getenv(key); res != "" {
		return res
	}
	return def
}

func randBucketName() string {
	i, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("ydoc-%s", i)
}

func emptyBucket(s *s3.S3, bucket string) error {
	params := &s3.ListObjectsInput{Bucket: &bucket}
	for {
		objects, err := s.ListObjects(params)
		if err != nil {
			return err
		}
		if len(objects.Contents) == 0 {
			return nil
		}
		ids := make([]*s3.ObjectIdentifier, 0, len(objects.Contents))
		for _, object := range objects.Contents {
			ids = append(ids, &s3.ObjectIdentifier{Key: object.Key})
		}
		_, err = s.DeleteObjects(&s3.DeleteObjectsInput{
			Bucket: &bucket,
			Delete: &s3.Delete{Objects: ids},
		})
		if err != nil {
			return err
		}
		if !aws.BoolValue(objects.IsTruncated) {
			return nil
		}
		params.Marker = ids[len(ids)-1].Key
	}
}
