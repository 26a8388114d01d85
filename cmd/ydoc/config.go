package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/jrhy/ydoc"
	"github.com/jrhy/ydoc/persist/badger"
	"github.com/jrhy/ydoc/persist/file"
	"github.com/jrhy/ydoc/persist/s3"
)

const (
	defaultBackend   = "file"
	defaultPath      = ".ydoc"
	defaultCacheSize = 256
)

// Config is the contents of the --config file.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig selects and parameterizes the archive backend.
type ArchiveConfig struct {
	Backend   string   `yaml:"backend"`
	Path      string   `yaml:"path"`
	CacheSize int      `yaml:"cacheSize"`
	S3        S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

func defaultConfig() *Config {
	return &Config{Archive: ArchiveConfig{
		Backend:   defaultBackend,
		Path:      defaultPath,
		CacheSize: defaultCacheSize,
	}}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (*Config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := parseConfig(b, c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func parseConfig(b []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// openArchive builds the configured backend. The returned func releases it.
func (c ArchiveConfig) openArchive(logger *slog.Logger) (*ydoc.Archive, func() error, error) {
	closer := func() error { return nil }
	var p ydoc.Persist
	switch c.Backend {
	case "memory":
		p = ydoc.NewInMemoryStore()
	case "file":
		fp, err := file.NewPersistForPath(c.Path)
		if err != nil {
			return nil, nil, err
		}
		p = fp
	case "badger":
		bc := badger.Config{Path: c.Path}
		if verbose {
			bc.Logger = logger
		}
		bp, err := badger.Open(bc)
		if err != nil {
			return nil, nil, err
		}
		p, closer = bp, bp.Close
	case "s3":
		if c.S3.Bucket == "" {
			return nil, nil, errors.New("s3 backend needs a bucket")
		}
		awsConfig := &aws.Config{}
		if c.S3.Region != "" {
			awsConfig.Region = aws.String(c.S3.Region)
		}
		if c.S3.Endpoint != "" {
			awsConfig.Endpoint = aws.String(c.S3.Endpoint)
			awsConfig.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("aws session: %w", err)
		}
		p = s3.NewPersist(awss3.New(sess), c.S3.Bucket, c.S3.Prefix)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
	size := c.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	a, err := ydoc.NewArchive(ydoc.ArchiveConfig{
		StoreImmutablePartsWith: p,
		BlobCache:               ydoc.NewBlobCache(size),
		Logger:                  logger,
	})
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return a, closer, nil
}
