package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/slabpool/blobstore"
	miniostore "github.com/hupe1980/slabpool/blobstore/minio"
	s3store "github.com/hupe1980/slabpool/blobstore/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// location is a parsed snapshot destination.
type location struct {
	scheme string // "file", "s3" or "minio"
	bucket string
	dir    string
	name   string
}

// parseLocation accepts a local path, s3://bucket/key or minio://bucket/key.
func parseLocation(raw string) (location, error) {
	for _, scheme := range []string{"s3", "minio"} {
		rest, ok := strings.CutPrefix(raw, scheme+"://")
		if !ok {
			continue
		}
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
			return location{}, fmt.Errorf("invalid %s location %q: want %s://bucket/key", scheme, raw, scheme)
		}
		return location{scheme: scheme, bucket: bucket, name: key}, nil
	}
	if strings.Contains(raw, "://") {
		return location{}, fmt.Errorf("unsupported location %q", raw)
	}
	if raw == "" {
		return location{}, fmt.Errorf("empty location")
	}
	return location{scheme: "file", dir: filepath.Dir(raw), name: filepath.Base(raw)}, nil
}

func (l location) String() string {
	if l.scheme == "file" {
		return filepath.Join(l.dir, l.name)
	}
	return l.scheme + "://" + l.bucket + "/" + l.name
}

// openStore returns the blob store behind l. S3 uses the default AWS config chain,
// with SLABPOOL_S3_ENDPOINT overriding the endpoint. MinIO reads MINIO_ENDPOINT,
// MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_SECURE.
func openStore(ctx context.Context, l location) (blobstore.BlobStore, error) {
	switch l.scheme {
	case "file":
		return blobstore.NewLocalStore(l.dir), nil
	case "s3":
		var opts []s3store.Option
		if endpoint := os.Getenv("SLABPOOL_S3_ENDPOINT"); endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(endpoint))
		}
		return s3store.New(ctx, l.bucket, opts...)
	case "minio":
		endpoint := os.Getenv("MINIO_ENDPOINT")
		if endpoint == "" {
			endpoint = "localhost:9000"
		}
		secure, _ := strconv.ParseBool(os.Getenv("MINIO_SECURE"))
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: secure,
		})
		if err != nil {
			return nil, err
		}
		return miniostore.NewStore(client, l.bucket, ""), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", l.scheme)
	}
}
