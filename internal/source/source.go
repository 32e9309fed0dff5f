package source

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Kind is the closed set of backends a descriptor can point at. The
// backend is selected once at registration time; there is no runtime
// type inspection after that.
type Kind string

const (
	KindBlob Kind = "blob"
	KindFile Kind = "file"
	KindHTTP Kind = "http"
	KindS3   Kind = "s3"
)

// Descriptor identifies one byte-addressable Parquet resource. It is
// immutable once created. Two descriptors are equal iff their resolved
// Location strings are equal.
type Descriptor struct {
	Kind     Kind
	Location string
	Bucket   string
	Key      string
	SizeHint int64
}

func (d Descriptor) Equal(other Descriptor) bool {
	return d.Location == other.Location
}

// TableName derives the SQL table name from the last path element with
// the .parquet extension stripped.
func (d Descriptor) TableName() string {
	base := path.Base(strings.ReplaceAll(d.Location, "\\", "/"))
	base = strings.TrimSuffix(base, ".parquet")
	if base == "" || base == "." || base == "/" {
		return "uploaded"
	}
	return base
}

// FromURL builds a descriptor from a user-provided location string:
// http(s)://host/path, s3://bucket/key, file:///path, or a bare local
// filesystem path.
func FromURL(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, fmt.Errorf("source location is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		// Not a URL, treat as a local file path.
		return Descriptor{Kind: KindFile, Location: raw}, nil
	}

	switch parsed.Scheme {
	case "http", "https":
		if parsed.Host == "" {
			return Descriptor{}, fmt.Errorf("url %q has no host", raw)
		}
		return Descriptor{Kind: KindHTTP, Location: parsed.String()}, nil
	case "s3":
		bucket := parsed.Host
		key := strings.TrimPrefix(parsed.Path, "/")
		if bucket == "" || key == "" {
			return Descriptor{}, fmt.Errorf("s3 url %q must be s3://bucket/key", raw)
		}
		return Descriptor{Kind: KindS3, Location: parsed.String(), Bucket: bucket, Key: key}, nil
	case "file":
		if parsed.Path == "" {
			return Descriptor{}, fmt.Errorf("file url %q has no path", raw)
		}
		return Descriptor{Kind: KindFile, Location: parsed.Path}, nil
	default:
		return Descriptor{}, fmt.Errorf("unsupported source scheme %q", parsed.Scheme)
	}
}

// ForS3 builds a descriptor for an explicit bucket/key pair, as entered
// through the S3 settings form rather than an s3:// URL.
func ForS3(bucket, key string) (Descriptor, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if bucket == "" {
		return Descriptor{}, fmt.Errorf("s3 bucket is required")
	}
	if key == "" {
		return Descriptor{}, fmt.Errorf("s3 object key is required")
	}
	return Descriptor{
		Kind:     KindS3,
		Location: "s3://" + bucket + "/" + key,
		Bucket:   bucket,
		Key:      key,
	}, nil
}

// ForBlob names an in-memory buffer, e.g. a file dropped into the UI.
func ForBlob(name string, size int64) Descriptor {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "uploaded.parquet"
	}
	return Descriptor{Kind: KindBlob, Location: "blob://" + name, SizeHint: size}
}
