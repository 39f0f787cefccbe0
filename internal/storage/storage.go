package storage

import (
	"context"
	"io"
	"time"
)

// Package storage contains the object store abstraction the document pipeline writes
// encrypted blobs to. The store is treated as a flat, strongly consistent key -> blob map
// under one bucket. Implementations must avoid using local disk.

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
// ContentType and Metadata are optional.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is a reusable, S3-compatible object storage client interface.
// Every implementation is safe for concurrent use and reports failures as *Error.
type Storage interface {
	// Put uploads an object under the given key, overwriting any existing object.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns up to maxKeys objects whose key starts with prefix.
	List(ctx context.Context, prefix string, maxKeys int) ([]ObjectInfo, error)
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Operation names used in errors, logs and metrics.
const (
	OpPut     = "put"
	OpGet     = "get"
	OpDelete  = "delete"
	OpExists  = "exists"
	OpList    = "list"
	OpPresign = "presign"
)
