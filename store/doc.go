// Package store provides segment.Store implementations backed by
// process memory and the local file system. Object-storage backends
// live in the s3 and minio subpackages.
package store
