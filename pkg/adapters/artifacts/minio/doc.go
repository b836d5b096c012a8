// Package minio writes run output artifacts to S3 compatible object storage.
package minio
