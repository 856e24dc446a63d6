// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package s3source implements a packarchive.Source over an object stored
// in Amazon S3, using ranged GetObject requests: one ranged request per
// read. It is intended for use with packarchive's bounded prefetch
// pipeline, which overlaps the resulting per-block request latency.
package s3source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/dataloom/packarchive/errors"
)

// Source implements packarchive.Source and packarchive.ContextSource over
// a single S3 object. Each ReadAt issues one ranged GetObject call.
//
// Source captures the object's ETag from the HeadObject call in New (or,
// if that response carries none, from the first read's response) and
// compares it against every later read's response ETag, failing with
// errors.Integrity if they diverge — that is, if the object was
// overwritten mid-iteration.
type Source struct {
	client s3iface.S3API
	bucket string
	key    string

	size int64
	etag string // from HeadObject; empty until the first read if HeadObject had none
}

// New returns a Source over the given bucket and key, using client for S3
// API calls. The object's size is fetched with a HeadObject call.
func New(ctx context.Context, client s3iface.S3API, bucket, key string) (*Source, error) {
	out, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.E(errors.IO, fmt.Sprintf("s3source: head s3://%s/%s", bucket, key), err)
	}
	if out.ContentLength == nil {
		return nil, errors.E(errors.IO, fmt.Sprintf("s3source: s3://%s/%s missing content length", bucket, key))
	}
	s := &Source{client: client, bucket: bucket, key: key, size: *out.ContentLength}
	if out.ETag != nil {
		s.etag = *out.ETag
	}
	return s, nil
}

// Size implements packarchive.Source.
func (s *Source) Size() (int64, error) { return s.size, nil }

// ReadAt implements packarchive.Source. It delegates to ReadAtContext with
// a background context.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext implements packarchive.ContextSource.
func (s *Source) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, errors.E(errors.IO, fmt.Sprintf("s3source: get s3://%s/%s range %s", s.bucket, s.key, rangeHeader), err)
	}
	defer out.Body.Close() // nolint: errcheck

	if out.ETag != nil {
		if s.etag == "" {
			s.etag = *out.ETag
		} else if s.etag != *out.ETag {
			return 0, errors.E(errors.Integrity, fmt.Sprintf(
				"s3source: s3://%s/%s changed mid-iteration (etag %s != %s)", s.bucket, s.key, *out.ETag, s.etag))
		}
	}

	n, err := io.ReadFull(out.Body, p)
	if err != nil {
		return n, errors.E(errors.IO, fmt.Sprintf("s3source: short read of s3://%s/%s", s.bucket, s.key), err)
	}
	return n, nil
}
