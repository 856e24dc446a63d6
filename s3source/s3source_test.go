// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package s3source_test

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/testutil/assert"

	"github.com/dataloom/packarchive/errors"
	"github.com/dataloom/packarchive/s3source"
)

// fakeS3 implements just enough of s3iface.S3API to exercise s3source: a
// single in-memory object, served with an ETag that can be changed mid-test
// to simulate a concurrent overwrite. Every other method panics if called.
type fakeS3 struct {
	s3iface.S3API

	content []byte
	etag    string
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(f.content))),
		ETag:          aws.String(f.etag),
	}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	var lo, hi int
	if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &lo, &hi); err != nil {
		return nil, fmt.Errorf("fakeS3: malformed range %q: %v", *in.Range, err)
	}
	hi++ // fakeS3's range, like s3source's, is inclusive on the wire
	if hi > len(f.content) {
		hi = len(f.content)
	}
	return &s3.GetObjectOutput{
		Body: ioutil.NopCloser(bytes.NewReader(f.content[lo:hi])),
		ETag: aws.String(f.etag),
	}, nil
}

func TestSourceReadAtAndSize(t *testing.T) {
	f := &fakeS3{content: []byte("hello, packarchive"), etag: "etag-1"}
	source, err := s3source.New(context.Background(), f, "bucket", "key")
	assert.NoError(t, err)

	size, err := source.Size()
	assert.NoError(t, err)
	assert.EQ(t, size, int64(len(f.content)))

	buf := make([]byte, 5)
	n, err := source.ReadAt(buf, 7)
	assert.NoError(t, err)
	assert.EQ(t, n, 5)
	assert.EQ(t, string(buf), "packa")
}

func TestSourceDetectsMidIterationOverwrite(t *testing.T) {
	f := &fakeS3{content: []byte("0123456789"), etag: "etag-1"}
	source, err := s3source.New(context.Background(), f, "bucket", "key")
	assert.NoError(t, err)

	buf := make([]byte, 4)
	_, err = source.ReadAt(buf, 0)
	assert.NoError(t, err)

	f.etag = "etag-2" // simulates the object being overwritten
	_, err = source.ReadAt(buf, 4)
	assert.NotNil(t, err)
	if !errors.Is(errors.Integrity, err) {
		t.Fatalf("expected Integrity, got %v", err)
	}
}
