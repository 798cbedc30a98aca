package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/forgefs/pkg/content"
)

// WriteAt downloads the object, patches it in memory and uploads it again.
// Gaps past the old end are zero-filled.
func (s *S3ContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return content.ErrInvalidOffset
	}
	if id == "" {
		return content.ErrInvalidContentID
	}

	newEnd := uint64(offset) + uint64(len(data))
	if newEnd > s.maxSize {
		return content.ErrTooLarge
	}

	existing, err := s.readAll(ctx, id)
	if err != nil {
		return err
	}

	buf := existing
	if uint64(len(buf)) < newEnd {
		buf = make([]byte, newEnd)
		copy(buf, existing)
	}
	copy(buf[offset:], data)

	return s.put(ctx, id, buf)
}

// Truncate resizes the object, creating it if missing.
func (s *S3ContentStore) Truncate(ctx context.Context, id content.ID, newSize uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return content.ErrInvalidContentID
	}
	if newSize > s.maxSize {
		return content.ErrTooLarge
	}

	existing, err := s.readAll(ctx, id)
	if err != nil {
		return err
	}

	var buf []byte
	if uint64(len(existing)) >= newSize {
		buf = existing[:newSize]
	} else {
		buf = make([]byte, newSize)
		copy(buf, existing)
	}

	return s.put(ctx, id, buf)
}

func (s *S3ContentStore) put(ctx context.Context, id content.ID, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.getObjectKey(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}
