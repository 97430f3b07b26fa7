package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittofs-ntfs/internal/ratelimiter"
	"github.com/marmos91/dittofs-ntfs/pkg/metrics"
)

// S3API is the subset of the S3 client used by S3Device.
//
// *s3.Client satisfies it; tests substitute an in-memory fake.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Device implements Device on top of S3 or S3-compatible object storage.
//
// Storage Model:
// The device is split into fixed-size blocks, one object per block, keyed as
// "<prefix>blk-<16 hex digit block number>". Blocks that were never written
// do not exist in the bucket and read back as zeros.
//
// Writes that do not cover a whole block use read-modify-write, so the block
// size should be a multiple of the volume cluster size to keep cluster writes
// aligned to objects.
//
// Thread Safety:
// A single mutex serializes block updates. Request rate against the bucket is
// bounded by an optional token-bucket limiter.
type S3Device struct {
	ctx       context.Context
	client    S3API
	bucket    string
	keyPrefix string
	blockSize int64
	size      int64
	limiter   *ratelimiter.RateLimiter
	metrics   metrics.DeviceMetrics
	mu        sync.Mutex
}

var _ Device = (*S3Device)(nil)

// S3DeviceConfig contains configuration for an S3-backed device.
type S3DeviceConfig struct {
	// Client is the configured S3 client
	Client S3API

	// Bucket is the S3 bucket name (must already exist)
	Bucket string

	// KeyPrefix is an optional prefix for all block object keys
	KeyPrefix string

	// BlockSize is the size of each block object in bytes (default: 1MB)
	BlockSize int64

	// Size is the logical device size in bytes
	Size int64

	// RequestsPerSecond bounds the S3 request rate; 0 means unlimited
	RequestsPerSecond uint

	// Metrics records per-request observability (nil for no-op)
	Metrics metrics.DeviceMetrics
}

// NewS3Device creates an S3-backed device and verifies bucket access.
//
// The context is retained and used for every subsequent S3 request, since the
// Device interface itself carries no context.
func NewS3Device(ctx context.Context, cfg S3DeviceConfig) (*S3Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("device size must be positive, got %d", cfg.Size)
	}

	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = 1 << 20
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopDeviceMetrics()
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Device{
		ctx:       ctx,
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		blockSize: blockSize,
		size:      cfg.Size,
		limiter:   ratelimiter.New(cfg.RequestsPerSecond, cfg.RequestsPerSecond*2),
		metrics:   m,
	}, nil
}

func (d *S3Device) blockKey(block int64) string {
	return fmt.Sprintf("%sblk-%016x", d.keyPrefix, block)
}

// readBlock fetches a whole block, returning zeros for blocks never written.
func (d *S3Device) readBlock(block int64) (buf []byte, err error) {
	start := time.Now()
	defer func() {
		d.metrics.RecordOperation("GetObject", time.Since(start), len(buf), err)
	}()

	if err := d.limiter.Wait(d.ctx); err != nil {
		return nil, err
	}

	data := make([]byte, d.blockSize)
	result, err := d.client.GetObject(d.ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.blockKey(block)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return data, nil
		}
		return nil, fmt.Errorf("failed to get block %d from S3: %w", block, err)
	}
	defer func() { _ = result.Body.Close() }()

	if _, err := io.ReadFull(result.Body, data); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read block %d body: %w", block, err)
	}
	return data, nil
}

func (d *S3Device) writeBlock(block int64, data []byte) (err error) {
	start := time.Now()
	defer func() {
		d.metrics.RecordOperation("PutObject", time.Since(start), len(data), err)
	}()

	if err := d.limiter.Wait(d.ctx); err != nil {
		return err
	}

	_, err = d.client.PutObject(d.ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.blockKey(block)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put block %d to S3: %w", block, err)
	}
	return nil
}

func (d *S3Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("read at %d (len %d, size %d): %w", off, len(p), d.size, ErrOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	done := 0
	for done < len(p) {
		pos := off + int64(done)
		block := pos / d.blockSize
		inBlock := pos % d.blockSize

		data, err := d.readBlock(block)
		if err != nil {
			return done, err
		}
		done += copy(p[done:], data[inBlock:])
	}
	return done, nil
}

func (d *S3Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("write at %d (len %d, size %d): %w", off, len(p), d.size, ErrOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	done := 0
	for done < len(p) {
		pos := off + int64(done)
		block := pos / d.blockSize
		inBlock := pos % d.blockSize
		chunk := min(int64(len(p)-done), d.blockSize-inBlock)

		var data []byte
		if chunk == d.blockSize {
			data = p[done : done+int(chunk)]
		} else {
			existing, err := d.readBlock(block)
			if err != nil {
				return done, err
			}
			copy(existing[inBlock:], p[done:done+int(chunk)])
			data = existing
		}

		if err := d.writeBlock(block, data); err != nil {
			return done, err
		}
		done += int(chunk)
	}
	return done, nil
}

func (d *S3Device) Size() int64 {
	return d.size
}

// Sync is a no-op: every WriteAt is durable once PutObject returns.
func (d *S3Device) Sync() error {
	return nil
}

func (d *S3Device) Close() error {
	return nil
}
