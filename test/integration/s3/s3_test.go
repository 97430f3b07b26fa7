//go:build integration

package s3_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or other S3-compatible endpoint) and creates a
// test bucket that is emptied and deleted when the test finishes.
//
// Parameters:
//   - t: The testing instance
//   - bucketName: Name of the test bucket to create
//
// Returns:
//   - *s3.Client: Configured S3 client
func setupTestS3(t *testing.T, bucketName string) *s3.Client {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err, "failed to load AWS config")

	// Path-style URLs are required for Localstack
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "failed to create test bucket")

	t.Cleanup(func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})

	return client
}

// TestS3Device_Integration exercises block read-modify-write against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Device_Integration(t *testing.T) {
	ctx := context.Background()
	client := setupTestS3(t, "ntfs-device-test")

	dev, err := volume.NewS3Device(ctx, volume.S3DeviceConfig{
		Client:    client,
		Bucket:    "ntfs-device-test",
		KeyPrefix: "vol/",
		BlockSize: 64 << 10,
		Size:      1 << 20,
	})
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	t.Run("UnwrittenBlocksReadAsZero", func(t *testing.T) {
		buf := make([]byte, 4096)
		n, err := dev.ReadAt(buf, 128<<10)
		require.NoError(t, err)
		assert.Equal(t, 4096, n)
		assert.Equal(t, make([]byte, 4096), buf)
	})

	t.Run("WriteAcrossBlockBoundary", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xAB}, 10000)
		off := int64(64<<10) - 5000

		_, err := dev.WriteAt(data, off)
		require.NoError(t, err)

		got := make([]byte, len(data)+2)
		_, err = dev.ReadAt(got, off-1)
		require.NoError(t, err)
		assert.Equal(t, byte(0), got[0])
		assert.Equal(t, data, got[1:len(data)+1])
		assert.Equal(t, byte(0), got[len(got)-1])
	})
}

// TestS3FileSystem_Integration runs a file system whose clusters live in S3.
func TestS3FileSystem_Integration(t *testing.T) {
	ctx := context.Background()
	setupTestS3(t, "ntfs-volume-test")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := config.GetDefaultConfig()
	cfg.Table.Type = "memory"
	cfg.Device.Type = "s3"
	cfg.Device.Size = 8 << 20
	cfg.Device.S3 = map[string]any{
		"bucket":            "ntfs-volume-test",
		"region":            "us-east-1",
		"endpoint":          localstackEndpoint(),
		"access_key_id":     "test",
		"secret_access_key": "test",
		"block_size":        int64(256 << 10),
	}
	require.NoError(t, config.Validate(cfg))

	rt, err := config.CreateFileSystem(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	f, err := rt.FileSystem.CreateFile(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, rt.FileSystem.Link(ctx, rt.Root, f, "blob.bin"))

	payload := make([]byte, 300<<10)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	s, err := f.OpenStream(ctx, mft.AttributeData, "", ntfs.AccessReadWrite)
	require.NoError(t, err)
	require.NoError(t, s.Replace(payload))
	require.NoError(t, f.Persist(ctx))

	data, err := f.FindAttribute(ctx, mft.AttributeData, "")
	require.NoError(t, err)
	assert.True(t, data.IsNonResident())

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
