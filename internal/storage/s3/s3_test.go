package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filecore/internal/models"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{AccessKey: "ak", SecretKey: "sk"})
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  Config
		key  string
		want string
	}{
		{
			name: "aws virtual host",
			cfg:  Config{Bucket: "acme", Region: "eu-west-1"},
			key:  "t/2026/10/report.pdf",
			want: "https://acme.s3.eu-west-1.amazonaws.com/t/2026/10/report.pdf",
		},
		{
			name: "default region",
			cfg:  Config{Bucket: "acme"},
			key:  "a b.txt",
			want: "https://acme.s3.us-east-1.amazonaws.com/a%20b.txt",
		},
		{
			name: "custom endpoint",
			cfg:  Config{Bucket: "acme", Endpoint: "http://minio:9000/"},
			key:  "t/x.png",
			want: "http://minio:9000/acme/t/x.png",
		},
		{
			name: "public url",
			cfg:  Config{Bucket: "acme", Endpoint: "http://minio:9000", PublicURL: "https://cdn.example.com/"},
			key:  "t/x.png",
			want: "https://cdn.example.com/t/x.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(ctx, tt.cfg)
			require.NoError(t, err)
			got, ok := b.URL(ctx, tt.key)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, models.BackendS3, b.Kind())
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}
