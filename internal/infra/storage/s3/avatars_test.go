package s3

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/config"
	"marketchat/internal/infra/storage/memory"
)

func testSigner(t *testing.T) *AvatarSigner {
	t.Helper()
	s, err := NewAvatarSigner(config.S3Config{
		Endpoint:   "http://localhost:9000",
		AccessKey:  "minioadmin",
		SecretKey:  "minioadmin",
		Bucket:     "avatars",
		PresignTTL: 5 * time.Minute,
	}, nil)
	require.NoError(t, err)
	return s
}

func TestNewAvatarSigner_Validation(t *testing.T) {
	_, err := NewAvatarSigner(config.S3Config{Bucket: "avatars"}, nil)
	assert.Error(t, err)
	_, err = NewAvatarSigner(config.S3Config{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}

func TestAvatarSigner_Sign(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	signed, err := s.Sign(ctx, "/u1/avatar.png")
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/avatars/u1/avatar.png", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))

	external, err := s.Sign(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", external)

	empty, err := s.Sign(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAvatarSigner_Directory(t *testing.T) {
	s := testSigner(t)
	inner := memory.NewProfileDirectory(
		domainchat.Profile{UserID: "u1", Name: "Ada", AvatarURL: "u1.png"},
		domainchat.Profile{UserID: "u2", Name: "Grace"},
	)

	got, err := s.Directory(inner).Profiles(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Contains(t, got["u1"].AvatarURL, "/avatars/u1.png?")
	assert.Equal(t, "Ada", got["u1"].Name)
	assert.Empty(t, got["u2"].AvatarURL)
}
