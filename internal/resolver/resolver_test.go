package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

func seed(t *testing.T) (*store.MemoryStore, *models.Source) {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	src := &models.Source{
		ID: "src-1", OrgID: "org-1", Name: "stripe",
		SourceKind: models.SourceOpenAPI, AuthKind: models.AuthBearer,
	}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return s, src
}

func TestResolveActiveCredential(t *testing.T) {
	s, src := seed(t)
	require.NoError(t, s.CreateCredential(context.Background(), &models.Credential{
		ID: "cred-1", OrgID: "org-1", UserID: "user-1", SourceID: "src-1",
		Token: "tok_live", Active: true,
	}))

	r := New(s, time.Minute)
	cred, err := r.Resolve(context.Background(), src, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", cred.ID)
}

func TestResolveMissingCredentials(t *testing.T) {
	s, src := seed(t)
	r := New(s, time.Minute)

	_, err := r.Resolve(context.Background(), src, "org-1", "user-1")
	require.Error(t, err)
	assert.True(t, broker.Is(err, broker.KindMissingCredentials))
	assert.Contains(t, err.Error(), "stripe")

	// Another user's credential does not satisfy the lookup.
	require.NoError(t, s.CreateCredential(context.Background(), &models.Credential{
		ID: "cred-2", OrgID: "org-1", UserID: "user-2", SourceID: "src-1",
		Token: "tok_other", Active: true,
	}))
	_, err = r.Resolve(context.Background(), src, "org-1", "user-1")
	assert.True(t, broker.Is(err, broker.KindMissingCredentials))
}

func TestResolveAuthNoneSkipsLookup(t *testing.T) {
	s, src := seed(t)
	src.AuthKind = models.AuthNone
	r := New(s, time.Minute)

	cred, err := r.Resolve(context.Background(), src, "org-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestResolvePassthroughUnbound(t *testing.T) {
	s, src := seed(t)
	src.AuthKind = models.AuthPassthrough
	r := New(s, time.Minute)

	cred, err := r.Resolve(context.Background(), src, "org-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	s, src := seed(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCredential(ctx, &models.Credential{
		ID: "cred-1", OrgID: "org-1", UserID: "user-1", SourceID: "src-1",
		Token: "tok_live", Active: true,
	}))

	r := New(s, time.Minute)
	first, err := r.Resolve(ctx, src, "org-1", "user-1")
	require.NoError(t, err)

	// Deactivation is invisible until the cache is invalidated.
	require.NoError(t, s.DeactivateCredential(ctx, "org-1", "user-1", "cred-1"))
	cached, err := r.Resolve(ctx, src, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, cached.ID)

	r.Invalidate("src-1")
	_, err = r.Resolve(ctx, src, "org-1", "user-1")
	assert.True(t, broker.Is(err, broker.KindMissingCredentials))
}
