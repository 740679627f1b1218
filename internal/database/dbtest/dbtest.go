// Package dbtest holds a behaviour suite shared by every identity repository backend.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facepass/internal/database"
)

// RunIdentityRepository runs the shared suite against an empty repository.
func RunIdentityRepository(t *testing.T, repo database.IdentityWriter) {
	t.Helper()
	ctx := context.Background()

	t.Run("EnrollCommit", func(t *testing.T) {
		tx, err := repo.BeginEnroll(ctx, "alice")
		require.NoError(t, err)
		defer tx.Rollback()

		existing, err := tx.GetIdentityByName(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, existing)

		identity, err := tx.InsertIdentity(ctx, "alice")
		require.NoError(t, err)
		assert.NotZero(t, identity.ID)

		for _, img := range [][]byte{[]byte("jpeg-1"), []byte("jpeg-2")} {
			sample, err := tx.InsertSample(ctx, identity.ID, img)
			require.NoError(t, err)
			assert.Equal(t, identity.ID, sample.IdentityID)
		}
		require.NoError(t, tx.Commit())

		got, err := repo.GetIdentityByName(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, identity.ID, got.ID)
		assert.False(t, got.CreatedAt.IsZero())

		byID, err := repo.GetIdentity(ctx, identity.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, "alice", byID.Name)

		ids, err := repo.ListSampleIDs(ctx, identity.ID)
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.Less(t, ids[0], ids[1])

		sample, err := repo.GetSample(ctx, ids[1])
		require.NoError(t, err)
		require.NotNil(t, sample)
		assert.Equal(t, []byte("jpeg-2"), sample.Image)
	})

	t.Run("RollbackLeavesNothing", func(t *testing.T) {
		tx, err := repo.BeginEnroll(ctx, "bob")
		require.NoError(t, err)

		identity, err := tx.InsertIdentity(ctx, "bob")
		require.NoError(t, err)
		_, err = tx.InsertSample(ctx, identity.ID, []byte("jpeg"))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		got, err := repo.GetIdentityByName(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		tx, err := repo.BeginEnroll(ctx, "alice")
		require.NoError(t, err)
		defer tx.Rollback()

		existing, err := tx.GetIdentityByName(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, existing)

		_, err = tx.InsertIdentity(ctx, "alice")
		assert.ErrorIs(t, err, database.ErrDuplicateIdentity)
	})

	t.Run("AddSample", func(t *testing.T) {
		sample, err := repo.AddSample(ctx, "alice", []byte("jpeg-3"))
		require.NoError(t, err)
		assert.NotZero(t, sample.ID)

		alice, err := repo.GetIdentityByName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, sample.IdentityID)

		ids, err := repo.ListSampleIDs(ctx, alice.ID)
		require.NoError(t, err)
		assert.Len(t, ids, 3)
	})

	t.Run("AddSampleUnknownIdentity", func(t *testing.T) {
		_, err := repo.AddSample(ctx, "nobody", []byte("jpeg"))
		assert.ErrorIs(t, err, database.ErrIdentityNotFound)
	})

	t.Run("NotFound", func(t *testing.T) {
		identity, err := repo.GetIdentity(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, identity)

		sample, err := repo.GetSample(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, sample)
	})

	t.Run("ListAndLoad", func(t *testing.T) {
		tx, err := repo.BeginEnroll(ctx, "carol")
		require.NoError(t, err)
		_, err = tx.InsertIdentity(ctx, "carol")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		summaries, err := repo.ListIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "alice", summaries[0].Name)
		assert.Equal(t, 3, summaries[0].SampleCount)
		assert.Equal(t, "carol", summaries[1].Name)
		assert.Equal(t, 0, summaries[1].SampleCount)

		all, err := repo.LoadAllSamples(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "alice", all[0].Identity.Name)
		require.Len(t, all[0].Samples, 3)
		assert.Equal(t, []byte("jpeg-1"), all[0].Samples[0].Image)
		assert.Equal(t, []byte("jpeg-3"), all[0].Samples[2].Image)
		assert.Equal(t, "carol", all[1].Identity.Name)
		assert.Empty(t, all[1].Samples)
	})
}
