package repository

import (
	"context"
	"testing"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendModeRepository_Upsert(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSendModeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, 1, model.SendModeDraft))
	require.NoError(t, repo.Upsert(ctx, 2, model.SendModeSend))

	modes, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, modes, 2)

	// Upsert overwrites, it never duplicates the row.
	require.NoError(t, repo.Upsert(ctx, 1, model.SendModeSend))
	modes, err = repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, modes, 2)

	byThread := make(map[int64]model.SendMode)
	for _, m := range modes {
		byThread[m.ThreadID] = m.Mode
	}
	assert.Equal(t, model.SendModeSend, byThread[1])
}

func TestSendModeRepository_Delete(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSendModeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, 5, model.SendModeDraft))
	require.NoError(t, repo.Delete(ctx, 5))

	modes, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, modes)
}

func TestSimPrefRepository(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSimPrefRepository(db)
	ctx := context.Background()

	sub, err := repo.Preferred(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnknown, sub)

	require.NoError(t, repo.SetPreferred(ctx, "+1 555-0001", 3))
	sub, err = repo.Preferred(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, 3, sub)

	require.NoError(t, repo.SetPreferred(ctx, "+15550001", 1))
	sub, err = repo.Preferred(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, 1, sub)
}
