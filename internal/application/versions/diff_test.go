package versions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/conduit/pkg/domain"
)

func TestDiffSpecs_StageChanges(t *testing.T) {
	before := chainSpec("a", "b", "c")
	after := chainSpec("a", "b", "d")
	after.Stages[1].BatchSize = 8

	d, err := DiffSpecs(before, after)
	require.NoError(t, err)

	require.Len(t, d.StageChanges, 3)
	assert.Equal(t, "b", d.StageChanges[0].StageID)
	assert.Equal(t, StageModified, d.StageChanges[0].Change)
	assert.Equal(t, 0, d.StageChanges[0].Before.BatchSize)
	assert.Equal(t, 8, d.StageChanges[0].After.BatchSize)

	assert.Equal(t, "c", d.StageChanges[1].StageID)
	assert.Equal(t, StageRemoved, d.StageChanges[1].Change)
	assert.Nil(t, d.StageChanges[1].After)

	assert.Equal(t, "d", d.StageChanges[2].StageID)
	assert.Equal(t, StageAdded, d.StageChanges[2].Change)
	assert.Nil(t, d.StageChanges[2].Before)

	assert.Contains(t, d.ChangedFields, "stages[1].batch_size")
	assert.Contains(t, d.ChangedFields, "stages[2].stage_id")
	assert.Contains(t, d.ChangedFields, "edges[1].target")
	assert.NotContains(t, d.ChangedFields, "name")
	assert.IsNonDecreasing(t, d.ChangedFields)
}

func TestDiffSpecs_Identical(t *testing.T) {
	d, err := DiffSpecs(chainSpec("a", "b"), chainSpec("a", "b"))
	require.NoError(t, err)
	assert.Empty(t, d.ChangedFields)
	assert.Empty(t, d.StageChanges)
}

func TestDiffSpecs_EmptyListIsAField(t *testing.T) {
	before := chainSpec("a")
	before.Tags = []string{"x"}
	after := chainSpec("a")

	d, err := DiffSpecs(before, after)
	require.NoError(t, err)
	assert.Equal(t, []string{"tags[0]"}, d.ChangedFields)
}

func TestServiceDiff(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	v1, err := svc.CreateDraft(ctx, "p", chainSpec("a"), "", "alice")
	require.NoError(t, err)
	v2, err := svc.CreateDraft(ctx, "p", chainSpec("a", "b"), "", "alice")
	require.NoError(t, err)
	other, err := svc.CreateDraft(ctx, "q", chainSpec("a"), "", "alice")
	require.NoError(t, err)

	d, err := svc.Diff(ctx, "p", v1.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, d.FromVersionID)
	assert.Equal(t, v2.ID, d.ToVersionID)
	require.Len(t, d.StageChanges, 1)
	assert.Equal(t, StageAdded, d.StageChanges[0].Change)

	_, err = svc.Diff(ctx, "p", v1.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	_, err = svc.Diff(ctx, "p", v1.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}
