package postgres

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/conduit/pkg/domain"
)

// fakeRow assigns values to Scan destinations positionally
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func TestScanVersion(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	published := created.Add(time.Hour)
	row := fakeRow{values: []any{
		"v1", "p", 3, "PUBLISHED",
		[]byte(`{"name":"p","stages":[{"stage_id":"a","name":"A","executor_ref":"builtin.identity"}],"edges":[]}`),
		"summary", "alice", created, created,
		(*time.Time)(nil), &published, (*time.Time)(nil),
		true,
	}}

	v, err := scanVersion(row)
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, 3, v.VersionNumber)
	assert.Equal(t, domain.VersionStatusPublished, v.Status)
	assert.True(t, v.IsActive)
	assert.Equal(t, "alice", v.CreatedBy)
	require.Len(t, v.Spec.Stages, 1)
	assert.Equal(t, "builtin.identity", v.Spec.Stages[0].ExecutorRef)
	assert.Nil(t, v.SubmittedAt)
	require.NotNil(t, v.PublishedAt)
	assert.Equal(t, published, *v.PublishedAt)
}

func TestScanVersion_BadSpec(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []any{
		"v1", "p", 1, "DRAFT", []byte(`{`), "", "", now, now,
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), false,
	}}
	_, err := scanVersion(row)
	assert.Error(t, err)
}

func TestScanRun(t *testing.T) {
	r, err := scanRun(fakeRow{values: []any{
		[]byte(`{"id":"r1","pipeline_id":"p","status":"RUNNING","stop_requested":true,"artifact_pointers":{},"metrics_summary":{"input_count":2,"output_count":0,"stages":[]}}`),
	}})
	require.NoError(t, err)
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, domain.RunStatusRunning, r.Status)
	assert.True(t, r.StopRequested)
	assert.Equal(t, 2, r.MetricsSummary.InputCount)

	boom := errors.New("no rows")
	_, err = scanRun(fakeRow{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])

	body, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{"pipelines", "pipeline_versions", "runs"} {
		assert.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
