package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "conduit:version:v1", versionKey("v1"))
	assert.Equal(t, "conduit:pipeline:p:seq", pipelineSeqKey("p"))
	assert.Equal(t, "conduit:pipeline:p:versions", pipelineVersionsKey("p"))
	assert.Equal(t, "conduit:pipeline:p:active", activeKey("p"))
	assert.Equal(t, "conduit:run:r1", runKey("r1"))
}

func TestMatchesFilter(t *testing.T) {
	run := &domain.Run{PipelineID: "p", Status: domain.RunStatusRunning}

	tests := []struct {
		name   string
		filter ports.RunFilter
		want   bool
	}{
		{"empty filter", ports.RunFilter{}, true},
		{"pipeline match", ports.RunFilter{PipelineID: "p"}, true},
		{"pipeline mismatch", ports.RunFilter{PipelineID: "q"}, false},
		{"status match", ports.RunFilter{Status: domain.RunStatusRunning}, true},
		{"status mismatch", ports.RunFilter{PipelineID: "p", Status: domain.RunStatusQueued}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilter(run, tt.filter))
		})
	}
}

func TestDecodeVersion_Invalid(t *testing.T) {
	_, err := decodeVersion([]byte("{"))
	assert.Error(t, err)
	_, err = decodeRun([]byte("nope"))
	assert.Error(t, err)
}
