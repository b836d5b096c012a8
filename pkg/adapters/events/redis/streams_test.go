package redis

import (
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/conduit/pkg/domain"
)

func TestStreamIDRoundTrip(t *testing.T) {
	for _, seq := range []int64{1, 2, 42, 1 << 40} {
		got, err := seqFromID(streamID(seq))
		require.NoError(t, err)
		assert.Equal(t, seq, got)
	}
}

func TestSeqFromID_Rejects(t *testing.T) {
	for _, id := range []string{"", "0", "1700000000000-1", "0-x", "0-0", "0--3"} {
		_, err := seqFromID(id)
		assert.Error(t, err, id)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "conduit:events:r1", getStreamKey("r1"))
	assert.Equal(t, "conduit:events:r1:sealed", getSealedKey("r1"))
}

func TestDecodeMessage(t *testing.T) {
	data, err := json.Marshal(domain.RunEvent{
		ID:        "e1",
		RunID:     "r1",
		EventType: domain.EventTypeStageCompleted,
		StageID:   "a",
		Payload:   map[string]any{"output_count": 3},
	})
	require.NoError(t, err)

	ev, err := decodeMessage(redis.XMessage{ID: "0-7", Values: map[string]interface{}{"data": string(data)}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ev.Seq)
	assert.Equal(t, "a", ev.StageID)
	assert.Equal(t, float64(3), ev.Payload["output_count"])

	_, err = decodeMessage(redis.XMessage{ID: "0-1", Values: map[string]interface{}{}})
	assert.Error(t, err)
}
