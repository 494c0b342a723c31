package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_Alias(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	alias, err := NewAliasTask("mp-1", "v-1")
	require.NoError(t, err)

	data, err := Marshal(alias, now)
	require.NoError(t, err)

	env, decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, KindCreateAlias, env.Kind)
	assert.True(t, now.Equal(env.EnqueuedAt))
	assert.Equal(t, alias, decoded)
}

func TestMarshalUnmarshal_Notification(t *testing.T) {
	n, err := NewNotificationTask("mp-1", "v-1", map[string]string{"time": "beer_thirty"})
	require.NoError(t, err)

	data, err := Marshal(n, time.Now())
	require.NoError(t, err)

	_, decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, n, decoded)
}

func TestMarshal_RejectsInvalidTask(t *testing.T) {
	_, err := Marshal(&AliasTask{ExistingDistinctID: "mp-1"}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTask))
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	data, err := json.Marshal(Envelope{Kind: "mystery", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, _, err = Unmarshal(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTask))
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, _, err := Unmarshal([]byte("not json"))
	require.Error(t, err)
}
