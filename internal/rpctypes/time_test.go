package rpctypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeJSON(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	v := struct{ At Time }{At: Time{Time: time.Date(2020, 5, 1, 15, 4, 5, 0, loc)}}

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"At":"2020-05-01T12:04:05Z"}`, string(b))

	var got struct{ At Time }
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, v.At.Equal(got.At.Time))
}

func TestZeroTimeIsNull(t *testing.T) {
	b, err := json.Marshal(struct{ At Time }{})
	require.NoError(t, err)
	assert.Equal(t, `{"At":null}`, string(b))

	got := Time{Time: time.Now()}
	require.NoError(t, got.UnmarshalJSON([]byte("null")))
	assert.True(t, got.IsZero())
	assert.Error(t, got.UnmarshalJSON([]byte(`"yesterday"`)))
}
