package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noteRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Index    int            `json:"chunk_index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func TestMarshalSortsMapKeys(t *testing.T) {
	out, err := MarshalString(map[string]any{
		"patient_name": "Jane Doe",
		"age":          45,
		"doctor":       "Dr. Who",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"age":45,"doctor":"Dr. Who","patient_name":"Jane Doe"}`, out)
}

func TestRoundTripRecord(t *testing.T) {
	in := noteRecord{
		ID:       "rec-1",
		Content:  "fever and cough",
		Index:    2,
		Metadata: map[string]any{"source": "clinic"},
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out noteRecord
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalStringInvalid(t *testing.T) {
	var m map[string]any
	err := UnmarshalString("{'patient': 'x'}", &m)
	assert.Error(t, err)
	assert.False(t, Valid([]byte("{'patient': 'x'}")))
	assert.True(t, Valid([]byte(`{"patient":"x"}`)))
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]int{"top_k": 3}))

	var out map[string]int
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, 3, out["top_k"])
}

func TestStdlibFallback(t *testing.T) {
	prev := sonicEnabled
	useStdlib()
	t.Cleanup(func() {
		if prev {
			useSonic()
		}
	})

	assert.False(t, IsUsingSonic())
	out, err := MarshalString(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, out)
}
