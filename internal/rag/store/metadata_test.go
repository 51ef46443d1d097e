package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want map[string]any
	}{
		{"映射原样返回", map[string]any{"patient": "Jane"}, map[string]any{"patient": "Jane"}},
		{"字符串映射", map[string]string{"doctor": "Dr. K"}, map[string]any{"doctor": "Dr. K"}},
		{"JSON 字符串", `{"patient_name":"Jane","age":45}`, map[string]any{"patient_name": "Jane", "age": float64(45)}},
		{"JSON 字节", []byte(`{"content":"fever"}`), map[string]any{"content": "fever"}},
		{"单引号 dict", `{'patient_name': 'Jane', 'active': True, 'note': None}`,
			map[string]any{"patient_name": "Jane", "active": true, "note": nil}},
		{"repr 中的撇号", `{'patient_name': 'Jane', 'content': "patient's fever"}`,
			map[string]any{"patient_name": "Jane", "content": "patient's fever"}},
		{"repr 转义与元组", `{'note': 'it\'s "mild"', 'codes': ('J10', 'R50',), 'dose': 2.5e1, 'flag': False}`,
			map[string]any{"note": `it's "mild"`, "codes": []any{"J10", "R50"}, "dose": float64(25), "flag": false}},
		{"二次编码", `"{\"content\":\"cough\"}"`, map[string]any{"content": "cough"}},
		{"空字符串", "", nil},
		{"nil", nil, nil},
		{"无法解析", "patient=Jane", nil},
		{"数组", `[1,2,3]`, nil},
		{"不支持的类型", 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeMetadata(tt.raw))
		})
	}
}

func TestPythonToJSON(t *testing.T) {
	out, err := pythonToJSON(`{'a': [1, 2,], 'b': None}`)
	assert.NoError(t, err)
	assert.Equal(t, `{"a": [1, 2], "b": null}`, out)

	_, err = pythonToJSON(`{'a': nan}`)
	assert.Error(t, err)
	_, err = pythonToJSON(`{'a': 'open}`)
	assert.Error(t, err)
}

func TestCheckRecords(t *testing.T) {
	err := CheckRecords(3, []*Record{
		{ID: "a", Values: []float32{1, 2, 3}},
		{ID: "b", Values: []float32{1, 2}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var de *DimensionError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, "b", de.ID)
	assert.Equal(t, 2, de.Actual)

	assert.Error(t, CheckRecords(3, []*Record{{Values: []float32{1, 2, 3}}}))
	assert.NoError(t, CheckRecords(3, nil))
	assert.ErrorIs(t, CheckDimension(4, []float32{1}), ErrDimensionMismatch)
}
