package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want string
	}{
		{
			name: "无元数据",
			meta: nil,
			want: "Medical Notes: fever and cough",
		},
		{
			name: "姓名和编号",
			meta: map[string]any{"patient_name": "Jane Doe", "patient_id": "P1"},
			want: "Patient Name: Jane Doe\nPatient ID: P1\n\nMedical Notes: fever and cough",
		},
		{
			name: "全部字段按固定顺序",
			meta: map[string]any{
				"source":     "clinic",
				"doctor":     "Dr. House",
				"date_time":  "2024-01-02 10:00",
				"gender":     "F",
				"age":        float64(45),
				"patient_id": "P1",
				"patient":    "Jane Doe",
			},
			want: "Patient Name: Jane Doe\nPatient ID: P1\nAge: 45\nGender: F\n" +
				"Date/Time: 2024-01-02 10:00\nDoctor: Dr. House\nSource: clinic\n\nMedical Notes: fever and cough",
		},
		{
			name: "同义键取第一个",
			meta: map[string]any{"patient_name": "A", "patient": "B", "visit_date": "2024", "date": "1999"},
			want: "Patient Name: A\nDate/Time: 2024\n\nMedical Notes: fever and cough",
		},
		{
			name: "空值跳过并回退到同义键",
			meta: map[string]any{"patient_id": "", "id": 42, "age": nil, "gender": "  "},
			want: "Patient ID: 42\n\nMedical Notes: fever and cough",
		},
		{
			name: "大小写敏感",
			meta: map[string]any{"Patient_Name": "Jane"},
			want: "Medical Notes: fever and cough",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose("fever and cough", ParsePatientMetadata(tt.meta))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompose_AbsentAgeNotRendered(t *testing.T) {
	meta := ParsePatientMetadata(map[string]any{"patient_name": "Jane Doe", "patient_id": "P1"})
	got := Compose("fever and cough", meta)

	assert.Contains(t, got, "Jane Doe")
	assert.Contains(t, got, "fever and cough")
	assert.NotContains(t, got, "Age:")
	assert.NotContains(t, got, "N/A")
	assert.False(t, strings.Contains(got, "\n\n\n"))
}

func TestCompose_Pure(t *testing.T) {
	meta := ParsePatientMetadata(map[string]any{"patient_name": "Jane", "age": 30, "doctor": "Dr. K"})
	first := Compose("chunk", meta)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compose("chunk", meta))
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "45", stringify(float64(45)))
	assert.Equal(t, "36.6", stringify(36.6))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, `{"bp":"120/80"}`, stringify(map[string]any{"bp": "120/80"}))
	assert.Equal(t, "", stringify(nil))
}
