package biz

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// 向量记录中的保留元数据键。
const (
	MetaContent     = "content"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
)

// 各字段可识别的键，按优先级排列。
var (
	patientNameKeys = []string{"patient_name", "patient"}
	patientIDKeys   = []string{"patient_id", "id"}
	ageKeys         = []string{"age"}
	genderKeys      = []string{"gender"}
	dateTimeKeys    = []string{"date_time", "visit_date", "date"}
	doctorKeys      = []string{"doctor"}
	sourceKeys      = []string{"source"}
)

// PatientMetadata 是病历元数据中被识别的结构化字段，空字符串表示缺失。
type PatientMetadata struct {
	PatientName string
	PatientID   string
	Age         string
	Gender      string
	DateTime    string
	Doctor      string
	Source      string
}

// ParsePatientMetadata 从调用方元数据中提取已识别字段，同义键取第一个非空值。
func ParsePatientMetadata(meta map[string]any) PatientMetadata {
	return PatientMetadata{
		PatientName: lookup(meta, patientNameKeys),
		PatientID:   lookup(meta, patientIDKeys),
		Age:         lookup(meta, ageKeys),
		Gender:      lookup(meta, genderKeys),
		DateTime:    lookup(meta, dateTimeKeys),
		Doctor:      lookup(meta, doctorKeys),
		Source:      lookup(meta, sourceKeys),
	}
}

// IsZero 报告是否没有任何已识别字段。
func (m PatientMetadata) IsZero() bool {
	return m == PatientMetadata{}
}

func lookup(meta map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok {
			continue
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

// stringify 将元数据值渲染为文本。JSON 数字按整数优先输出，嵌套值渲染为 JSON。
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return stringify(float64(val))
	case int, int32, int64, uint, uint32, uint64, bool:
		return fmt.Sprint(val)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// cloneMetadata 浅拷贝元数据，nil 返回空映射。
func cloneMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
