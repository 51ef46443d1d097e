package biz

import "strings"

// NotesLabel 是块正文在待嵌入文本中的标签。
const NotesLabel = "Medical Notes"

// Compose 将元数据渲染为 "<标签>: <值>" 行并附加块正文。
// 缺失字段直接跳过，正文段始终存在。相同输入产生逐字节相同的输出。
func Compose(chunk string, meta PatientMetadata) string {
	fields := [...]struct {
		label string
		value string
	}{
		{"Patient Name", meta.PatientName},
		{"Patient ID", meta.PatientID},
		{"Age", meta.Age},
		{"Gender", meta.Gender},
		{"Date/Time", meta.DateTime},
		{"Doctor", meta.Doctor},
		{"Source", meta.Source},
	}

	var sb strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		sb.WriteString(f.label)
		sb.WriteString(": ")
		sb.WriteString(f.value)
		sb.WriteByte('\n')
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString(NotesLabel)
	sb.WriteString(": ")
	sb.WriteString(chunk)
	return sb.String()
}
