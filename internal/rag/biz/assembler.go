package biz

import (
	"strings"

	"github.com/kart-io/medrag/internal/rag/store"
)

// ContextSeparator 上下文片段之间的分隔符。
const ContextSeparator = "\n\n"

// Assembler 将检索结果拼接为生成所需的上下文。
type Assembler struct {
	// Attribution 为每个片段添加 [Patient: ..., Date: ...] 前缀。
	Attribution bool
}

// Assemble 按检索排名拼接至多 maxMatches 个片段（非正数表示不限），
// 跳过没有 content 的结果，返回上下文与实际使用的记录 ID。
// 没有可用内容时返回空字符串。
func (a Assembler) Assemble(matches []*store.Match, maxMatches int) (string, []string) {
	var (
		segments []string
		used     []string
	)
	for _, m := range matches {
		if maxMatches > 0 && len(segments) >= maxMatches {
			break
		}
		if m == nil {
			continue
		}
		content := stringify(m.Metadata[MetaContent])
		if strings.TrimSpace(content) == "" {
			continue
		}

		if a.Attribution {
			if prefix := attribution(ParsePatientMetadata(m.Metadata)); prefix != "" {
				content = prefix + "\n" + content
			}
		}
		segments = append(segments, content)
		used = append(used, m.ID)
	}
	return strings.Join(segments, ContextSeparator), used
}

func attribution(meta PatientMetadata) string {
	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Patient", meta.PatientName)
	add("ID", meta.PatientID)
	add("Date", meta.DateTime)
	add("Doctor", meta.Doctor)

	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
