package store

import (
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// pythonLiterals 是最后的粗略修复：全局替换引号与字面量。
var pythonLiterals = strings.NewReplacer(
	"'", `"`,
	": True", ": true",
	": False", ": false",
	": None", ": null",
)

// DecodeMetadata 将存储返回的元数据统一为映射。
//
// 支持映射、JSON 字符串/字节、被二次编码的 JSON 字符串以及单引号形式的 dict 文本。
// 无法解析时返回 nil 并记录告警，调用方将其视为缺失。
func DecodeMetadata(raw any) map[string]any {
	m, err := decodeMetadata(raw, 0)
	if err != nil {
		logger.Warnw("dropping undecodable vector metadata", "error", err.Error())
		return nil
	}
	return m
}

func decodeMetadata(raw any, depth int) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case []byte:
		return decodeMetadataString(string(v), depth)
	case string:
		return decodeMetadataString(v, depth)
	default:
		return nil, fmt.Errorf("unsupported metadata type %T", raw)
	}
}

func decodeMetadataString(s string, depth int) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}

	decoded, err := unmarshalLenient(s)
	if err != nil {
		return nil, err
	}

	switch v := decoded.(type) {
	case map[string]any:
		return v, nil
	case string:
		if depth > 0 {
			return nil, fmt.Errorf("metadata is encoded more than twice")
		}
		return decodeMetadataString(v, depth+1)
	default:
		return nil, fmt.Errorf("metadata decodes to %T, want an object", decoded)
	}
}

// unmarshalLenient 依次尝试 JSON、Python 字面量以及全局替换引号。
func unmarshalLenient(s string) (any, error) {
	var decoded any
	err := json.UnmarshalString(s, &decoded)
	if err == nil {
		return decoded, nil
	}
	if converted, cerr := pythonToJSON(s); cerr == nil {
		if json.UnmarshalString(converted, &decoded) == nil {
			return decoded, nil
		}
	}
	if json.UnmarshalString(pythonLiterals.Replace(s), &decoded) == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
}

// pythonToJSON 将 dict/list/tuple 的 repr 文本改写为 JSON。
// 上游有时会把 repr 当作字符串写入元数据，其值常含撇号，
// 例如 {'content': "patient's fever"}。
func pythonToJSON(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			str, next, err := readPythonString(s, i)
			if err != nil {
				return "", err
			}
			out, err := json.MarshalString(str)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = next
		case c == '_' || isLetter(c):
			j := i
			for j < len(s) && (s[j] == '_' || isLetter(s[j]) || isDigit(s[j])) {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				// 指数部分，如 1e5 或 1e-5。
				if i == 0 || !isDigit(s[i-1]) || (word[0] != 'e' && word[0] != 'E') {
					return "", fmt.Errorf("unexpected identifier %q at offset %d", word, i)
				}
				b.WriteString(word)
			}
			i = j
		case c == '(' || c == '[' || c == '{':
			if c == '(' {
				c = '['
			}
			b.WriteByte(c)
			i++
		case c == ')' || c == ']' || c == '}':
			if c == ')' {
				c = ']'
			}
			// Python 允许尾随逗号，JSON 不允许。
			trimmed := strings.TrimRight(b.String(), " \t\r\n")
			if strings.HasSuffix(trimmed, ",") {
				trimmed = trimmed[:len(trimmed)-1]
				b.Reset()
				b.WriteString(trimmed)
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// readPythonString 读取从 start 开始的单/双引号字符串，返回内容与结束后的位置。
func readPythonString(s string, start int) (string, int, error) {
	quote := s[start]
	var b strings.Builder
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("unterminated escape at offset %d", i)
			}
			i++
			switch e := s[i]; e {
			case '\'', '"', '\\':
				b.WriteByte(e)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at offset %d", start)
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
