package util

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// 自动探测时依次尝试的旧编码
var fallbackEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	simplifiedchinese.GBK,
	simplifiedchinese.HZGB2312,
	traditionalchinese.Big5,
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.Macintosh,
}

var namedEncodings = map[string]encoding.Encoding{
	"gb18030":      simplifiedchinese.GB18030,
	"gbk":          simplifiedchinese.GBK,
	"gb2312":       simplifiedchinese.HZGB2312,
	"hz-gb-2312":   simplifiedchinese.HZGB2312,
	"big5":         traditionalchinese.Big5,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"macintosh":    charmap.Macintosh,
}

// LookupEncoding 按名称查找编码，"" / "auto" / "utf-8" 返回 nil 表示自动探测
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "auto", "utf-8", "utf8", "text", "json":
		return nil, nil
	default:
		enc, ok := namedEncodings[n]
		if !ok {
			return nil, fmt.Errorf("unsupported encoding %q", name)
		}
		return enc, nil
	}
}

// EnsureUTF8Bytes 非 UTF-8 字节按常见旧编码尝试解码，均失败时原样返回
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range fallbackEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}

// StreamDecoder 分块解码终端输出，跨块截断的多字节字符留到下一块
type StreamDecoder struct {
	enc   encoding.Encoding
	carry []byte
}

// NewStreamDecoder enc 为 nil 时按 UTF-8 处理并在非法时自动探测
func NewStreamDecoder(enc encoding.Encoding) *StreamDecoder {
	return &StreamDecoder{enc: enc}
}

// Decode 解码一块数据
func (d *StreamDecoder) Decode(chunk []byte) string {
	b := append(d.carry, chunk...)
	d.carry = nil
	if d.enc != nil {
		s, err := d.enc.NewDecoder().Bytes(b)
		if err != nil {
			return string(b)
		}
		return string(s)
	}
	complete, rest := SplitIncompleteUTF8(b)
	if len(rest) > 0 {
		d.carry = append([]byte(nil), rest...)
	}
	return EnsureUTF8Bytes(complete)
}

// Flush 返回残留字节
func (d *StreamDecoder) Flush() string {
	b := d.carry
	d.carry = nil
	return EnsureUTF8Bytes(b)
}

// SplitIncompleteUTF8 拆出末尾未完整的 UTF-8 序列
func SplitIncompleteUTF8(b []byte) (complete, rest []byte) {
	// 最多回看 3 个字节
	for i := 1; i <= 3 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return b, nil
		}
		if c >= 0xC0 {
			need := 0
			switch {
			case c >= 0xF0:
				need = 4
			case c >= 0xE0:
				need = 3
			default:
				need = 2
			}
			if i < need {
				return b[:len(b)-i], b[len(b)-i:]
			}
			return b, nil
		}
	}
	return b, nil
}
