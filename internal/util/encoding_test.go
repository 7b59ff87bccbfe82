package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestEnsureUTF8Bytes(t *testing.T) {
	assert.Equal(t, "", EnsureUTF8Bytes(nil))
	assert.Equal(t, "show version", EnsureUTF8Bytes([]byte("show version")))

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("接口状态"))
	require.NoError(t, err)
	assert.Equal(t, "接口状态", EnsureUTF8Bytes(gbk), "GBK 输出应被解码")
}

func TestStreamDecoderCarriesSplitRune(t *testing.T) {
	d := NewStreamDecoder(nil)
	raw := []byte("端口")
	first := d.Decode(raw[:4])
	second := d.Decode(raw[4:])
	assert.Equal(t, "端", first)
	assert.Equal(t, "口", second)
	assert.Equal(t, "", d.Flush())
}

func TestStreamDecoderNamed(t *testing.T) {
	enc, err := LookupEncoding("GBK")
	require.NoError(t, err)
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("设备"))
	require.NoError(t, err)
	assert.Equal(t, "设备", NewStreamDecoder(enc).Decode(gbk))

	enc, err = LookupEncoding("utf-8")
	require.NoError(t, err)
	assert.Nil(t, enc)

	_, err = LookupEncoding("ebcdic")
	assert.Error(t, err)
}

func TestSplitIncompleteUTF8(t *testing.T) {
	complete, rest := SplitIncompleteUTF8([]byte("ab"))
	assert.Equal(t, "ab", string(complete))
	assert.Empty(t, rest)

	raw := []byte("a端")
	complete, rest = SplitIncompleteUTF8(raw[:2])
	assert.Equal(t, "a", string(complete))
	assert.Equal(t, raw[1:2], rest)
}
