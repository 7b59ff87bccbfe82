package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsMerge(t *testing.T) {
	base := Credentials{Username: "admin", Password: "pw"}
	got := base.Merge(Credentials{Secret: "en"})
	assert.Equal(t, Credentials{Username: "admin", Password: "pw", Secret: "en"}, got)
	assert.True(t, got.HasSecret())
	assert.False(t, base.HasSecret(), "Merge 不修改原值")
}

func TestOptionsMerge(t *testing.T) {
	base := Options{Port: 22, Timeout: 30 * time.Second, Extra: map[string]string{"a": "1"}}
	got := base.Merge(Options{Port: 2222, Platform: "huawei", Extra: map[string]string{"b": "2"}})

	assert.Equal(t, 2222, got.Port)
	assert.Equal(t, 30*time.Second, got.Timeout, "零值不覆盖")
	assert.Equal(t, "huawei", got.Platform)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.Extra)
	assert.Len(t, base.Extra, 1)

	assert.Equal(t, 5*time.Second, Options{}.TimeoutOr(5*time.Second))
	assert.Equal(t, time.Second, Options{Timeout: time.Second}.TimeoutOr(5*time.Second))
}
