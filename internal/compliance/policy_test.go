// SPDX-License-Identifier: MIT

package compliance

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBlockedKeyword(t *testing.T) {
	p := NewPolicy(Config{}, zerolog.Nop())

	v := p.Check("s1", "亲，加我微信聊吧")
	assert.Equal(t, ActionBlock, v.Action)
	assert.False(t, v.Allowed())
	assert.Contains(t, v.Reason, "keyword:")
}

func TestBlockedKeywordCaseInsensitive(t *testing.T) {
	p := NewPolicy(Config{}, zerolog.Nop())

	v := p.Check("s1", "可以加 VX 联系")
	assert.Equal(t, ActionBlock, v.Action)
}

func TestWarnKeyword(t *testing.T) {
	p := NewPolicy(Config{}, zerolog.Nop())

	v := p.Check("s1", "保证三天到")
	assert.Equal(t, ActionWarn, v.Action)
	assert.True(t, v.Allowed())
}

func TestCleanTextAllowed(t *testing.T) {
	p := NewPolicy(Config{}, zerolog.Nop())

	v := p.Check("s1", "您好，浙江到北京走中通大约7.5元哈")
	assert.Equal(t, ActionAllow, v.Action)
}

func TestPerSessionRateCap(t *testing.T) {
	p := NewPolicy(Config{PerSessionPerMinute: 60, Burst: 2}, zerolog.Nop())

	assert.Equal(t, ActionAllow, p.Check("s1", "第一条").Action)
	assert.Equal(t, ActionAllow, p.Check("s1", "第二条").Action)
	assert.Equal(t, ActionBlock, p.Check("s1", "第三条").Action)

	// Other sessions keep their own limiter.
	assert.Equal(t, ActionAllow, p.Check("s2", "你好").Action)
}

func TestRateCapDisabled(t *testing.T) {
	p := NewPolicy(Config{PerSessionPerMinute: 0}, zerolog.Nop())
	for i := 0; i < 50; i++ {
		assert.Equal(t, ActionAllow, p.Check("s1", "你好").Action)
	}
}
