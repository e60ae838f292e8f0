package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "stockpulse/pkg/logx"
)

func TestSplitTextPrefersNewlines(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitText(text, 10)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, parts)

	parts = splitText(strings.Repeat("x", 25), 10)
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 5)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestAllowedChats(t *testing.T) {
	a, err := New(Config{Token: "123:abc", Offline: true, AllowedChats: []int64{42}}, logx.Nop())
	require.NoError(t, err)
	assert.True(t, a.chatAllowed(42))
	assert.False(t, a.chatAllowed(7))

	open, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.True(t, open.chatAllowed(7))
}
