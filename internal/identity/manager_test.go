package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 假解析器：token 形如 "tok:<userID>"，否则报错
func fakeParser(token string) (string, error) {
	if len(token) > 4 && token[:4] == "tok:" {
		return token[4:], nil
	}
	return "", errors.New("invalid token")
}

func TestSetTokenFirstLoginFiresReset(t *testing.T) {
	resets := 0
	m := NewManager(fakeParser, func() { resets++ })

	require.NoError(t, m.SetToken("tok:alice"))
	assert.Equal(t, 1, resets)
	assert.Equal(t, "alice", m.UserID())
	assert.Equal(t, "tok:alice", m.Token())
}

func TestSetTokenSameUserDoesNotFireReset(t *testing.T) {
	resets := 0
	m := NewManager(fakeParser, func() { resets++ })

	require.NoError(t, m.SetToken("tok:alice"))
	// 同一用户刷新 token 不清本地状态
	require.NoError(t, m.SetToken("tok:alice"))
	assert.Equal(t, 1, resets)
}

func TestSetTokenUserSwitchFiresReset(t *testing.T) {
	resets := 0
	m := NewManager(fakeParser, func() { resets++ })

	require.NoError(t, m.SetToken("tok:alice"))
	require.NoError(t, m.SetToken("tok:bob"))
	assert.Equal(t, 2, resets)
	assert.Equal(t, "bob", m.UserID())
}

func TestSetTokenParseErrorKeepsIdentity(t *testing.T) {
	resets := 0
	m := NewManager(fakeParser, func() { resets++ })
	require.NoError(t, m.SetToken("tok:alice"))

	err := m.SetToken("garbage")
	require.Error(t, err)
	// 解析失败不动当前身份
	assert.Equal(t, "alice", m.UserID())
	assert.Equal(t, "tok:alice", m.Token())
	assert.Equal(t, 1, resets)
}

func TestLogoutFiresResetOnlyWhenLoggedIn(t *testing.T) {
	resets := 0
	m := NewManager(fakeParser, func() { resets++ })

	// 未登录时注销是空操作
	m.Logout()
	assert.Equal(t, 0, resets)

	require.NoError(t, m.SetToken("tok:alice"))
	m.Logout()
	assert.Equal(t, 2, resets)
	assert.Empty(t, m.UserID())
	assert.Empty(t, m.Token())
}
