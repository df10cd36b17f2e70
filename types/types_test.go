package types

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUIDShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	for i := 0; i < 16; i++ {
		assert.Regexp(t, pattern, NewUUID())
	}
}

func TestParseParentUUID(t *testing.T) {
	for _, token := range []string{ParentTrash, ParentRecents, ParentFavorites, ParentLinks} {
		p, err := ParseParentUUID(token)
		require.NoError(t, err)
		assert.False(t, p.IsUUID())
		assert.Equal(t, token, p.String())
	}

	uuid := NewUUID()
	p, err := ParseParentUUID(uuid)
	require.NoError(t, err)
	assert.True(t, p.IsUUID())

	_, err = ParseParentUUID("not-a-parent")
	assert.Error(t, err)
}

func TestDirColorValid(t *testing.T) {
	assert.True(t, DirColorDefault.Valid())
	assert.True(t, DirColorBlue.Valid())
	assert.True(t, DirColor("#a1b2c3").Valid())
	assert.False(t, DirColor("#a1b2c").Valid())
	assert.False(t, DirColor("#a1b2cg").Valid())
	assert.False(t, DirColor("mauve").Valid())
}

func TestAuthVersion(t *testing.T) {
	assert.True(t, AuthVersionV2.Valid())
	assert.False(t, AuthVersion(0).Valid())
	assert.False(t, AuthVersion(4).Valid())
	assert.Equal(t, "v3", AuthVersionV3.String())

	// Wire form is a bare number.
	raw, err := json.Marshal(LoginRequest{AuthVersion: AuthVersionV2})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"authVersion":2`)
}

func TestResponseEnvelopeDecoding(t *testing.T) {
	var resp Response
	err := json.Unmarshal([]byte(`{"status":false,"code":"enter_2fa","message":"Please enter your two factor code"}`), &resp)
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Equal(t, "enter_2fa", resp.Code)
	assert.Nil(t, resp.Data)

	err = json.Unmarshal([]byte(`{"status":true,"data":{"uuid":"x"}}`), &resp)
	require.NoError(t, err)
	assert.True(t, resp.Status)
	assert.NotNil(t, resp.Data)
}
