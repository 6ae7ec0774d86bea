package nostr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys_GenerateAndParse(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	assert.Len(t, keys.PublicKey(), 64)
	assert.Len(t, keys.SecretKey(), 64)

	reparsed, err := ParseKeys(keys.SecretKey())
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey(), reparsed.PublicKey())

	_, err = ParseKeys("not hex")
	assert.Error(t, err)
	_, err = ParseKeys("abcd")
	assert.Error(t, err)
}

func TestEvent_SignAndVerify(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	ev := &Event{
		CreatedAt: 1700000000,
		Kind:      25000,
		Tags:      [][]string{{"d", "sasso-abc123"}},
		Content:   `{"type":"heartbeat","timestamp":123}`,
	}
	require.NoError(t, ev.Sign(keys))

	assert.Equal(t, keys.PublicKey(), ev.Pubkey)
	assert.Len(t, ev.ID, 64)
	assert.Len(t, ev.Sig, 128)
	assert.True(t, ev.Verify())
}

func TestEvent_VerifyRejectsTampering(t *testing.T) {
	keys, _ := GenerateKeys()
	ev := &Event{Kind: 1, CreatedAt: 1700000000, Content: "hello"}
	require.NoError(t, ev.Sign(keys))

	tampered := *ev
	tampered.Content = "hell0"
	assert.False(t, tampered.Verify(), "content change must break the id")

	forged := *ev
	other, _ := GenerateKeys()
	forged.Pubkey = other.PublicKey()
	assert.False(t, forged.Verify(), "author swap must break the signature")
}

func TestEvent_SerializeIsCanonical(t *testing.T) {
	ev := &Event{
		Pubkey:    "ab",
		CreatedAt: 10,
		Kind:      1,
		Tags:      [][]string{{"t", "game"}},
		Content:   `a<b&c>"quoted"`,
	}
	raw, err := ev.Serialize()
	require.NoError(t, err)

	s := string(raw)
	assert.True(t, strings.HasPrefix(s, `[0,"ab",10,1,`))
	// html characters must not be escaped or ids diverge across
	// implementations
	assert.Contains(t, s, `a<b&c>`)
	assert.NotContains(t, s, `\u003c`)

	// id is stable for identical input
	require.NoError(t, ev.ComputeID())
	first := ev.ID
	require.NoError(t, ev.ComputeID())
	assert.Equal(t, first, ev.ID)
}

func TestEvent_TagValue(t *testing.T) {
	ev := &Event{Tags: [][]string{{"e", "x"}, {"d", "sasso-abc123"}, {"t", "sasso"}}}
	assert.Equal(t, "sasso-abc123", ev.TagValue("d"))
	assert.Equal(t, "sasso", ev.TagValue("t"))
	assert.Equal(t, "", ev.TagValue("p"))
}
