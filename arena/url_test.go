package arena

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kako-jun/nostr-arena/qr"
)

func TestGetRoomURL(t *testing.T) {
	t.Run("no room", func(t *testing.T) {
		rig := newTestArena(t, NewConfig(testGame), hostPK)
		_, err := rig.a.GetRoomURL(rig.ctx())
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("bare room id", func(t *testing.T) {
		rig := newTestArena(t, NewConfig(testGame), hostPK)
		roomID, _ := rig.a.Create(rig.ctx())
		url, err := rig.a.GetRoomURL(rig.ctx())
		require.NoError(t, err)
		assert.Equal(t, roomID, url)
	})

	t.Run("with base url", func(t *testing.T) {
		cfg := NewConfig(testGame)
		cfg.BaseURL = "https://play.example.com/sasso"
		rig := newTestArena(t, cfg, hostPK)
		roomID, _ := rig.a.Create(rig.ctx())
		url, err := rig.a.GetRoomURL(rig.ctx())
		require.NoError(t, err)
		assert.Equal(t, "https://play.example.com/sasso?room="+roomID, url)
	})
}

func TestGetRoomQR(t *testing.T) {
	cfg := NewConfig(testGame)
	cfg.BaseURL = "https://play.example.com/sasso"
	rig := newTestArena(t, cfg, hostPK)
	rig.a.Create(rig.ctx())

	svg, err := rig.a.GetRoomQRSVG(rig.ctx(), qr.Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(svg, "<svg"))
	assert.Contains(t, svg, "</svg>")

	dataURL, err := rig.a.GetRoomQRDataURL(rig.ctx(), qr.Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/svg+xml;base64,"))
}
