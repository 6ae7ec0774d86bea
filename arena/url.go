package arena

import (
	"context"

	"github.com/kako-jun/nostr-arena/qr"
)

// GetRoomURL returns the shareable join URL: {base_url}?room={room_id}
// when a base url is configured, the bare room id otherwise.
func (a *Arena) GetRoomURL(ctx context.Context) (string, error) {
	var url string
	err := a.do(ctx, func() error {
		if a.sess.room == nil {
			return ErrInvalidState
		}
		if a.cfg.BaseURL != "" {
			url = a.cfg.BaseURL + "?room=" + a.sess.room.RoomID
		} else {
			url = a.sess.room.RoomID
		}
		return nil
	})
	return url, err
}

// GetRoomQRSVG renders the room URL as an SVG QR code.
func (a *Arena) GetRoomQRSVG(ctx context.Context, opts qr.Options) (string, error) {
	url, err := a.GetRoomURL(ctx)
	if err != nil {
		return "", err
	}
	return qr.SVG(url, opts)
}

// GetRoomQRDataURL renders the room URL as a base64 data URL.
func (a *Arena) GetRoomQRDataURL(ctx context.Context, opts qr.Options) (string, error) {
	url, err := a.GetRoomURL(ctx)
	if err != nil {
		return "", err
	}
	return qr.DataURL(url, opts)
}
