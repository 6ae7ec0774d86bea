// Package qr renders room join URLs as QR codes.
package qr

import (
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultSize   = 200
	defaultMargin = 4
	defaultFg     = "#000000"
	defaultBg     = "#ffffff"
)

// Options control rendering. Zero values pick the defaults: 200 px,
// 4-module quiet zone, black on white.
type Options struct {
	// Size is the rendered width/height in pixels.
	Size int
	// Margin is the quiet zone in modules.
	Margin int
	// FgColor / BgColor are CSS colors for SVG output.
	FgColor string
	BgColor string
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = defaultSize
	}
	switch {
	case o.Margin < 0:
		// negative disables the quiet zone
		o.Margin = 0
	case o.Margin == 0:
		o.Margin = defaultMargin
	}
	if o.FgColor == "" {
		o.FgColor = defaultFg
	}
	if o.BgColor == "" {
		o.BgColor = defaultBg
	}
	return o
}

// modules returns the QR module matrix with the requested quiet zone.
func modules(data string, margin int) ([][]bool, error) {
	code, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	bitmap := code.Bitmap()

	// go-qrcode bakes a 4-module border into the bitmap; normalize it
	// to the requested margin.
	const baked = 4
	inner := len(bitmap) - 2*baked
	size := inner + 2*margin
	out := make([][]bool, size)
	for y := range out {
		out[y] = make([]bool, size)
	}
	for y := 0; y < inner; y++ {
		for x := 0; x < inner; x++ {
			out[y+margin][x+margin] = bitmap[y+baked][x+baked]
		}
	}
	return out, nil
}

// SVG renders the data as an SVG QR code.
func SVG(data string, opts Options) (string, error) {
	opts = opts.withDefaults()
	grid, err := modules(data, opts.Margin)
	if err != nil {
		return "", err
	}
	n := len(grid)

	var b strings.Builder
	fmt.Fprintf(&b,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		opts.Size, opts.Size, n, n)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="%s"/>`, opts.BgColor)
	for y := 0; y < n; y++ {
		for x := 0; x < n; {
			if !grid[y][x] {
				x++
				continue
			}
			run := x
			for run < n && grid[y][run] {
				run++
			}
			fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="1" fill="%s"/>`, x, y, run-x, opts.FgColor)
			x = run
		}
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}

// DataURL renders the data as a base64 SVG data URL.
func DataURL(data string, opts Options) (string, error) {
	svg, err := SVG(data, opts)
	if err != nil {
		return "", err
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg)), nil
}

// PNGDataURL renders the data as a base64 PNG data URL.
func PNGDataURL(data string, opts Options) (string, error) {
	opts = opts.withDefaults()
	code, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	png, err := code.PNG(opts.Size)
	if err != nil {
		return "", fmt.Errorf("qr png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
