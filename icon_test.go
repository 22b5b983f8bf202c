package traybridge

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0xff, A: 0xff})
	img.SetNRGBA(1, 0, color.NRGBA{G: 0xff, A: 0x80})
	img.SetNRGBA(0, 1, color.NRGBA{B: 0xff, A: 0x40})
	img.SetNRGBA(1, 1, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0x00})

	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func TestIconSources_NormalizeEqually(t *testing.T) {
	img := testImage()
	data := encodePNG(t, img)

	path := filepath.Join(t.TempDir(), "icon.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	want := &Icon{
		RGBA: []byte{
			0xff, 0x00, 0x00, 0xff, 0x00, 0xff, 0x00, 0x80,
			0x00, 0x00, 0xff, 0x40, 0x10, 0x20, 0x30, 0x00,
		},
		Width:  2,
		Height: 2,
	}

	sources := map[string]IconSource{
		"path":  IconPath(path),
		"bytes": IconBytes(data),
		"icon":  NewIconFromImage(img),
		"pixmap": IconPixmap{
			Width:  2,
			Height: 2,
			ARGB: []byte{
				0xff, 0xff, 0x00, 0x00, 0x80, 0x00, 0xff, 0x00,
				0x40, 0x00, 0x00, 0xff, 0x00, 0x10, 0x20, 0x30,
			},
		},
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			icon, err := normalizeIcon(src)
			require.NoError(t, err)
			assert.Equal(t, want, icon)
		})
	}
}

func TestNormalizeIcon_Nil(t *testing.T) {
	icon, err := normalizeIcon(nil)
	require.NoError(t, err)
	assert.Nil(t, icon)

	var typed *Icon
	icon, err = normalizeIcon(typed)
	require.NoError(t, err)
	assert.Nil(t, icon)
}

func TestNormalizeIcon_Invalid(t *testing.T) {
	_, err := normalizeIcon(IconBytes("definitely not an image"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = normalizeIcon(IconPath(filepath.Join(t.TempDir(), "missing.png")))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = normalizeIcon(&Icon{RGBA: make([]byte, 3), Width: 1, Height: 1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewIconFromImage_SubImage(t *testing.T) {
	img := testImage().SubImage(image.Rect(0, 0, 1, 1))

	icon := NewIconFromImage(img)
	assert.Equal(t, &Icon{RGBA: []byte{0xff, 0x00, 0x00, 0xff}, Width: 1, Height: 1}, icon)
}

func TestIcon_Validate(t *testing.T) {
	tests := []struct {
		name  string
		icon  Icon
		valid bool
	}{
		{"ok", Icon{RGBA: make([]byte, 16), Width: 2, Height: 2}, true},
		{"zero width", Icon{RGBA: nil, Width: 0, Height: 2}, false},
		{"negative height", Icon{RGBA: nil, Width: 2, Height: -1}, false},
		{"short buffer", Icon{RGBA: make([]byte, 15), Width: 2, Height: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.icon.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			}
		})
	}
}

func TestIcon_MarshalJSON(t *testing.T) {
	icon := Icon{RGBA: []byte{1, 2, 3, 4}, Width: 1, Height: 1}

	data, err := json.Marshal(icon)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rgba":"AQIDBA==","width":1,"height":1}`, string(data))
}

func TestNewIconFromDBusPixmap(t *testing.T) {
	tests := []struct {
		name    string
		pixmap  any
		want    *Icon
		wantErr bool
	}{
		{
			name:   "valid",
			pixmap: []any{int32(1), int32(2), []byte{0xff, 0x01, 0x02, 0x03, 0x80, 0x04, 0x05, 0x06}},
			want: &Icon{
				RGBA:   []byte{0x01, 0x02, 0x03, 0xff, 0x04, 0x05, 0x06, 0x80},
				Width:  1,
				Height: 2,
			},
		},
		{
			name:    "not a slice",
			pixmap:  "pixmap",
			wantErr: true,
		},
		{
			name:    "wrong width type",
			pixmap:  []any{1, int32(1), []byte{0, 0, 0, 0}},
			wantErr: true,
		},
		{
			name:    "wrong height type",
			pixmap:  []any{int32(1), "1", []byte{0, 0, 0, 0}},
			wantErr: true,
		},
		{
			name:    "wrong bytes type",
			pixmap:  []any{int32(1), int32(1), "abcd"},
			wantErr: true,
		},
		{
			name:    "size mismatch",
			pixmap:  []any{int32(2), int32(2), []byte{0, 0, 0, 0}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			icon, err := NewIconFromDBusPixmap(tt.pixmap)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, icon)
		})
	}
}
