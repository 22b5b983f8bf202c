package traybridge

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Icon is the canonical form of a tray icon image: non-premultiplied RGBA
// pixels, row by row.
//
// Icon is sent over the wire as
//
//	{"rgba": "<base64>", "width": <width>, "height": <height>}
type Icon struct {
	RGBA   []byte `json:"rgba"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

// IconSource is a value from which a tray icon can be built: [IconPath],
// [IconBytes], [IconPixmap], or an already decoded [*Icon].
type IconSource interface {
	icon() (*Icon, error)
}

// IconPath is a path to an encoded image file (PNG, JPEG, or GIF).
type IconPath string

func (p IconPath) icon() (*Icon, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return nil, fmt.Errorf("icon %s: %w", p, err)
	}

	icon, err := NewIconFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("icon %s: %w", p, err)
	}

	return icon, nil
}

// IconBytes is an encoded image (PNG, JPEG, or GIF).
type IconBytes []byte

func (b IconBytes) icon() (*Icon, error) {
	return NewIconFromBytes(b)
}

func (i *Icon) icon() (*Icon, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}

	return i, nil
}

// NewIconFromBytes decodes an encoded image into an [Icon].
func NewIconFromBytes(data []byte) (*Icon, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode icon: %v", ErrInvalidArgument, err)
	}

	return NewIconFromImage(img), nil
}

// NewIconFromImage converts img into an [Icon].
func NewIconFromImage(img image.Image) *Icon {
	bounds := img.Bounds()

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != 4*bounds.Dx() || bounds.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &Icon{
		RGBA:   nrgba.Pix,
		Width:  int32(bounds.Dx()),
		Height: int32(bounds.Dy()),
	}
}

// Validate reports whether the pixel buffer matches the dimensions.
func (i *Icon) Validate() error {
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("%w: icon dimensions %dx%d", ErrInvalidArgument, i.Width, i.Height)
	}

	if want := int(i.Width) * int(i.Height) * 4; len(i.RGBA) != want {
		return fmt.Errorf("%w: icon has %d bytes, expected %d", ErrInvalidArgument, len(i.RGBA), want)
	}

	return nil
}

// normalizeIcon returns the canonical form of src. A nil source yields nil.
func normalizeIcon(src IconSource) (*Icon, error) {
	if src == nil {
		return nil, nil
	}

	// A typed nil *Icon stored in the interface clears the icon as well.
	if i, ok := src.(*Icon); ok && i == nil {
		return nil, nil
	}

	return src.icon()
}

// IconPixmap is an icon in the StatusNotifierItem pixmap format: ARGB32
// pixels in network byte order.
type IconPixmap struct {
	Width  int32
	Height int32
	ARGB   []byte
}

func (p IconPixmap) icon() (*Icon, error) {
	rgba := make([]byte, len(p.ARGB))
	for i := 0; i+3 < len(p.ARGB); i += 4 {
		rgba[i], rgba[i+1], rgba[i+2], rgba[i+3] = p.ARGB[i+1], p.ARGB[i+2], p.ARGB[i+3], p.ARGB[i]
	}

	icon := &Icon{
		RGBA:   rgba,
		Width:  p.Width,
		Height: p.Height,
	}

	if err := icon.Validate(); err != nil {
		return nil, err
	}

	return icon, nil
}

// NewIconFromDBusPixmap returns a new [Icon] from a StatusNotifierItem
// pixmap as decoded by godbus.
//
// Format of pixmap is as follows
//
//	[<width>, <height>, <bytes>]
//
// Where:
//   - <width>: width of the icon (int32)
//   - <height>: height of the icon (int32)
//   - <bytes>: ARGB32 pixels in network byte order ([]byte)
func NewIconFromDBusPixmap(pixmap any) (*Icon, error) {
	data, ok := pixmap.([]any)
	if !ok || len(data) != 3 {
		return nil, fmt.Errorf("%w: invalid pixmap format: expected a slice of 3 elements", ErrInvalidArgument)
	}

	width, ok := data[0].(int32)
	if !ok {
		return nil, fmt.Errorf("%w: invalid width type: expected int32", ErrInvalidArgument)
	}

	height, ok := data[1].(int32)
	if !ok {
		return nil, fmt.Errorf("%w: invalid height type: expected int32", ErrInvalidArgument)
	}

	argb, ok := data[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: invalid bytes format: expected []byte", ErrInvalidArgument)
	}

	return IconPixmap{Width: width, Height: height, ARGB: argb}.icon()
}
