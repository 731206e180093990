// Package imaging decodes uploaded pictures and produces square derivatives.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	// registered decoders
	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// Image is a decoded upload together with the format it was sent in.
type Image struct {
	Img    image.Image
	Format string
}

func Decode(data []byte) (*Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{Img: img, Format: format}, nil
}

// SquareSide returns the side of the square box for a width x height target:
// the larger of the two.
func SquareSide(width, height int) int {
	if height > width {
		return height
	}
	return width
}

// Square center-crops src to a square and scales it to side x side.
func Square(src image.Image, side int) image.Image {
	b := src.Bounds()
	crop := b
	if b.Dx() > b.Dy() {
		off := (b.Dx() - b.Dy()) / 2
		crop = image.Rect(b.Min.X+off, b.Min.Y, b.Min.X+off+b.Dy(), b.Max.Y)
	} else if b.Dy() > b.Dx() {
		off := (b.Dy() - b.Dx()) / 2
		crop = image.Rect(b.Min.X, b.Min.Y+off, b.Max.X, b.Min.Y+off+b.Dx())
	}
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)
	return dst
}

// Encode writes img as JPEG when the upload was a JPEG and as PNG otherwise.
// It returns the bytes, the file extension and the content type.
func Encode(img image.Image, format string) ([]byte, string, string, error) {
	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), ".jpg", "image/jpeg", nil
	}
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", "", err
	}
	return buf.Bytes(), ".png", "image/png", nil
}

// Ext maps a decoded format to the extension and content type of the
// untouched original.
func Ext(format string) (string, string) {
	switch format {
	case "jpeg":
		return ".jpg", "image/jpeg"
	case "gif":
		return ".gif", "image/gif"
	case "webp":
		return ".webp", "image/webp"
	default:
		return ".png", "image/png"
	}
}
