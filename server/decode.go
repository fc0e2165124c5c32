package server

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"
)

func decodeImage(r io.Reader) (image.Image, string, error) {
	return image.Decode(r)
}
