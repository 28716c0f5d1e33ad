package main

import (
	"image"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/loaders"
)

func saveImage(path string, im *core.Image) error {
	return loaders.SaveImage(path, im)
}

func saveRGBA(path string, im *image.RGBA) error {
	return imgio.Save(path, im, imgio.PNGEncoder())
}
