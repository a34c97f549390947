package receipt

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

type fileKind int

const (
	kindOther fileKind = iota
	kindImage
	kindPDF
)

var pdfMagic = []byte("%PDF-")

func sniff(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return head[:n]
}

// classify decides how an attachment is embedded, by extension first and by
// content for extensionless files.
func classify(path string) fileKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return kindPDF
	case imageExtensions[ext]:
		return kindImage
	case ext != "":
		return kindOther
	}

	head := sniff(path)
	if bytes.HasPrefix(head, pdfMagic) {
		return kindPDF
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(head)); err == nil {
		return kindImage
	}
	return kindOther
}

// flatten draws img onto an opaque white canvas, jpeg has no alpha channel.
func flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Over)
	return out
}

func downscale(img *image.RGBA, maxWidth int) *image.RGBA {
	width := img.Bounds().Dx()
	if maxWidth <= 0 || width <= maxWidth {
		return img
	}
	height := max(1, img.Bounds().Dy()*maxWidth/width)
	out := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// compressImage re-encodes the image at src as a jpeg at dst no wider than
// maxWidth and returns the size of the result.
func compressImage(src, dst string, maxWidth, quality int) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	err = jpeg.Encode(out, downscale(flatten(img), maxWidth), &jpeg.Options{Quality: quality})
	closeErr := out.Close()
	if err != nil {
		return 0, err
	}
	if closeErr != nil {
		return 0, closeErr
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
