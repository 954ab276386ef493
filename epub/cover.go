package epub

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"

	"inkwell/archive"
	"inkwell/config"
)

// maxRasterDim is the maximum pixel dimension (width or height) allowed when
// rasterizing an SVG cover. Prevents OOM from malicious SVGs with enormous
// viewBox values.
const maxRasterDim = 4096

const defaultSVGSize = 1024

// CoverThumbnail extracts the book cover declared by the package and
// re-encodes it as a JPEG thumbnail for the library listing. Books without
// a usable cover return nil data without error.
func CoverThumbnail(c *archive.Container, pkg *Package, cfg config.ThumbnailConfig, log *zap.Logger) ([]byte, error) {
	item, ok := pkg.CoverItem()
	if !ok {
		return nil, nil
	}

	data, err := c.ReadFile(item.Path)
	if err != nil {
		// cover might be referenced by a broken path like everything else
		p, found := c.FindByName(item.Path)
		if !found {
			log.Debug("Declared cover not present in archive", zap.String("path", item.Path))
			return nil, nil
		}
		if data, err = c.ReadFile(p); err != nil {
			return nil, err
		}
	}

	var img image.Image
	if isSVG(item.MediaType, data) {
		img, err = rasterizeSVG(data, cfg.Width, cfg.Height)
		if err != nil {
			return nil, fmt.Errorf("unable to rasterize SVG cover: %w", err)
		}
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("unable to decode cover image: %w", err)
		}
	}

	switch cfg.Resize {
	case config.ImageResizeModeKeepAR:
		img = imaging.Fit(img, cfg.Width, cfg.Height, imaging.Lanczos)
	case config.ImageResizeModeStretch:
		img = imaging.Resize(img, cfg.Width, cfg.Height, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("unable to encode thumbnail: %w", err)
	}
	log.Debug("Generated cover thumbnail", zap.String("cover", item.Path), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func isSVG(mediaType string, data []byte) bool {
	if strings.Contains(strings.ToLower(mediaType), "svg") {
		return true
	}
	if t, err := filetype.Match(data); err == nil && t.Extension == "svg" {
		return true
	}
	// filetype does not sniff text formats reliably, check the obvious
	head := bytes.TrimSpace(data)
	return bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head[:min(len(head), 512)], []byte("<svg")) ||
		bytes.HasPrefix(head, []byte("<svg"))
}

// rasterizeSVG renders SVG data into an RGBA image fitting the target box
// while keeping aspect ratio. White background, consistent with paper.
func rasterizeSVG(svgData []byte, targetW, targetH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, err
	}

	intrW := int(math.Ceil(icon.ViewBox.W))
	intrH := int(math.Ceil(icon.ViewBox.H))
	if intrW <= 0 {
		intrW = defaultSVGSize
	}
	if intrH <= 0 {
		intrH = defaultSVGSize
	}

	w, h := intrW, intrH
	if targetW > 0 && targetH > 0 {
		scale := math.Min(float64(targetW)/float64(intrW), float64(targetH)/float64(intrH))
		w = max(int(math.Round(float64(intrW)*scale)), 1)
		h = max(int(math.Round(float64(intrH)*scale)), 1)
	}
	if w > maxRasterDim || h > maxRasterDim {
		s := min(float64(maxRasterDim)/float64(w), float64(maxRasterDim)/float64(h))
		w = max(int(math.Round(float64(w)*s)), 1)
		h = max(int(math.Round(float64(h)*s)), 1)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return dst, nil
}
