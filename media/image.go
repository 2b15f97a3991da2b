package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	previewMaxWidth  = 1280
	previewMaxHeight = 720
	blurMaxSide      = 16
	blurQuality      = 30
)

// MaxImagePixels bounds the pixel count of any image decoded in full. Headers
// are checked first, so a small file declaring huge dimensions is refused
// before pixel buffers are allocated.
const MaxImagePixels = 50_000_000

var ErrTooManyPixels = errors.New("image exceeds the pixel limit")

func checkPixels(w, h int) error {
	if int64(w)*int64(h) > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d is more than %d megapixels", ErrTooManyPixels, w, h, MaxImagePixels/1_000_000)
	}
	return nil
}

// checkImagePixels applies the pixel limit to encoded image data. Data whose
// header cannot be read is left to the decoder to reject.
func checkImagePixels(data []byte) error {
	w, h, err := imageSize(data)
	if err != nil {
		return nil
	}
	return checkPixels(w, h)
}

// imageSize reads dimensions from the header without decoding pixels.
func imageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func decodeImage(data []byte) (image.Image, error) {
	if err := checkImagePixels(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// recompress re-encodes JPEG and PNG originals in their own format and returns
// the smaller of the two encodings. Other formats pass through unchanged.
func recompress(data []byte, mimeType string, quality int) ([]byte, error) {
	if err := checkImagePixels(data); err != nil {
		return data, err
	}
	var buf bytes.Buffer
	switch normalizeMIME(mimeType) {
	case "image/jpeg":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return data, fmt.Errorf("decode jpeg: %w", err)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return data, fmt.Errorf("encode jpeg: %w", err)
		}
	case "image/png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return data, fmt.Errorf("decode png: %w", err)
		}
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return data, fmt.Errorf("encode png: %w", err)
		}
	default:
		return data, nil
	}
	if buf.Len() >= len(data) {
		return data, nil
	}
	return buf.Bytes(), nil
}

// fitWithin scales (w, h) down to fit the box, preserving aspect ratio. It never
// upscales and never returns a zero side.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	ratio := float64(w) / float64(h)
	nw := maxW
	nh := int(float64(nw) / ratio)
	if nh > maxH {
		nh = maxH
		nw = int(float64(nh) * ratio)
	}
	return max(nw, 1), max(nh, 1)
}

// scaleOnto flattens img onto white (JPEG has no alpha) at the given size.
func scaleOnto(img image.Image, w, h int, scaler draw.Scaler) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// previewJPEG bounds img to 1280x720 and encodes it at quality.
func previewJPEG(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), previewMaxWidth, previewMaxHeight)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleOnto(img, w, h, draw.CatmullRom), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// blurPlaceholder renders a tiny, heavily compressed thumbnail and its data URL.
func blurPlaceholder(img image.Image) ([]byte, string, error) {
	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), blurMaxSide, blurMaxSide)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleOnto(img, w, h, draw.BiLinear), &jpeg.Options{Quality: blurQuality}); err != nil {
		return nil, "", fmt.Errorf("encode blur placeholder: %w", err)
	}
	return buf.Bytes(), "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
