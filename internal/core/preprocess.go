package core

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"gorgonia.org/tensor"
)

var (
	ErrMissingSeparator = errors.New("image data is missing the ',' between header and payload")
	ErrInvalidBase64    = errors.New("image payload is not valid base64")
	ErrUndecodableImage = errors.New("image could not be decoded, supported formats: JPEG, PNG")
	ErrChannelMismatch  = errors.New("image must have exactly 3 color channels")
	ErrImageTooLarge    = errors.New("image dimensions exceed the allowed maximum")
)

// DataURI is an image submission of the form "data:image/jpeg;base64,<payload>".
type DataURI struct {
	Header    string
	MediaType string
	Payload   string
}

func ParseDataURI(s string) (DataURI, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return DataURI{}, ErrMissingSeparator
	}

	mediaType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")

	return DataURI{Header: header, MediaType: mediaType, Payload: payload}, nil
}

// Bytes decodes the payload. Line breaks and missing padding are tolerated.
func (d DataURI) Bytes() ([]byte, error) {
	payload := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, d.Payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
	}
	return data, nil
}

type DecodeOptions struct {
	// MaxPixels bounds width*height before the full decode. Zero disables the check.
	MaxPixels int

	// AutoOrient applies the EXIF orientation tag of JPEG camera photos.
	AutoOrient bool
}

func DecodeImage(data []byte, opts DecodeOptions) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has size %dx%d", ErrUndecodableImage, format, cfg.Width, cfg.Height)
	}

	if channels := colorChannels(cfg.ColorModel); channels != 3 {
		return nil, fmt.Errorf("%w: %s image has %d", ErrChannelMismatch, format, channels)
	}

	if opts.MaxPixels > 0 && cfg.Width*cfg.Height > opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d is more than %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, opts.MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(opts.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}

	// A truecolor PNG with a tRNS chunk reports an RGB model but decodes with alpha.
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return nil, fmt.Errorf("%w: %s image has transparent pixels", ErrChannelMismatch, format)
	}

	return img, nil
}

func colorChannels(model color.Model) int {
	if _, ok := model.(color.Palette); ok {
		return 1
	}

	switch model {
	case color.YCbCrModel, color.RGBAModel, color.RGBA64Model:
		return 3
	case color.NRGBAModel, color.NRGBA64Model, color.CMYKModel, color.NYCbCrAModel:
		return 4
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	}
	return 0
}

// Normalization is the per-network pixel preprocessing policy.
type Normalization int

const (
	// NormalizeCaffe matches the ResNet50 backbone preprocessing: channels
	// reordered to BGR and the ImageNet mean subtracted on the 0-255 scale.
	NormalizeCaffe Normalization = iota

	// NormalizeRescale maps RGB channels to [0,1].
	NormalizeRescale
)

var imagenetMeanBGR = [3]float32{103.939, 116.779, 123.68}

func (n Normalization) String() string {
	switch n {
	case NormalizeCaffe:
		return "caffe"
	case NormalizeRescale:
		return "rescale"
	default:
		return fmt.Sprintf("Normalization(%d)", int(n))
	}
}

// Resize scales img to size x size with bilinear interpolation.
func Resize(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), img, resize.Bilinear)
}

// Normalize converts img to a float32 tensor of shape [1, height, width, 3].
func Normalize(img image.Image, norm Normalization) *tensor.Dense {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]float32, height*width*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r16, g16, b16, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r, g, b := float32(r16>>8), float32(g16>>8), float32(b16>>8)

			i := (y*width + x) * 3
			switch norm {
			case NormalizeCaffe:
				data[i] = b - imagenetMeanBGR[0]
				data[i+1] = g - imagenetMeanBGR[1]
				data[i+2] = r - imagenetMeanBGR[2]
			default:
				data[i] = r / 255
				data[i+1] = g / 255
				data[i+2] = b / 255
			}
		}
	}

	return tensor.New(tensor.WithShape(1, height, width, 3), tensor.WithBacking(data))
}

func ToTensor(img image.Image, size int, norm Normalization) *tensor.Dense {
	return Normalize(Resize(img, size), norm)
}
