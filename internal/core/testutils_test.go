package core

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type stubModel struct {
	outputs [][]float32
	err     error

	// predict, when set, computes the outputs from the input tensor.
	predict func(input *tensor.Dense) [][]float32

	calls  int
	inputs []*tensor.Dense
}

func (m *stubModel) Predict(input *tensor.Dense) ([][]float32, error) {
	m.calls++
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	if m.predict != nil {
		return m.predict(input), nil
	}
	return m.outputs, nil
}

func (m *stubModel) Release() {}

func solidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func dataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// withTRNS inserts a truecolor tRNS chunk after the IHDR chunk of an RGB PNG,
// marking the color (r, g, b) as fully transparent.
func withTRNS(t *testing.T, data []byte, r, g, b uint16) []byte {
	t.Helper()

	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	require.Greater(t, len(data), ihdrEnd)
	require.Equal(t, "IHDR", string(data[12:16]))

	body := make([]byte, 4+6)
	copy(body, "tRNS")
	binary.BigEndian.PutUint16(body[4:], r)
	binary.BigEndian.PutUint16(body[6:], g)
	binary.BigEndian.PutUint16(body[8:], b)

	chunk := make([]byte, 0, 4+len(body)+4)
	chunk = binary.BigEndian.AppendUint32(chunk, 6)
	chunk = append(chunk, body...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(body))

	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}
