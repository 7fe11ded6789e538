// proof-of-human/gate/image.go
package gate

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	promptScale   = 4
	promptPadding = 12
	promptBlur    = 0.6
)

// RenderPrompt draws the challenge prompt as a PNG so the instruction cannot
// be scraped from message text. The base bitmap is rendered small, upscaled,
// and lightly blurred to resist trivial OCR.
func RenderPrompt(text string) ([]byte, error) {
	face := basicfont.Face7x13
	lines := strings.Split(text, "\n")

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}
	lineHeight := face.Metrics().Height.Ceil() + 2
	height := lineHeight * len(lines)

	base := image.NewRGBA(image.Rect(0, 0, width+2*promptPadding, height+2*promptPadding))
	bg := color.RGBA{R: 245, G: 245, B: 240, A: 255}
	for i := range base.Pix {
		switch i % 4 {
		case 0:
			base.Pix[i] = bg.R
		case 1:
			base.Pix[i] = bg.G
		case 2:
			base.Pix[i] = bg.B
		default:
			base.Pix[i] = bg.A
		}
	}

	drawer := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(color.RGBA{R: 30, G: 30, B: 40, A: 255}),
		Face: face,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(promptPadding, promptPadding+face.Metrics().Ascent.Ceil()+i*lineHeight)
		drawer.DrawString(line)
	}

	scaled := imaging.Resize(base, base.Bounds().Dx()*promptScale, 0, imaging.Lanczos)
	softened := imaging.Blur(scaled, promptBlur)

	var buf bytes.Buffer
	if err := png.Encode(&buf, softened); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
