package nixie

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	previewCell  = 10 // width of one tube, in font pixels
	previewScale = 8  // size of one font pixel in the rendered image
	previewWidth = NumTubes*previewCell + 4
	previewRows  = 16
)

var (
	glowColor = color.NRGBA{R: 0xff, G: 0x8c, B: 0x1a, A: 0xff}
	dotColor  = color.NRGBA{R: 0xff, G: 0x40, B: 0x10, A: 0xff}
)

// glow returns c with its alpha scaled to the tube brightness.
func glow(c color.NRGBA, brightness int) color.NRGBA {
	a := 0x40 + (0xff-0x40)*brightness/100
	if a > 0xff {
		a = 0xff
	}
	c.A = uint8(a)
	return c
}

// cellX returns the left edge of tube i; the indicator takes the gap between tubes 1 and 2.
func cellX(i int) int {
	x := i * previewCell
	if i >= 2 {
		x += 4
	}
	return x
}

// render draws the tubes the way they look from across the room.
func render(f Frame, i Indicator, brightness int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, previewWidth, previewRows))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(glow(glowColor, brightness)),
		Face: basicfont.Face7x13,
	}
	for n, g := range f {
		if g.IsBlank() {
			continue
		}
		drawer.Dot = fixed.P(cellX(n)+2, 13)
		drawer.DrawString(string(rune('0' + g.Digit)))
		if g.Blended {
			// The second digit is lit for the rest of the slot; draw it over the first, dimmer.
			drawer.Src = image.NewUniform(glow(glowColor, brightness*(100-g.Mix)/100))
			drawer.Dot = fixed.P(cellX(n)+2, 13)
			drawer.DrawString(string(rune('0' + g.Second)))
			drawer.Src = image.NewUniform(glow(glowColor, brightness))
		}
	}

	dotY := 4
	if i == IndicatorBottom {
		dotY = 10
	}
	dot := image.Rect(2*previewCell+1, dotY, 2*previewCell+3, dotY+2)
	draw.Draw(img, dot, image.NewUniform(dotColor), image.Point{}, draw.Over)
	return img
}

// enlarge scales src up so each pixel becomes a block, leaving a gap like the mesh of the tubes.
func enlarge(src *image.NRGBA) *image.NRGBA {
	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx()*previewScale, b.Dy()*previewScale))
	for x := 0; x < b.Dx(); x++ {
		for y := 0; y < b.Dy(); y++ {
			c := src.NRGBAAt(x, y)
			for i := 0; i < previewScale-1; i++ {
				for j := 0; j < previewScale-1; j++ {
					img.SetNRGBA(x*previewScale+i, y*previewScale+j, c)
				}
			}
		}
	}
	return img
}

// ServeHTTP serves what the tubes currently show as a PNG.
func (d *Display) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	img := enlarge(render(d.Frame(), d.Indicator(), d.Brightness()))
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		log.Printf("encoding image: %v", err)
	}
}
