package operations

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"image-store/internal/domain"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
	PositionCenter      = "center"
)

const watermarkMargin = 10

type Watermarker struct {
	font *truetype.Font
}

func NewWatermarker() (*Watermarker, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Watermarker{font: f}, nil
}

// Apply draws a text label over a copy of img.
func (w *Watermarker) Apply(img image.Image, cmd domain.JobCommand) (image.Image, error) {
	text := stringParam(cmd, domain.ParamText, domain.DefaultWatermarkText)
	opacity := floatParam(cmd, domain.ParamOpacity, domain.DefaultWatermarkOpacity)
	if opacity <= 0 || opacity > 1 {
		opacity = domain.DefaultWatermarkOpacity
	}
	size := floatParam(cmd, domain.ParamFontSize, domain.DefaultWatermarkSize)
	if size <= 0 {
		size = domain.DefaultWatermarkSize
	}
	col, err := parseColor(stringParam(cmd, domain.ParamColor, "255,255,255"), opacity)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	face := truetype.NewFace(w.font, &truetype.Options{Size: size, DPI: 72})
	defer face.Close()
	textW := font.MeasureString(face, text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()

	x, y := place(stringParam(cmd, domain.ParamPosition, PositionBottomRight), bounds, textW, ascent)

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(w.font)
	c.SetFontSize(size)
	c.SetClip(bounds)
	c.SetDst(out)
	c.SetSrc(image.NewUniform(col))
	c.SetHinting(font.HintingFull)

	if _, err := c.DrawString(text, freetype.Pt(x, y)); err != nil {
		return nil, fmt.Errorf("failed to draw watermark: %w", err)
	}
	return out, nil
}

// place returns the text baseline origin.
func place(position string, b image.Rectangle, textW, ascent int) (int, int) {
	left := b.Min.X + watermarkMargin
	right := b.Max.X - textW - watermarkMargin
	top := b.Min.Y + watermarkMargin + ascent
	bottom := b.Max.Y - watermarkMargin

	switch position {
	case PositionTopLeft:
		return left, top
	case PositionTopRight:
		return right, top
	case PositionBottomLeft:
		return left, bottom
	case PositionCenter:
		return b.Min.X + (b.Dx()-textW)/2, b.Min.Y + (b.Dy()+ascent)/2
	default:
		return right, bottom
	}
}

// parseColor reads "r,g,b"; alpha comes from opacity.
func parseColor(s string, opacity float64) (color.NRGBA, error) {
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), ",")
	if len(parts) != 3 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}

	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
		}
		rgb[i] = uint8(v)
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: uint8(255 * opacity)}, nil
}
