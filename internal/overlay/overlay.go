// Package overlay draws the status panel and region boxes onto preview frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/internal/status"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// RecentLimit is how many recent detections the panel lists.
const RecentLimit = 5

const (
	marginX    = 20
	lineHeight = 20
	padding    = 3
	boxWidth   = 2
)

var (
	white      = color.RGBA{255, 255, 255, 255}
	panelGray  = color.RGBA{50, 50, 50, 255}
	titleBlue  = color.RGBA{200, 100, 0, 255}
	debugBg    = color.RGBA{100, 0, 100, 255}
	debugFg    = color.RGBA{255, 255, 0, 255}
	alertFg    = color.RGBA{255, 165, 0, 255}
	alertBg    = color.RGBA{100, 50, 0, 255}
	normalFg   = color.RGBA{0, 255, 0, 255}
	normalBg   = color.RGBA{0, 100, 0, 255}
	headerBg   = color.RGBA{0, 100, 100, 255}
	historyBg  = color.RGBA{30, 30, 30, 255}
	unknownFg  = color.RGBA{200, 200, 200, 255}
	OrangeEdge = color.RGBA{255, 140, 0, 255}
	GreenEdge  = color.RGBA{0, 220, 0, 255}
)

// Info is everything the panel shows.
type Info struct {
	Now           time.Time
	Scale         detection.TimeScale
	Status        detection.Status
	Recent        []status.Cycle // newest first
	NextDetection time.Time
	Orange        types.Rect
	Green         types.Rect
}

// Render returns an annotated copy of frame. frame itself is left untouched.
func Render(frame *image.RGBA, info Info) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(out, image.Point{}, frame, b, draw.Src, nil)

	box(out, info.Orange, OrangeEdge)
	box(out, info.Green, GreenEdge)

	p := &panel{dst: out, y: 25}
	p.line(marginX, "LAMP DETECTION SYSTEM", white, titleBlue)
	p.gap(5)
	p.line(marginX, "TIME: "+info.Now.Format("2006-01-02 15:04:05"), white, panelGray)
	if info.Scale.Debug {
		p.line(marginX, "[DEBUG MODE]", debugFg, debugBg)
	} else {
		p.line(marginX, "[NORMAL MODE]", white, panelGray)
	}
	p.gap(5)

	st := info.Status
	if st.Active {
		p.line(marginX, "[ORANGE DETECTED]", alertFg, alertBg)
		p.line(marginX, "Duration: "+info.Scale.Format(st.Elapsed), white, panelGray)
		p.line(marginX, alertText(st, info.Scale), white, panelGray)
	} else {
		p.line(marginX, "[GREEN/NONE DETECTED]", normalFg, normalBg)
		p.line(marginX, "Duration: --", white, panelGray)
		p.line(marginX, "Alert: --", white, panelGray)
	}
	if !info.NextDetection.IsZero() {
		p.line(marginX, "Next check: "+countdown(info.NextDetection.Sub(info.Now)), white, panelGray)
	}
	p.gap(5)

	if len(info.Recent) > 0 {
		p.line(marginX, "RECENT DETECTIONS:", white, headerBg)
		recent := info.Recent
		if len(recent) > RecentLimit {
			recent = recent[:RecentLimit]
		}
		for _, c := range recent {
			fg := unknownFg
			switch c.Verdict {
			case types.VerdictOrange:
				fg = alertFg
			case types.VerdictGreen:
				fg = normalFg
			}
			p.line(marginX+10, RecentLine(c), fg, historyBg)
		}
	}
	return out
}

// RecentLine is the short history entry, e.g. "08:00:01 ORANGE 85%".
func RecentLine(c status.Cycle) string {
	if c.Error != "" {
		return c.Time.Format("15:04:05") + " ERROR"
	}
	return fmt.Sprintf("%s %s %.0f%%", c.Time.Format("15:04:05"), strings.ToUpper(string(c.Verdict)), c.Confidence)
}

func alertText(st detection.Status, scale detection.TimeScale) string {
	switch {
	case st.Remaining > 0:
		return "Alert in: " + scale.Format(st.Remaining)
	case st.Notified:
		return "ALERT SENT"
	default:
		return "ALERT READY"
	}
}

func countdown(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	return fmt.Sprintf("%ds", int((d+time.Second-1)/time.Second))
}

type panel struct {
	dst *image.RGBA
	y   int
}

func (p *panel) gap(n int) { p.y += n }

// line draws text with its baseline at the current row, on a filled background.
func (p *panel) line(x int, text string, fg, bg color.Color) {
	Label(p.dst, x, p.y, text, fg, bg)
	p.y += lineHeight
}

// Label draws text at baseline (x, y) over a filled rectangle.
func Label(dst draw.Image, x, y int, text string, fg, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	metrics := face.Metrics()
	bgRect := image.Rect(
		x-padding,
		y-metrics.Ascent.Ceil()-padding,
		x+width+padding,
		y+metrics.Descent.Ceil()+padding,
	)
	draw.Draw(dst, bgRect, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(x * 64),
			Y: fixed.Int26_6(y * 64),
		},
	}
	d.DrawString(text)
}

// box outlines r with a two pixel edge.
func box(dst *image.RGBA, r types.Rect, c color.Color) {
	if !r.Valid() {
		return
	}
	rect := r.Image().Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+boxWidth),
		image.Rect(rect.Min.X, rect.Max.Y-boxWidth, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+boxWidth, rect.Max.Y),
		image.Rect(rect.Max.X-boxWidth, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(rect), src, image.Point{}, draw.Src)
	}
}
