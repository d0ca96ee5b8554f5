package capture

import (
	"image"
	"image/color"

	"github.com/ayusman/kai/internal/detector"
	"gocv.io/x/gocv"
)

// Overlay colors and sizes for the hand skeleton.
var (
	connectionColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	landmarkColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

const (
	connectionThickness = 2
	landmarkRadius      = 4
)

// DrawHand paints the skeleton of hand onto frame. Landmark coordinates are
// expected in detector-normalized [0,1] image space.
func DrawHand(frame *gocv.Mat, hand detector.HandLandmarks) {
	if frame == nil || frame.Empty() {
		return
	}

	w, h := frame.Cols(), frame.Rows()
	toPixel := func(p detector.Point3D) image.Point {
		return image.Pt(int(p.X*float64(w)), int(p.Y*float64(h)))
	}

	for _, c := range detector.HandConnections {
		gocv.Line(frame, toPixel(hand.Points[c[0]]), toPixel(hand.Points[c[1]]), connectionColor, connectionThickness)
	}
	for _, p := range hand.Points {
		gocv.Circle(frame, toPixel(p), landmarkRadius, landmarkColor, -1)
	}
}
