// Package proctor samples a video stream at a fixed cadence,
// classifies facial state, accumulates violations into a decaying
// trust score and renders the proctoring report.
package proctor

import (
	"context"
	"math"
)

// Point is a pixel coordinate in the frame.
type Point struct {
	X float64
	Y float64
}

// Box is an axis-aligned face bounding box.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Face is one detected face with the landmarks the classifier needs.
type Face struct {
	Box      Box
	LeftEye  Point
	RightEye Point
	NoseTip  Point
}

// Frame is one detection pass over the current video frame.
type Frame struct {
	Width  float64
	Height float64
	Faces  []Face
}

// Detector grabs the current video frame and finds faces in it.
// Detect may take longer than the sampling period; the engine skips
// ticks rather than queueing.
type Detector interface {
	Detect(ctx context.Context) (Frame, error)
}

// noseOffset is the horizontal nose-tip displacement from the eye
// midpoint, normalized by eye distance. Large values mean the head is
// turned.
func noseOffset(f Face) float64 {
	eyeMidX := (f.LeftEye.X + f.RightEye.X) / 2
	eyeDist := math.Abs(f.RightEye.X - f.LeftEye.X)
	if eyeDist == 0 {
		return 0
	}
	return math.Abs(f.NoseTip.X-eyeMidX) / eyeDist
}

func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
