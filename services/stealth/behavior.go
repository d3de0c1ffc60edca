package stealth

import (
	"math/rand/v2"
	"time"
)

// Point is a screen coordinate used by synthetic input events.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MousePath is one synthetic mouse movement: a Bezier-interpolated series of
// points replayed with small per-step delays.
type MousePath struct {
	Points   []Point       `json:"points"`
	StepWait time.Duration `json:"stepWait"`
}

// ScrollEvent is one synthetic wheel scroll.
type ScrollEvent struct {
	DeltaY int `json:"deltaY"`
}

// BehaviorPlan is the per-session human-behavior script executed before the
// play button click: a few mouse movements, optional scrolls, one Tab key
// press, and a hover dwell ahead of the click.
type BehaviorPlan struct {
	MousePaths []MousePath   `json:"mousePaths"`
	Scrolls    []ScrollEvent `json:"scrolls"`
	PressTab   bool          `json:"pressTab"`
	HoverDwell time.Duration `json:"hoverDwell"`
}

// NewBehaviorPlan builds a randomized plan bounded to the viewport:
// 2-5 mouse paths, 0-2 scrolls, one Tab press, and a 100-300ms hover.
func NewBehaviorPlan(vp Viewport) BehaviorPlan {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	nPaths := 2 + rng.IntN(4)
	paths := make([]MousePath, 0, nPaths)
	cur := Point{X: float64(rng.IntN(vp.Width)), Y: float64(rng.IntN(vp.Height))}
	for i := 0; i < nPaths; i++ {
		dst := Point{X: float64(rng.IntN(vp.Width)), Y: float64(rng.IntN(vp.Height))}
		paths = append(paths, MousePath{
			Points:   bezierPath(rng, cur, dst, 12+rng.IntN(12)),
			StepWait: time.Duration(4+rng.IntN(12)) * time.Millisecond,
		})
		cur = dst
	}

	nScrolls := rng.IntN(3)
	scrolls := make([]ScrollEvent, 0, nScrolls)
	for i := 0; i < nScrolls; i++ {
		scrolls = append(scrolls, ScrollEvent{DeltaY: 60 + rng.IntN(240)})
	}

	return BehaviorPlan{
		MousePaths: paths,
		Scrolls:    scrolls,
		PressTab:   true,
		HoverDwell: time.Duration(100+rng.IntN(201)) * time.Millisecond,
	}
}

// bezierPath interpolates a cubic Bezier curve from start to end with two
// randomized control points, yielding steps+1 samples.
func bezierPath(rng *rand.Rand, start, end Point, steps int) []Point {
	c1 := Point{
		X: start.X + (end.X-start.X)*0.3 + float64(rng.IntN(81)-40),
		Y: start.Y + (end.Y-start.Y)*0.3 + float64(rng.IntN(81)-40),
	}
	c2 := Point{
		X: start.X + (end.X-start.X)*0.7 + float64(rng.IntN(81)-40),
		Y: start.Y + (end.Y-start.Y)*0.7 + float64(rng.IntN(81)-40),
	}

	pts := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		pts = append(pts, Point{
			X: mt*mt*mt*start.X + 3*mt*mt*t*c1.X + 3*mt*t*t*c2.X + t*t*t*end.X,
			Y: mt*mt*mt*start.Y + 3*mt*mt*t*c1.Y + 3*mt*t*t*c2.Y + t*t*t*end.Y,
		})
	}
	return pts
}
