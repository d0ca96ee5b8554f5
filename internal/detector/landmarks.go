// Package detector provides hand detection interfaces, landmark types and the
// landmark normalizer used by the recognition and capture pipelines.
package detector

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// FeatureWidth is the length of a flattened feature vector: x, y, z per point.
const FeatureWidth = 3 * NumLandmarks

// HandConnections lists the landmark index pairs that form the hand skeleton.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// Point3D represents a 3D point in space with x, y, z coordinates.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Normalize translates every point so the wrist lands on the x/y origin.
// The z coordinate is passed through unchanged.
// Returns a new HandLandmarks instance; a nil hand yields nil.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	normalized := &HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	copy(normalized.Points[:], NormalizePoints(h.Points[:]))
	return normalized
}

// Features normalizes the hand and flattens it into a feature vector of
// length FeatureWidth. A nil hand yields nil.
func (h *HandLandmarks) Features() []float64 {
	if h == nil {
		return nil
	}
	return Flatten(NormalizePoints(h.Points[:]))
}

// NormalizePoints translates an arbitrary landmark sequence so that point 0
// becomes the x/y origin. An empty sequence is treated as "no hand" and
// yields nil.
func NormalizePoints(points []Point3D) []Point3D {
	if len(points) == 0 {
		return nil
	}

	base := points[0]
	out := make([]Point3D, len(points))
	for i, p := range points {
		out[i] = Point3D{
			X: p.X - base.X,
			Y: p.Y - base.Y,
			Z: p.Z,
		}
	}
	return out
}

// Flatten lays out points as [x0, y0, z0, x1, y1, z1, ...].
func Flatten(points []Point3D) []float64 {
	if len(points) == 0 {
		return nil
	}

	out := make([]float64, 0, 3*len(points))
	for _, p := range points {
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}

// FromPoints builds a HandLandmarks from a point slice. It reports false when
// the slice does not hold exactly NumLandmarks points.
func FromPoints(points []Point3D) (HandLandmarks, bool) {
	var h HandLandmarks
	if len(points) != NumLandmarks {
		return h, false
	}
	copy(h.Points[:], points)
	return h, true
}
