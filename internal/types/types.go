package types

import "image"

// BoundingBox is a detected face in source-frame pixel coordinates.
// Nothing guarantees X1 < X2 or Y1 < Y2; consumers must validate.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect returns the box as an image.Rectangle without canonicalizing it.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rectangle{Min: image.Pt(b.X1, b.Y1), Max: image.Pt(b.X2, b.Y2)}
}

// DetectionResult holds the accepted boxes of one frame in detector output order.
type DetectionResult []BoundingBox

// Candidate is one raw detector record with normalized coordinates.
type Candidate struct {
	Confidence float32
	X1, Y1     float32
	X2, Y2     float32
}

// Mean is the per-channel mean subtracted from a region before inference.
type Mean [3]float64

// FaceClassification is the decoded gender and age bracket of one face.
// Age carries no enclosing parentheses, e.g. "18-20".
type FaceClassification struct {
	Gender string `json:"gender"`
	Age    string `json:"age"`
}

// LogRecord is one persisted row of a logging session.
type LogRecord struct {
	Alias  string
	Gender string
	Age    string

	// Frame and Box are only persisted by sinks that keep positional data.
	Frame int
	Box   BoundingBox
}

// FrameTask represents a single encoded frame pulled from a stream.
type FrameTask struct {
	Index int
	Data  []byte
}

// ErrorResult captures the error object returned by an engine on failure
type ErrorResult struct {
	Error string `json:"error"`
}
