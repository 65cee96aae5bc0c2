package face

import (
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/visage/internal/labels"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

// ErrVectorLength is returned when an engine produces a vector of the wrong size.
var ErrVectorLength = errors.New("unexpected output vector length")

// ModelMean is the per-channel mean shared by the gender and age engines.
var ModelMean = types.Mean{92.1263377603, 87.7689143744, 71.695847746}

// Classifier feeds a face region through the gender and age engines.
type Classifier struct {
	Gender    vision.Scorer
	Age       vision.Scorer
	InputSize image.Point
	Mean      types.Mean
	SwapRB    bool
}

// NewClassifier returns a Classifier for the 227x227 Caffe age/gender nets.
func NewClassifier(gender, age vision.Scorer) *Classifier {
	return &Classifier{
		Gender:    gender,
		Age:       age,
		InputSize: image.Pt(227, 227),
		Mean:      ModelMean,
		SwapRB:    true,
	}
}

// Classify returns the decoded gender and parenthesis-free age bracket.
func (c *Classifier) Classify(region vision.Frame) (types.FaceClassification, error) {
	gender, err := c.decode(c.Gender, labels.Gender, region)
	if err != nil {
		return types.FaceClassification{}, err
	}
	age, err := c.decode(c.Age, labels.Age, region)
	if err != nil {
		return types.FaceClassification{}, err
	}
	return types.FaceClassification{Gender: gender, Age: labels.StripBrackets(age)}, nil
}

func (c *Classifier) decode(s vision.Scorer, table labels.Table, region vision.Frame) (string, error) {
	scores, err := s.ScoreVector(region, c.InputSize, c.Mean, c.SwapRB)
	if err != nil {
		return "", fmt.Errorf("%s engine: %w", table.Name(), err)
	}
	if len(scores) != table.Len() {
		return "", fmt.Errorf("%w: %s engine returned %d scores, want %d", ErrVectorLength, table.Name(), len(scores), table.Len())
	}
	return table.Decode(scores)
}
