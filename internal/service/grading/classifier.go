package grading

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

// Prediction is a classifier's answer for one image.
type Prediction struct {
	Grade      model.Grade
	Confidence int
}

// Classifier turns image features into a fibrosis grade.
type Classifier interface {
	Classify(ctx context.Context, f Features) (Prediction, error)
	// Name is reported to clients as the model that produced the grade.
	Name() string
}

// transition[true][predicted] is the chance of reporting predicted for an
// image whose statistics fall in the true bucket.
var transition = [5][5]float64{
	{0.70, 0.20, 0.05, 0.03, 0.02},
	{0.20, 0.60, 0.15, 0.03, 0.02},
	{0.05, 0.15, 0.60, 0.15, 0.05},
	{0.02, 0.03, 0.15, 0.70, 0.10},
	{0.01, 0.02, 0.07, 0.20, 0.70},
}

type confidenceRange struct{ min, max int }

var confidenceRanges = map[model.Grade]confidenceRange{
	model.GradeF0: {85, 98},
	model.GradeF1: {80, 95},
	model.GradeF2: {75, 92},
	model.GradeF3: {70, 90},
	model.GradeF4: {75, 95},
}

// ConfidenceRange returns the inclusive bounds the simulated classifier draws
// confidences from for g.
func ConfidenceRange(g model.Grade) (int, int) {
	r := confidenceRanges[g]
	return r.min, r.max
}

// SimulatedClassifier is not a model. It buckets the image by brightness and
// contrast, then draws a grade and confidence at random. Its output carries
// no diagnostic meaning.
type SimulatedClassifier struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedClassifier seeds the generator with seed, or with the clock
// when seed is zero.
func NewSimulatedClassifier(seed int64) *SimulatedClassifier {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedClassifier{rnd: rand.New(rand.NewSource(seed))}
}

func (c *SimulatedClassifier) Name() string { return "simulated" }

func (c *SimulatedClassifier) Classify(_ context.Context, f Features) (Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var bucket int
	if f.Valid {
		bucket = TrueGrade(f).Index()
	} else {
		bucket = c.rnd.Intn(len(model.Grades))
	}

	grade := model.Grades[len(model.Grades)-1]
	r := c.rnd.Float64()
	var acc float64
	for i, p := range transition[bucket] {
		acc += p
		if r < acc {
			grade = model.Grades[i]
			break
		}
	}

	lo, hi := ConfidenceRange(grade)
	return Prediction{
		Grade:      grade,
		Confidence: lo + c.rnd.Intn(hi-lo+1),
	}, nil
}

// TrueGrade is the bucket the simulation biases towards: brighter, flatter
// images land in higher grades.
func TrueGrade(f Features) model.Grade {
	score := clamp(f.Mean/255)*0.7 + (1-clamp(f.Std/128))*0.3
	switch {
	case score < 0.2:
		return model.GradeF0
	case score < 0.4:
		return model.GradeF1
	case score < 0.6:
		return model.GradeF2
	case score < 0.8:
		return model.GradeF3
	default:
		return model.GradeF4
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
