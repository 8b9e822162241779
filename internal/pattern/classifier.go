package pattern

import (
	"math"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

// Prediction is the raw classifier output before it is promoted (or not)
// to a model.Result, per spec.md §4.4 step 4.
type Prediction struct {
	Decision   model.Decision
	Confidence float64 // [0,1]
	Score      float64
	Features   Features
}

// weights is the deterministic rule-weighted fallback classifier's linear
// model. Positive weights push the score toward Approved, negative
// weights toward Blocked. The learning hook in Learn nudges these within
// small bounds; correctness never depends on that path (spec.md §4.4).
type weights struct {
	mu sync.RWMutex

	safeTool     float64
	bash         float64
	fileOp       float64
	dangerCount  float64
	safeCount    float64
	keywordRatio float64
	systemPath   float64
	specialChars float64
	commandLen   float64
	trustedAgent float64
}

func defaultWeights() *weights {
	return &weights{
		safeTool:     2.0,
		bash:         -0.5,
		fileOp:       0.2,
		dangerCount:  -1.2,
		safeCount:    0.3,
		keywordRatio: 0.5,
		systemPath:   -1.5,
		specialChars: -0.8,
		commandLen:   -0.3,
		trustedAgent: 0.8,
	}
}

func (w *weights) score(f Features) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	score := 0.0
	if f.IsSafeTool {
		score += w.safeTool
	}
	if f.IsBash {
		score += w.bash
	}
	if f.IsFileOp {
		score += w.fileOp
	}
	score += w.dangerCount * float64(f.DangerCount)
	score += w.safeCount * float64(f.SafeCount)
	score += w.keywordRatio * f.KeywordRatio
	if f.SystemPath {
		score += w.systemPath
	}
	if f.SpecialChars {
		score += w.specialChars
	}
	score += w.commandLen * f.CommandLength
	if f.TrustedAgent {
		score += w.trustedAgent
	}
	return score
}

const (
	approveThreshold = 1.5
	blockThreshold   = -1.5
	learningRate     = 0.05
	maxWeightMagnitude = 5.0
)

// Classifier is the deterministic rule-weighted fallback classifier
// required by spec.md §4.4. Callers needing a trained-model classifier
// may wrap this behind the same Classify/Learn signature.
type Classifier struct {
	w *weights
}

func NewClassifier() *Classifier {
	return &Classifier{w: defaultWeights()}
}

// Classify applies the decision rule from spec.md §4.4: score > 1.5 =>
// Approved, score < -1.5 => Blocked, else Escalate. Confidence saturates
// toward 0.9 as |score| grows.
func (c *Classifier) Classify(req model.Request) Prediction {
	f := ExtractFeatures(req)
	score := c.w.score(f)

	var decision model.Decision
	switch {
	case score > approveThreshold:
		decision = model.Approved
	case score < blockThreshold:
		decision = model.Blocked
	default:
		decision = model.Escalate
	}

	confidence := math.Min(0.9, math.Abs(score)/4.0)
	return Prediction{Decision: decision, Confidence: confidence, Score: score, Features: f}
}

// Learn nudges the linear weights toward an expert-confirmed decision.
// It is a small, bounded gradient step, not a training pipeline: the ML
// model training pipeline itself is explicitly out of scope (spec.md §1).
func (c *Classifier) Learn(req model.Request, expertDecision model.Decision) {
	f := ExtractFeatures(req)
	target := targetScore(expertDecision)
	current := c.w.score(f)
	err := target - current

	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	adjust := func(weight *float64, feature float64) {
		*weight = clamp(*weight+learningRate*err*feature, -maxWeightMagnitude, maxWeightMagnitude)
	}
	if f.IsSafeTool {
		adjust(&c.w.safeTool, 1)
	}
	if f.IsBash {
		adjust(&c.w.bash, 1)
	}
	adjust(&c.w.dangerCount, float64(f.DangerCount))
	adjust(&c.w.safeCount, float64(f.SafeCount))
	if f.SystemPath {
		adjust(&c.w.systemPath, 1)
	}
	if f.SpecialChars {
		adjust(&c.w.specialChars, 1)
	}
	if f.TrustedAgent {
		adjust(&c.w.trustedAgent, 1)
	}
}

func targetScore(d model.Decision) float64 {
	switch d {
	case model.Approved:
		return approveThreshold + 1
	case model.Blocked:
		return blockThreshold - 1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// predictionCacheTTL is the spec.md §4.4 "10 min" prediction cache TTL.
const predictionCacheTTL = 10 * time.Minute
