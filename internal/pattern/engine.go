package pattern

import (
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

const defaultConfidenceThreshold = 0.8

type cachedPrediction struct {
	prediction Prediction
	createdAt  time.Time
}

// Engine is the L3 pattern cache: it memoizes predictions by
// (tool, fingerprint, agent-id-prefix), classifies on miss, and promotes
// high-confidence predictions to a model.Result. Below the confidence
// threshold it signals the dispatcher to defer to expert escalation.
type Engine struct {
	mu                  sync.Mutex
	classifier          *Classifier
	cache               map[string]cachedPrediction
	confidenceThreshold float64
}

func New(threshold float64) *Engine {
	if threshold < 0 {
		threshold = defaultConfidenceThreshold
	}
	return &Engine{
		classifier:          NewClassifier(),
		cache:               make(map[string]cachedPrediction),
		confidenceThreshold: threshold,
	}
}

func predictionKey(req model.Request) string {
	agentPrefix := req.AgentID
	if len(agentPrefix) > 8 {
		agentPrefix = agentPrefix[:8]
	}
	return req.ToolName + "|" + req.Fingerprint() + "|" + agentPrefix
}

// Predict runs the L3 pipeline from spec.md §4.4: consult the prediction
// cache, else classify and cache; if confidence >= threshold, return
// (result, true); otherwise return (zero, false) so the dispatcher
// escalates to an expert.
func (e *Engine) Predict(req model.Request) (model.Result, bool) {
	key := predictionKey(req)

	e.mu.Lock()
	if cp, ok := e.cache[key]; ok && time.Since(cp.createdAt) < predictionCacheTTL {
		pred := cp.prediction
		e.mu.Unlock()
		return e.toResult(pred)
	}
	e.mu.Unlock()

	pred := e.classifier.Classify(req)

	e.mu.Lock()
	e.cache[key] = cachedPrediction{prediction: pred, createdAt: time.Now()}
	e.mu.Unlock()

	return e.toResult(pred)
}

func (e *Engine) toResult(pred Prediction) (model.Result, bool) {
	if pred.Confidence < e.confidenceThreshold {
		return model.Result{}, false
	}
	return model.Result{
		Decision:   pred.Decision,
		Confidence: model.ConfidenceFromScore(pred.Confidence),
		Reason:     "pattern classifier",
		Layer:      model.LayerPattern,
	}, true
}

// Learn feeds an expert decision back into the fallback classifier, per
// the "Learning hook" in spec.md §4.4, and invalidates any cached
// prediction for the same request so the next lookup reflects the
// updated weights.
func (e *Engine) Learn(req model.Request, expertDecision model.Decision) {
	e.classifier.Learn(req, expertDecision)
	e.mu.Lock()
	delete(e.cache, predictionKey(req))
	e.mu.Unlock()
}
