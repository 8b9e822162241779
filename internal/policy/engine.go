package policy

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

const (
	maxHotRules      = 10
	memoCapacity     = 1000
	hotRefreshPeriod = 30 * time.Second
)

// memoEntry is a request-memoized decision, keyed by
// (tool, agent-id-prefix, fingerprint-prefix) per spec.md §4.3 step 1.
type memoEntry struct {
	result    model.Result
	createdAt time.Time
}

// Engine is the L2 policy cache: a rule trie indexed by tool name plus a
// small globally hot set, evaluated first-match-wins in descending
// priority order.
type Engine struct {
	mu sync.RWMutex

	byTool map[string][]*compiledRule // tool-specific rules, sorted desc priority
	global []*compiledRule            // rules with an empty tool allowlist
	all    []*compiledRule            // every compiled rule, for hot-rule refresh

	hot       []*compiledRule
	hotExpiry time.Time

	memo    map[string]memoEntry
	memoTTL time.Duration

	logger *log.Logger
}

// New compiles the given specs (logging and dropping any with an invalid
// regex, per spec.md §4.3's failure contract) and returns a ready Engine.
func New(specs []RuleSpec, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		byTool:  make(map[string][]*compiledRule),
		memo:    make(map[string]memoEntry),
		memoTTL: 60 * time.Second,
		logger:  logger,
	}
	for _, spec := range specs {
		rule, err := compile(spec)
		if err != nil {
			logger.Printf("policy: dropping rule %s: %v", spec.ID, err)
			continue
		}
		e.all = append(e.all, rule)
		if len(spec.Tools) == 0 {
			e.global = append(e.global, rule)
		} else {
			for _, tool := range spec.Tools {
				e.byTool[tool] = append(e.byTool[tool], rule)
			}
		}
	}
	sortByPriorityDesc(e.global)
	for tool := range e.byTool {
		sortByPriorityDesc(e.byTool[tool])
	}
	e.refreshHot()
	return e
}

// subjectFor builds the string a rule's regex is matched against: the
// tool name followed by every string-valued field of the canonicalized
// tool input, space-joined so patterns like `rm -rf /` or `chmod 777`
// match regardless of which input key carried the command text.
func subjectFor(req model.Request) string {
	var b strings.Builder
	b.WriteString(req.ToolName)
	keys := make([]string, 0, len(req.ToolInput))
	for k := range req.ToolInput {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := req.ToolInput[k].(string); ok {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	return b.String()
}

func memoKey(req model.Request) string {
	fp := req.Fingerprint()
	agentPrefix := req.AgentID
	if len(agentPrefix) > 8 {
		agentPrefix = agentPrefix[:8]
	}
	fpPrefix := fp
	if len(fpPrefix) > 8 {
		fpPrefix = fpPrefix[:8]
	}
	return req.ToolName + "|" + agentPrefix + "|" + fpPrefix
}

// applicable returns hot_rules ∪ tool_specific_rules[tool] ∪ global_rules,
// each pre-sorted by descending priority, per spec.md §4.3. A rule that
// belongs to more than one of the three sets (e.g. hot-promoted and
// tool-specific) appears once.
func (e *Engine) applicable(tool string) []*compiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*compiledRule, 0, len(e.hot)+len(e.byTool[tool])+len(e.global))
	seen := make(map[*compiledRule]bool, cap(out))
	add := func(rules []*compiledRule) {
		for _, r := range rules {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	add(e.hot)
	add(e.byTool[tool])
	add(e.global)
	return out
}

// Evaluate runs the L2 pipeline: memo lookup, then first-match-wins over
// applicable rules in priority order. It returns (result, true) on a
// decision, or (zero, false) to fall through to L3.
func (e *Engine) Evaluate(req model.Request) (model.Result, bool) {
	if time.Now().After(e.hotExpiry) {
		e.refreshHot()
	}

	key := memoKey(req)
	e.mu.RLock()
	if m, ok := e.memo[key]; ok && time.Since(m.createdAt) < e.memoTTL {
		e.mu.RUnlock()
		return m.result, true
	}
	e.mu.RUnlock()

	subject := subjectFor(req)
	for _, rule := range e.applicable(req.ToolName) {
		if rule.evaluate(req, subject) {
			result := rule.toResult()
			e.memoize(key, result)
			return result, true
		}
	}
	return model.Result{}, false
}

func (e *Engine) memoize(key string, result model.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.memo) >= memoCapacity {
		// Drop an arbitrary entry; Go map iteration order is randomized,
		// which is an acceptable O(1) approximation of LRU trim for a
		// cache this small (spec.md §5 resource caps: "LRU trim").
		for k := range e.memo {
			delete(e.memo, k)
			break
		}
	}
	e.memo[key] = memoEntry{result: result, createdAt: time.Now()}
}

// refreshHot recomputes the ≤10 most-matched rules across all tools, per
// spec.md §4.3's "Hot rules" refreshed periodically.
func (e *Engine) refreshHot() {
	e.mu.Lock()
	defer e.mu.Unlock()

	ranked := make([]*compiledRule, len(e.all))
	copy(ranked, e.all)
	sort.Slice(ranked, func(i, j int) bool {
		ci, _, _ := ranked[i].stats.snapshot()
		cj, _, _ := ranked[j].stats.snapshot()
		return ci > cj
	})

	n := maxHotRules
	if n > len(ranked) {
		n = len(ranked)
	}
	hot := make([]*compiledRule, 0, n)
	for _, r := range ranked[:n] {
		if count, _, _ := r.stats.snapshot(); count > 0 {
			hot = append(hot, r)
		}
	}
	sortByPriorityDesc(hot)
	e.hot = hot
	e.hotExpiry = time.Now().Add(hotRefreshPeriod)
}

// RuleCount returns the number of successfully compiled rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.all)
}

// Reload atomically swaps in a new rule set (e.g. after policyConfigPath
// changes), clearing memoized decisions since they may now be stale.
func (e *Engine) Reload(specs []RuleSpec) {
	fresh := New(specs, e.logger)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.byTool = fresh.byTool
	e.global = fresh.global
	e.all = fresh.all
	e.hot = fresh.hot
	e.hotExpiry = fresh.hotExpiry
	e.memo = make(map[string]memoEntry)
}

func (e *Engine) String() string {
	return fmt.Sprintf("policy.Engine{rules=%d}", e.RuleCount())
}
