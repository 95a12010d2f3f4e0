// Package service contains application services.
package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/agentguard/agentguard/internal/adapter/outbound/cel"
	"github.com/agentguard/agentguard/internal/domain/policy"
)

// compiledRule is one rule prepared for evaluation: regex conditions are
// precompiled and the optional CEL expression is a compiled program.
type compiledRule struct {
	rule     *policy.Rule
	regexps  []*regexp.Regexp // per condition; nil for non-regex conditions
	regexErr []error          // per condition; non-nil for unparseable patterns
	program  cel.Program      // nil when the rule has no expression
}

// compiledPolicy is the immutable snapshot stored in atomic.Value. A reload
// builds a fresh snapshot and swaps the pointer; in-flight evaluations keep
// the snapshot they observed.
type compiledPolicy struct {
	policy        *policy.Policy
	rules         []compiledRule // sorted by priority descending, stable
	policySection map[string]any
	cacheable     bool
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision. At capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the decision-relevant parts of a tool call. Two
// calls with the same key see the same decision under a time-invariant
// policy. JSON marshaling sorts map keys, so parameter order is irrelevant.
func computeCacheKey(call policy.ToolCall) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(call.ToolName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(call.AgentID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(call.SessionID)
	_, _ = h.Write([]byte{0})

	if len(call.Parameters) > 0 {
		b, _ := json.Marshal(call.Parameters)
		_, _ = h.Write(b)
	}
	_, _ = h.Write([]byte{0})
	if len(call.Metadata) > 0 {
		b, _ := json.Marshal(call.Metadata)
		_, _ = h.Write(b)
	}

	return h.Sum64()
}

// PolicyService is the policy evaluator: it applies rules in priority order
// to a tool call and returns a decision. Rules are compiled once per policy
// load; evaluation reads the snapshot lock-free via atomic.Value and never
// fails the call (pathological conditions degrade to diagnosed non-matches).
type PolicyService struct {
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *compiledPolicy
	mu        sync.Mutex   // only for Reload() writes
	cache     *ResultCache
	logger    *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// NewPolicyService compiles the policy and returns a ready evaluator. The
// policy must already be validated; a CEL expression that fails to compile
// is a load error.
func NewPolicyService(p *policy.Policy, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	snapshot, err := s.compile(p)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snapshot)

	logger.Info("policy compiled",
		"policy", p.Name,
		"rules", len(snapshot.rules),
		"cacheable", snapshot.cacheable,
	)
	return s, nil
}

// compile prepares a policy snapshot: rules sorted by descending priority
// (stable in declaration order), regex conditions precompiled, and CEL
// expressions built into programs.
func (s *PolicyService) compile(p *policy.Policy) (*compiledPolicy, error) {
	rules := make([]compiledRule, 0, len(p.Rules))
	hasExpression := false

	for i := range p.Rules {
		r := &p.Rules[i]
		cr := compiledRule{
			rule:     r,
			regexps:  make([]*regexp.Regexp, len(r.Conditions)),
			regexErr: make([]error, len(r.Conditions)),
		}
		for j := range r.Conditions {
			cond := &r.Conditions[j]
			if cond.Operator != policy.OpRegex {
				continue
			}
			pat, ok := cond.Value.(string)
			if !ok {
				cr.regexErr[j] = fmt.Errorf("regex value must be a string, got %T", cond.Value)
				continue
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				// Non-fatal: the condition degrades to a diagnosed
				// non-match at evaluation time.
				cr.regexErr[j] = err
				continue
			}
			cr.regexps[j] = re
		}
		if r.Expression != "" {
			hasExpression = true
			if err := s.evaluator.ValidateExpression(r.Expression); err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			prg, err := s.evaluator.Compile(r.Expression)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			cr.program = prg
		}
		rules = append(rules, cr)
	}

	// Stable sort: ties in priority keep declaration order.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].rule.Priority > rules[j].rule.Priority
	})

	return &compiledPolicy{
		policy:        p,
		rules:         rules,
		policySection: policy.PolicyContext(p),
		cacheable:     !hasExpression && !policy.ReferencesTimestamp(p),
	}, nil
}

// loadSnapshot returns the current compiled policy atomically (lock-free).
func (s *PolicyService) loadSnapshot() *compiledPolicy {
	return s.snapshot.Load().(*compiledPolicy)
}

// Policy returns the policy behind the current snapshot.
func (s *PolicyService) Policy() *policy.Policy {
	return s.loadSnapshot().policy
}

// Evaluate applies the policy to a tool call: the first rule (in descending
// priority, declaration order on ties) whose every condition matches wins;
// otherwise the policy default action applies. Evaluation has no side
// effects and never fails the call.
func (s *PolicyService) Evaluate(call policy.ToolCall, at time.Time) policy.Decision {
	snapshot := s.loadSnapshot()

	var cacheKey uint64
	if snapshot.cacheable {
		cacheKey = computeCacheKey(call)
		if d, ok := s.cache.Get(cacheKey); ok {
			return d
		}
	}

	evalCtx := policy.NewEvalContext(call, snapshot.policy, snapshot.policySection, at)

	for i := range snapshot.rules {
		cr := &snapshot.rules[i]
		if s.ruleMatches(evalCtx, cr) {
			d := policy.Decision{
				Action:      cr.rule.Action,
				MatchedRule: cr.rule,
				Reason:      fmt.Sprintf("Matched rule: %s", cr.rule.Name),
			}
			if snapshot.cacheable {
				s.cache.Put(cacheKey, d)
			}
			return d
		}
	}

	d := policy.Decision{
		Action: snapshot.policy.DefaultAction,
		Reason: "No matching rules found",
	}
	if snapshot.cacheable {
		s.cache.Put(cacheKey, d)
	}
	return d
}

// ruleMatches reports whether every condition of the rule matches and, when
// present, its expression evaluates to true. Diagnostics degrade to
// non-matches.
func (s *PolicyService) ruleMatches(evalCtx *policy.EvalContext, cr *compiledRule) bool {
	for j := range cr.rule.Conditions {
		cond := cr.rule.Conditions[j]
		if cond.Operator == policy.OpRegex && cr.regexErr[j] != nil {
			s.logger.Warn("regex condition skipped",
				"rule", cr.rule.Name,
				"field", cond.Field,
				"error", cr.regexErr[j],
			)
			return false
		}
		matched, err := policy.MatchCondition(evalCtx, cond, cr.regexps[j])
		if err != nil {
			s.logger.Warn("condition evaluation diagnostic",
				"rule", cr.rule.Name,
				"field", cond.Field,
				"operator", cond.Operator,
				"error", err,
			)
			return false
		}
		if !matched {
			return false
		}
	}
	if cr.program != nil {
		ok, err := s.evaluator.Evaluate(cr.program, evalCtx.Root())
		if err != nil {
			s.logger.Warn("rule expression diagnostic",
				"rule", cr.rule.Name,
				"error", err,
			)
			return false
		}
		return ok
	}
	return true
}

// Reload compiles a new policy and atomically replaces the snapshot.
// Concurrent evaluations continue against whichever snapshot they observed.
func (s *PolicyService) Reload(p *policy.Policy) error {
	snapshot, err := s.compile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot.Store(snapshot)
	s.mu.Unlock()

	// Cached decisions may be stale under the new policy.
	s.cache.Clear()

	s.logger.Info("policy reloaded",
		"policy", p.Name,
		"rules", len(snapshot.rules),
		"cacheable", snapshot.cacheable,
	)
	return nil
}
