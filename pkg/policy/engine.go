package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// DefaultPackage is the package whose skip set is queried.
const DefaultPackage = "tracker"

// Options configures an Engine.
type Options struct {
	// Package is the Rego package queried for data.<package>.skip.
	Package string

	// Builtins are the builtin rules to load at startup.
	Builtins []string

	// Data is exposed to rules as data.<key>.
	Data map[string]interface{}
}

// Engine evaluates operator rules before a job is enqueued. It implements
// engine.EnqueueHook; a rule can only veto, never change the command.
type Engine struct {
	mu     sync.RWMutex
	pkg    string
	rules  map[string]*compiledRule
	query  *rego.PreparedEvalQuery
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

type compiledRule struct {
	rule   Rule
	module *ast.Module
}

var _ engine.EnqueueHook = (*Engine)(nil)

// NewEngine creates an engine with the requested builtins loaded.
func NewEngine(opts Options, logger zerolog.Logger) (*Engine, error) {
	if opts.Package == "" {
		opts.Package = DefaultPackage
	}
	if _, err := ast.ParseRef("data." + opts.Package); err != nil {
		return nil, fmt.Errorf("invalid policy package %q: %w", opts.Package, err)
	}

	data := opts.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	e := &Engine{
		pkg:    opts.Package,
		rules:  make(map[string]*compiledRule),
		store:  inmem.NewFromObject(data),
		logger: logger.With().Str("component", "policy-engine").Logger(),
		now:    time.Now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range opts.Builtins {
		rule, err := BuiltinRule(name, opts.Package)
		if err != nil {
			return nil, err
		}
		if err := e.addRule(rule); err != nil {
			return nil, fmt.Errorf("failed to load builtin rule %s: %w", name, err)
		}
	}
	if err := e.prepare(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Package returns the queried package.
func (e *Engine) Package() string {
	return e.pkg
}

// BeforeEnqueue implements engine.EnqueueHook. Evaluation errors are logged
// and let the job through.
func (e *Engine) BeforeEnqueue(ctx context.Context, job *engine.Job, in engine.Input) engine.Decision {
	result, err := e.Evaluate(ctx, NewInput(job, in))
	if err != nil {
		e.logger.Error().Err(err).
			Str("tracker", job.Tracker).
			Str("entity_id", job.EntityID).
			Str("command", string(job.Command)).
			Msg("Policy evaluation failed")
		return engine.Proceed(job.Command)
	}
	if result.Skip {
		return engine.Skip(result.Reason())
	}
	return engine.Proceed(job.Command)
}

// Evaluate queries the skip set for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	start := e.now()
	result := &Result{EvaluatedAt: start}
	if query == nil {
		return result, nil
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	seen := map[string]struct{}{}
	for _, r := range rs {
		for _, expr := range r.Expressions {
			items, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				seen[reasonOf(item)] = struct{}{}
			}
		}
	}
	for reason := range seen {
		result.Reasons = append(result.Reasons, reason)
	}
	sort.Strings(result.Reasons)
	result.Skip = len(result.Reasons) > 0
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("tracker", input.Tracker).
		Str("entity_id", input.EntityID).
		Bool("skip", result.Skip).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// reasonOf accepts plain strings and objects carrying msg or message.
func reasonOf(item interface{}) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]interface{}:
		for _, key := range []string{"msg", "message", "reason"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	}
	return fmt.Sprint(item)
}

// LoadPolicies loads .rego files from paths, replacing previously loaded
// files. Builtins are kept. Nothing changes when any file fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	rules, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplaceRules(ctx, rules)
}

// ReplaceRules swaps every non-builtin rule for rules.
func (e *Engine) ReplaceRules(ctx context.Context, rules []Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.rules
	e.rules = make(map[string]*compiledRule, len(previous)+len(rules))
	for name, cr := range previous {
		if cr.rule.Builtin() {
			e.rules[name] = cr
		}
	}

	for i := range rules {
		if err := e.addRule(rules[i]); err != nil {
			e.rules = previous
			return fmt.Errorf("failed to compile policy %s: %w", rules[i].Name, err)
		}
	}
	if err := e.prepare(ctx); err != nil {
		e.rules = previous
		return err
	}

	e.logger.Info().
		Int("count", len(rules)).
		Int("total", len(e.rules)).
		Msg("Policies loaded successfully")
	return nil
}

// addRule parses and stores a rule. The caller holds the lock.
func (e *Engine) addRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if existing, ok := e.rules[rule.Name]; ok && existing.rule.Source != rule.Source {
		return fmt.Errorf("rule %s is defined by %s and %s", rule.Name, existing.rule.Source, rule.Source)
	}

	module, err := ast.ParseModule(rule.Name+".rego", rule.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	rule.Package = packagePath(module)

	e.rules[rule.Name] = &compiledRule{rule: rule, module: module}
	return nil
}

// prepare compiles every enabled module into one query. The caller holds the
// lock.
func (e *Engine) prepare(ctx context.Context) error {
	opts := []func(*rego.Rego){
		rego.Query("data." + e.pkg + ".skip"),
		rego.Store(e.store),
	}
	n := 0
	for _, name := range e.sortedNames() {
		cr := e.rules[name]
		if !cr.rule.Enabled {
			continue
		}
		opts = append(opts, rego.ParsedModule(cr.module))
		n++
	}
	if n == 0 {
		e.query = nil
		return nil
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy query: %w", err)
	}
	e.query = &query
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.rules))
	for name := range e.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// packagePath renders the module package without the data. prefix.
func packagePath(module *ast.Module) string {
	parts := make([]string, 0, len(module.Package.Path))
	for _, term := range module.Package.Path[1:] {
		if s, ok := term.Value.(ast.String); ok {
			parts = append(parts, string(s))
		}
	}
	return strings.Join(parts, ".")
}

// GetRule returns a rule by name.
func (e *Engine) GetRule(name string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cr, ok := e.rules[name]
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", name)
	}
	rule := cr.rule
	return &rule, nil
}

// ListRules returns every rule sorted by name.
func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, 0, len(e.rules))
	for _, name := range e.sortedNames() {
		rules = append(rules, e.rules[name].rule)
	}
	return rules
}

// EnableRule enables a rule.
func (e *Engine) EnableRule(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, true)
}

// DisableRule disables a rule.
func (e *Engine) DisableRule(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, false)
}

func (e *Engine) setEnabled(ctx context.Context, name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cr, ok := e.rules[name]
	if !ok {
		return fmt.Errorf("rule not found: %s", name)
	}
	if cr.rule.Enabled == enabled {
		return nil
	}
	cr.rule.Enabled = enabled
	if err := e.prepare(ctx); err != nil {
		cr.rule.Enabled = !enabled
		return err
	}

	e.logger.Info().Str("rule", name).Bool("enabled", enabled).Msg("Rule toggled")
	return nil
}

// Watch reloads the rules under paths whenever a .rego file changes. It
// returns once the watcher is running; ctx stops it.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(rules []Rule) error {
		return e.ReplaceRules(ctx, rules)
	})
}
