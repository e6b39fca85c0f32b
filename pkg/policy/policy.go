// Package policy evaluates operator-supplied CEL admission rules against
// proposals before they reach the transition engine.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// ErrDenied is returned when a rule rejects a proposal or cannot be evaluated.
var ErrDenied = errors.New("policy: denied")

// Rule is one named CEL expression that must evaluate to true.
type Rule struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// Evaluator is a fail-closed CEL rule set with a program cache.
type Evaluator struct {
	env      *cel.Env
	rules    []Rule
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewEvaluator compiles rules eagerly so that a bad expression fails at startup.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposal", cel.DynType),
		cel.Variable("record", cel.DynType),
		cel.Variable("party", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e := &Evaluator{env: env, rules: rules, prgCache: make(map[string]cel.Program)}
	for i, r := range rules {
		if r.Expr == "" {
			return nil, fmt.Errorf("policy rule %d (%s): empty expression", i, r.Name)
		}
		if _, err := e.program(r.Expr); err != nil {
			return nil, fmt.Errorf("policy rule %d (%s): %w", i, r.Name, err)
		}
	}
	return e, nil
}

// Rules returns the configured rules.
func (e *Evaluator) Rules() []Rule { return e.rules }

// Admit evaluates every rule against the proposal party is about to submit
// on rec. The first rule that is false or errors denies the proposal.
func (e *Evaluator) Admit(ctx context.Context, rec negotiation.Record, party negotiation.Party, p negotiation.Proposal) error {
	if e == nil || len(e.rules) == 0 {
		return nil
	}
	input := map[string]any{
		"proposal": proposalInput(p),
		"record":   recordInput(rec),
		"party":    party.String(),
	}
	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		allowed, err := e.evaluate(r.Expr, input)
		if err != nil {
			return fmt.Errorf("%w: rule %s: %v", ErrDenied, r.Name, err)
		}
		if !allowed {
			return fmt.Errorf("%w: rule %s", ErrDenied, r.Name)
		}
	}
	return nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

func (e *Evaluator) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// proposalInput exposes only the fields the caller supplied, so rules can
// test presence with has().
func proposalInput(p negotiation.Proposal) map[string]any {
	events, _ := negotiation.Decode(p.Events)
	names := make([]string, 0, events.Len())
	for _, ev := range events.Events() {
		names = append(names, ev.String())
	}
	in := map[string]any{"events": names}
	if p.Stake != nil {
		in["stake"] = *p.Stake
	}
	if p.Parameters.IsSet() {
		in["parameters"] = p.Parameters.Display(negotiation.Parameters)
	}
	if p.Protocol != nil {
		in["protocol"] = p.Protocol.String()
	}
	if p.Term != nil {
		in["term"] = p.Term.String()
	}
	if p.AltProtocol != nil {
		in["alt_protocol"] = p.AltProtocol.String()
	}
	if p.AltTerm != nil {
		in["alt_term"] = p.AltTerm.String()
	}
	return in
}

func recordInput(rec negotiation.Record) map[string]any {
	elements := make(map[string]any, negotiation.NumElements)
	for _, e := range negotiation.Elements {
		st := rec.Element(e)
		elements[e.String()] = map[string]any{
			"maturity": st.Maturity.String(),
			"value":    st.Value.Display(e),
		}
	}
	return map[string]any{
		"turn":        int64(rec.Turn),
		"is_complete": rec.Complete,
		"initiator":   rec.Initiator().String(),
		"elements":    elements,
	}
}
