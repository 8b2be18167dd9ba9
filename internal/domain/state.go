package domain

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of an article.
type State string

const (
	StateCollected  State = "COLLECTED"
	StateAnalyzing  State = "ANALYZING"
	StateAnalyzed   State = "ANALYZED"
	StateClassified State = "CLASSIFIED"
	StatePublished  State = "PUBLISHED"
	StateReleased   State = "RELEASED"
	StateRejected   State = "REJECTED"
)

// AllStates lists every state in pipeline order.
var AllStates = []State{
	StateCollected,
	StateAnalyzing,
	StateAnalyzed,
	StateClassified,
	StatePublished,
	StateReleased,
	StateRejected,
}

var transitions = map[State]map[State]struct{}{
	StateCollected:  set(StateAnalyzing, StateAnalyzed, StateClassified, StateRejected),
	StateAnalyzing:  set(StateAnalyzed, StateCollected, StateRejected),
	StateAnalyzed:   set(StateAnalyzed, StateAnalyzing, StateClassified, StateRejected),
	StateClassified: set(StateClassified, StateAnalyzing, StateAnalyzed, StatePublished, StateRejected),
	StatePublished:  set(StatePublished, StateReleased, StateClassified, StateAnalyzed),
	StateReleased:   set(StatePublished, StateClassified, StateAnalyzed),
	StateRejected:   set(StateAnalyzing, StateCollected, StateAnalyzed),
}

// rank orders states for the merge-on-load rule. REJECTED is handled separately.
var rank = map[State]int{
	StateCollected:  0,
	StateAnalyzing:  1,
	StateAnalyzed:   2,
	StateClassified: 3,
	StatePublished:  4,
	StateReleased:   5,
}

func set(states ...State) map[State]struct{} {
	out := make(map[State]struct{}, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}

// ParseState resolves a state name case-insensitively.
func ParseState(value string) (State, error) {
	candidate := State(strings.ToUpper(strings.TrimSpace(value)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown state %q", value)
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s State) String() string {
	return string(s)
}

// CanTransition reports whether the static table allows from -> to.
func CanTransition(from, to State) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Targets returns the states reachable from s.
func Targets(s State) []State {
	var out []State
	for _, candidate := range AllStates {
		if CanTransition(s, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// Rank returns the pipeline position of s; REJECTED ranks -1.
func Rank(s State) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// IsProtected reports whether s may never be downgraded by reconciliation.
func IsProtected(s State) bool {
	return s == StatePublished || s == StateReleased
}

// IsLazy reports whether articles in s are loaded on first access instead of at startup.
func IsLazy(s State) bool {
	return IsProtected(s)
}

// MoreAdvanced reports whether a should replace b when both copies are found while loading.
// REJECTED always wins; otherwise the higher rank wins.
func MoreAdvanced(a, b State) bool {
	if a == b {
		return false
	}
	if a == StateRejected {
		return true
	}
	if b == StateRejected {
		return false
	}
	return Rank(a) > Rank(b)
}

// ValidateTransition runs the static and data-gated checks for moving article to target.
// The article must already carry any section data that accompanies the request.
func ValidateTransition(article Article, to State) error {
	from := article.Header.State
	if !to.Valid() {
		return fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not allowed", ErrInvalidTransition, from, to)
	}

	switch to {
	case StateAnalyzed:
		if article.Analysis == nil {
			return fmt.Errorf("%w: %s requires analysis data", ErrInvalidTransition, to)
		}
	case StateClassified:
		if article.Analysis == nil {
			return fmt.Errorf("%w: %s requires analysis data", ErrInvalidTransition, to)
		}
		if article.Classification == nil || strings.TrimSpace(article.Classification.Category) == "" {
			return fmt.Errorf("%w: %s requires a category", ErrInvalidTransition, to)
		}
	case StatePublished:
		if article.Analysis == nil || article.Classification == nil {
			return fmt.Errorf("%w: %s requires analysis and classification", ErrInvalidTransition, to)
		}
		if article.Publication == nil || strings.TrimSpace(article.Publication.EditionCode) == "" {
			return fmt.Errorf("%w: %s requires an edition code", ErrInvalidTransition, to)
		}
	}

	return nil
}
