package beam

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Search decodes sequences from a Stepper oracle using beam search. A
// Search is stateless between Decode calls and safe for concurrent use;
// every call owns its own working set.
type Search struct {
	step Stepper
	cfg  Config
}

// New returns a Search over the given oracle. Config limits are validated
// on Decode, not here.
func New(step Stepper, cfg Config) *Search {
	return &Search{step: step, cfg: cfg}
}

// Decode runs beam search from the given initial state (normally produced
// by an Encoder) and returns the lowest-scoring final hypothesis. The
// context is checked between rounds; cancelling it aborts the decode with
// the context's error and nothing to clean up.
func (s *Search) Decode(ctx context.Context, initial State) (*Result, error) {
	if s.cfg.Width < 1 {
		return nil, fmt.Errorf("%w: beam width %d, want >= 1", ErrInvalidArgument, s.cfg.Width)
	}
	if s.cfg.MaxSteps < 1 {
		return nil, fmt.Errorf("%w: max steps %d, want >= 1", ErrInvalidArgument, s.cfg.MaxSteps)
	}

	var seq uint64
	working := []*Hypothesis{{
		Tokens: []int{s.cfg.Start},
		State:  initial,
		live:   true,
		seq:    seq,
	}}
	seq++

	steps := 0
	for round := 1; round <= s.cfg.MaxSteps; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		live := make([]*Hypothesis, 0, len(working))
		for _, h := range working {
			if h.live {
				live = append(live, h)
			}
		}
		if len(live) == 0 {
			break
		}

		expansions, err := s.expand(live, round)
		if err != nil {
			return nil, err
		}

		// Merge barrier: every expansion above has completed. Candidates
		// enter the pool in creation order so ranking ties stay total.
		pool := newCandidatePool(s.cfg.Width)
		for _, h := range working {
			if !h.live {
				pool.offer(h)
			}
		}
		for i, exp := range expansions {
			parent := live[i]
			for j, t := range exp.tokens {
				pool.offer(&Hypothesis{
					Tokens: appendToken(parent.Tokens, t),
					Score:  parent.Score - math.Log(float64(exp.probs[j])),
					State:  exp.state,
					live:   t != s.cfg.Stop,
					seq:    seq,
				})
				seq++
			}
		}
		working = pool.drain()
		steps++
	}

	best := working[0]
	return &Result{
		Tokens:   best.Tokens,
		Score:    best.Score,
		Finished: !best.live,
		Steps:    steps,
	}, nil
}

// expansion holds one live hypothesis's surviving candidates: the top
// tokens of its distribution, their probabilities, and the advanced state
// shared by all of its children.
type expansion struct {
	tokens []int
	probs  []float32
	state  State
}

func (s *Search) expand(live []*Hypothesis, round int) ([]expansion, error) {
	if s.cfg.Parallel > 1 && len(live) > 1 {
		return s.expandParallel(live, round)
	}
	out := make([]expansion, len(live))
	for i, h := range live {
		exp, err := s.expandOne(h, round)
		if err != nil {
			return nil, err
		}
		out[i] = exp
	}
	return out, nil
}

// expandParallel fans the round's oracle calls out over a bounded set of
// workers. Results land in per-hypothesis slots, so the merge order and
// the first reported error match sequential execution exactly.
func (s *Search) expandParallel(live []*Hypothesis, round int) ([]expansion, error) {
	workers := s.cfg.Parallel
	if workers > len(live) {
		workers = len(live)
	}

	out := make([]expansion, len(live))
	errs := make([]error, len(live))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(start int) {
			defer wg.Done()
			for i := start; i < len(live); i += workers {
				out[i], errs[i] = s.expandOne(live[i], round)
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Search) expandOne(h *Hypothesis, round int) (expansion, error) {
	probs, next, err := s.step.Step(h.Tokens[len(h.Tokens)-1], h.State)
	if err != nil {
		return expansion{}, &StepError{Round: round, Err: err}
	}
	if err := checkDistribution(probs); err != nil {
		return expansion{}, &StepError{Round: round, Err: err}
	}
	tokens, top := topTokens(probs, s.cfg.Width)
	return expansion{tokens: tokens, probs: top, state: next}, nil
}

// checkDistribution rejects oracle output the scoring step cannot trust.
// A zero entry is fine (it costs +Inf and gets pruned); a negative entry
// or a non-positive, non-finite sum is not.
func checkDistribution(probs []float32) error {
	if len(probs) == 0 {
		return fmt.Errorf("%w: empty", ErrBadDistribution)
	}
	var sum float64
	for i, p := range probs {
		if p < 0 {
			return fmt.Errorf("%w: negative probability %g at token %d", ErrBadDistribution, p, i)
		}
		sum += float64(p)
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum <= 0 {
		return fmt.Errorf("%w: sum %g over %d tokens", ErrBadDistribution, sum, len(probs))
	}
	return nil
}

// topTokens selects the k highest-probability token ids by insertion into
// a small sorted prefix. The strict comparison keeps earlier insertions
// ahead on equal values, so ties resolve to the ascending token id.
func topTokens(probs []float32, k int) ([]int, []float32) {
	if k > len(probs) {
		k = len(probs)
	}
	idx := make([]int, 0, k+1)
	val := make([]float32, 0, k+1)
	for i, p := range probs {
		pos := len(val)
		for pos > 0 && val[pos-1] < p {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		val = append(val, 0)
		copy(idx[pos+1:], idx[pos:])
		copy(val[pos+1:], val[pos:])
		idx[pos] = i
		val[pos] = p
		if len(val) > k {
			idx = idx[:k]
			val = val[:k]
		}
	}
	return idx, val
}

// appendToken copies rather than appends: sibling children share the
// parent's prefix and must not alias its backing array.
func appendToken(tokens []int, t int) []int {
	out := make([]int, len(tokens)+1)
	copy(out, tokens)
	out[len(tokens)] = t
	return out
}
