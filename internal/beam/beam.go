// Package beam implements beam search decoding over an autoregressive
// sequence model.
//
// The engine is model-agnostic: it drives a Stepper oracle that maps a
// previous token plus an opaque state to a next-token probability
// distribution, keeps the Width lowest-cost partial sequences alive, and
// returns the cheapest completed (or length-capped) sequence. Costs are
// accumulated negative log probabilities, so lower is better and scores
// never decrease as a sequence grows.
package beam

// State is an opaque decoder state threaded through Step calls. The engine
// stores and forwards states but never inspects or mutates them.
type State any

// Encoder folds an input token sequence into the initial decoder state.
type Encoder interface {
	Encode(tokens []int) (State, error)
}

// Stepper advances the decoder by one token. probs has one entry per
// vocabulary id and sums to 1. Step must not mutate state in place; the
// advanced state is returned as a new value, and the engine may hand the
// same returned state to several hypotheses.
type Stepper interface {
	Step(prev int, state State) (probs []float32, next State, err error)
}

// Config carries the fixed vocabulary ids and the search limits.
type Config struct {
	// Start and Stop are the sequence delimiter token ids for the target
	// vocabulary. They are configuration, never derived from data.
	Start int
	Stop  int

	// Width is the number of hypotheses kept after each round.
	Width int

	// MaxSteps bounds the number of decoding rounds, and therefore the
	// output length at Width*MaxSteps oracle calls worst case.
	MaxSteps int

	// Parallel bounds concurrent oracle calls within a round. Values
	// below 2 keep expansion sequential. Output is identical either way.
	Parallel int
}

// Hypothesis is one candidate output sequence. Tokens always begins with
// the start token; Score is the accumulated negative log probability of
// the continuation.
type Hypothesis struct {
	Tokens []int
	Score  float64
	State  State

	live bool
	seq  uint64
}

// Live reports whether the hypothesis can still be extended, i.e. it has
// not emitted the stop token.
func (h *Hypothesis) Live() bool { return h.live }

// Result is the outcome of a decode call.
type Result struct {
	// Tokens is the best final sequence, including the start token and,
	// when Finished, the stop token.
	Tokens []int

	// Score is the sequence's accumulated negative log probability.
	Score float64

	// Finished reports whether the sequence emitted the stop token before
	// the round limit.
	Finished bool

	// Steps is the number of decoding rounds executed.
	Steps int
}
