package model

import (
	"github.com/s4sarath/rosetta/internal/tensor"
)

// Layer holds the parameters of one GRU layer. W* project the layer
// input, U* project the previous hidden state, B* are gate biases.
type Layer struct {
	Wz, Uz *tensor.Mat
	Bz     []float32
	Wr, Ur *tensor.Mat
	Br     []float32
	Wh, Uh *tensor.Mat
	Bh     []float32
}

type gruScratch struct {
	z, r, rh, hc, tmp []float32
}

func newGRUScratch(hidden int) *gruScratch {
	return &gruScratch{
		z:   make([]float32, hidden),
		r:   make([]float32, hidden),
		rh:  make([]float32, hidden),
		hc:  make([]float32, hidden),
		tmp: make([]float32, hidden),
	}
}

// step computes one GRU cell update:
//
//	z = sigmoid(Wz x + Uz h + Bz)
//	r = sigmoid(Wr x + Ur h + Br)
//	c = tanh(Wh x + Uh (r*h) + Bh)
//	h' = (1-z)*h + z*c
//
// The input hidden vector h is not modified; a fresh h' is returned.
func (l *Layer) step(x, h []float32, s *gruScratch) []float32 {
	tensor.MatVec(s.z, l.Wz, x)
	tensor.MatVec(s.tmp, l.Uz, h)
	tensor.Add(s.z, s.tmp)
	tensor.Add(s.z, l.Bz)
	for i := range s.z {
		s.z[i] = tensor.Sigmoid(s.z[i])
	}

	tensor.MatVec(s.r, l.Wr, x)
	tensor.MatVec(s.tmp, l.Ur, h)
	tensor.Add(s.r, s.tmp)
	tensor.Add(s.r, l.Br)
	for i := range s.r {
		s.r[i] = tensor.Sigmoid(s.r[i])
	}

	for i := range s.rh {
		s.rh[i] = s.r[i] * h[i]
	}
	tensor.MatVec(s.hc, l.Wh, x)
	tensor.MatVec(s.tmp, l.Uh, s.rh)
	tensor.Add(s.hc, s.tmp)
	tensor.Add(s.hc, l.Bh)
	for i := range s.hc {
		s.hc[i] = tensor.Tanh(s.hc[i])
	}

	out := make([]float32, len(h))
	for i := range out {
		out[i] = (1-s.z[i])*h[i] + s.z[i]*s.hc[i]
	}
	return out
}
