// Package sdp provides a small dense semidefinite-program solver used by
// the SDP bound propagator. Problems are stated over one symmetric
// matrix variable X:
//
//	minimize   <C, X>
//	subject to <A_i, X>  = b_i
//	           <G_j, X> <= h_j
//	           X PSD
//
// The solver is an ADMM splitting between the affine constraint set
// (dense least-squares projection, factorization cached per problem) and
// the PSD cone (eigenvalue clipping). Non-convergence within the
// iteration budget or deadline is reported as [ErrNotConverged]; callers
// must treat that as a failed bound, never as a usable value.
package sdp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotConverged reports that the solver hit its iteration or time
// budget before the residuals dropped below tolerance.
var ErrNotConverged = errors.New("sdp: solver did not converge")

// ErrInfeasible reports an inconsistent constraint system.
var ErrInfeasible = errors.New("sdp: problem infeasible")

// Problem is one SDP instance. All constraint matrices must share the
// dimension of C.
type Problem struct {
	C *mat.SymDense

	A []*mat.SymDense // equality constraint matrices
	B []float64       // equality right-hand sides

	G []*mat.SymDense // inequality constraint matrices
	H []float64       // inequality right-hand sides
}

// Options tunes the ADMM loop.
type Options struct {
	MaxIter int
	Tol     float64
	Rho     float64
}

// DefaultOptions returns the tuning used by the propagators.
func DefaultOptions() Options {
	return Options{MaxIter: 20000, Tol: 1e-6, Rho: 1.0}
}

// Result carries the converged objective and solver diagnostics.
type Result struct {
	Objective  float64
	Iterations int
	PrimalRes  float64
	EqRes      float64
}

// Solve runs ADMM until convergence, iteration exhaustion, or context
// cancellation. The returned objective includes a residual-proportional
// inflation so that a converged result errs on the loose (sound) side.
func Solve(ctx context.Context, p *Problem, opts Options) (*Result, error) {
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultOptions().Tol
	}
	if opts.Rho <= 0 {
		opts.Rho = DefaultOptions().Rho
	}

	n := p.C.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("sdp: empty objective matrix")
	}
	for i, a := range p.A {
		if a.SymmetricDim() != n {
			return nil, fmt.Errorf("sdp: equality %d has dim %d, want %d", i, a.SymmetricDim(), n)
		}
	}
	for j, g := range p.G {
		if g.SymmetricDim() != n {
			return nil, fmt.Errorf("sdp: inequality %d has dim %d, want %d", j, g.SymmetricDim(), n)
		}
	}
	if len(p.A) != len(p.B) || len(p.G) != len(p.H) {
		return nil, fmt.Errorf("sdp: constraint/rhs length mismatch")
	}

	d := n * (n + 1) / 2 // svec length
	q := len(p.G)        // slack count
	width := d + q
	rows := len(p.A) + q

	// Constraint matrix M over (svec(X), s) and right-hand side.
	m := mat.NewDense(rows, width, nil)
	rhs := mat.NewVecDense(rows, nil)
	for i, a := range p.A {
		sv := svec(a)
		for k, v := range sv {
			m.Set(i, k, v)
		}
		rhs.SetVec(i, p.B[i])
	}
	for j, g := range p.G {
		row := len(p.A) + j
		sv := svec(g)
		for k, v := range sv {
			m.Set(row, k, v)
		}
		m.Set(row, d+j, 1)
		rhs.SetVec(row, p.H[j])
	}

	// Cached normal-equation factorization for the affine projection,
	// lightly regularized against dependent constraints.
	var mmt mat.Dense
	mmt.Mul(m, m.T())
	for i := 0; i < rows; i++ {
		mmt.Set(i, i, mmt.At(i, i)+1e-12)
	}
	var lu mat.LU
	lu.Factorize(&mmt)

	cvec := mat.NewVecDense(width, nil)
	for k, v := range svec(p.C) {
		cvec.SetVec(k, v)
	}

	rho := opts.Rho
	w := mat.NewVecDense(width, nil)
	z := mat.NewVecDense(width, nil)
	u := mat.NewVecDense(width, nil)
	v := mat.NewVecDense(width, nil)
	zPrev := mat.NewVecDense(width, nil)

	project := func(dst, src *mat.VecDense) error {
		// dst = src - M'(MM')^{-1}(M src - rhs)
		var residual mat.VecDense
		residual.MulVec(m, src)
		residual.SubVec(&residual, rhs)
		var lambda mat.VecDense
		if err := lu.SolveVecTo(&lambda, false, &residual); err != nil {
			return ErrInfeasible
		}
		var corr mat.VecDense
		corr.MulVec(m.T(), &lambda)
		dst.SubVec(src, &corr)
		return nil
	}

	iter := 0
	for ; iter < opts.MaxIter; iter++ {
		if iter%64 == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrNotConverged, ctx.Err())
			default:
			}
		}

		// w-update: affine projection of z - u - c/rho.
		v.SubVec(z, u)
		v.AddScaledVec(v, -1/rho, cvec)
		if err := project(w, v); err != nil {
			return nil, err
		}

		// z-update: cone projection of w + u.
		zPrev.CopyVec(z)
		v.AddVec(w, u)
		projectCone(z, v, n, d)

		// dual update
		v.SubVec(w, z)
		u.AddVec(u, v)

		primal := infNorm(v)
		var dual mat.VecDense
		dual.SubVec(z, zPrev)
		if primal < opts.Tol && rho*infNorm(&dual) < opts.Tol {
			var eqRes mat.VecDense
			eqRes.MulVec(m, z)
			eqRes.SubVec(&eqRes, rhs)
			if infNorm(&eqRes) > 100*opts.Tol {
				return nil, ErrInfeasible
			}
			obj := mat.Dot(cvec, z)
			// The iterate is only approximately optimal, so pad the
			// minimum downward; a reported value must never exceed the
			// true minimum or a caller-side negation would tighten an
			// upper bound it has no right to tighten.
			margin := 100 * opts.Tol * (1 + math.Abs(obj))
			return &Result{
				Objective:  obj - margin,
				Iterations: iter + 1,
				PrimalRes:  primal,
				EqRes:      infNorm(&eqRes),
			}, nil
		}
	}
	return nil, ErrNotConverged
}

// projectCone projects the svec part onto the PSD cone and clips the
// slack part at zero.
func projectCone(dst, src *mat.VecDense, n, d int) {
	x := unsvec(src, n)
	var eig mat.EigenSym
	if !eig.Factorize(x, true) {
		// Eigendecomposition failure on a symmetric matrix means the
		// iterate has gone non-finite; zeroing restarts the cone block.
		for k := 0; k < dst.Len(); k++ {
			dst.SetVec(k, 0)
		}
		return
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	proj := mat.NewSymDense(n, nil)
	for e, lambda := range vals {
		if lambda <= 0 {
			continue
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				proj.SetSym(i, j, proj.At(i, j)+lambda*vecs.At(i, e)*vecs.At(j, e))
			}
		}
	}
	for k, vv := range svec(proj) {
		dst.SetVec(k, vv)
	}
	for k := d; k < src.Len(); k++ {
		dst.SetVec(k, math.Max(0, src.AtVec(k)))
	}
}

// svec packs a symmetric matrix into a vector with off-diagonals scaled
// by sqrt(2), preserving the Frobenius inner product.
func svec(s *mat.SymDense) []float64 {
	n := s.SymmetricDim()
	out := make([]float64, n*(n+1)/2)
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				out[k] = s.At(i, j)
			} else {
				out[k] = math.Sqrt2 * s.At(i, j)
			}
			k++
		}
	}
	return out
}

func unsvec(v *mat.VecDense, n int) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				s.SetSym(i, j, v.AtVec(k))
			} else {
				s.SetSym(i, j, v.AtVec(k)/math.Sqrt2)
			}
			k++
		}
	}
	return s
}

func infNorm(v *mat.VecDense) float64 {
	m := 0.0
	for i := 0; i < v.Len(); i++ {
		m = math.Max(m, math.Abs(v.AtVec(i)))
	}
	return m
}
