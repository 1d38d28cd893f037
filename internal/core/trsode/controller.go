package trsode

import (
	"math"
	"sync"

	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

const maxSteps = 1_000_000_000

// Stats holds monotonic controller bookkeeping. Stats is reset only by
// ResetStats; every other mutation only ever increases steps/total_time or
// replaces the last-measured scalars.
type Stats struct {
	Steps            uint64
	TotalTime        float64
	LastDt           float64
	TRSLoss          float64
	MaxPositionError float64
	MaxMomentumError float64
}

// Controller advances phase-space state with a chosen symplectic scheme
// and tracks reversibility statistics. A Controller is not safe for
// concurrent use by multiple callers driving Step/Integrate at once, but
// its own stat bookkeeping is internally synchronized so that Stats() may
// be read from another goroutine.
type Controller struct {
	dt        float64
	lambdaTRS float64
	method    Method
	f         DynamicsFunc

	mu     sync.Mutex
	stats  Stats
	scratch []float64 // hoisted per-step derivative buffer
}

// NewController validates parameters and constructs a Controller. dt must
// satisfy 0 < dt < 1; lambdaTRS must be non-negative.
func NewController(dt, lambdaTRS float64, method Method, f DynamicsFunc) (*Controller, error) {
	if !isFinite(dt) || dt <= 0 || dt >= 1 {
		return nil, psierr.New(psierr.InvalidParameter, "dt must satisfy 0 < dt < 1")
	}
	if !isFinite(lambdaTRS) || lambdaTRS < 0 {
		return nil, psierr.New(psierr.InvalidParameter, "lambda_trs must be non-negative")
	}
	if f == nil {
		return nil, psierr.New(psierr.InvalidParameter, "dynamics function must not be nil")
	}
	switch method {
	case VelocityVerlet, Yoshida4:
	default:
		return nil, psierr.New(psierr.InvalidParameter, "unknown integration method")
	}
	return &Controller{dt: dt, lambdaTRS: lambdaTRS, method: method, f: f}, nil
}

// Dt returns the configured step size.
func (c *Controller) Dt() float64 { return c.dt }

// Method returns the configured integration scheme.
func (c *Controller) Method() Method { return c.method }

// Stats returns a copy of the current statistics.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats zeroes all statistics.
func (c *Controller) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

func (c *Controller) ensureScratch(n int) {
	if cap(c.scratch) < n {
		c.scratch = make([]float64, n)
	}
	c.scratch = c.scratch[:n]
}

// Step advances (t, s) by exactly one dt, recording stats on success. On
// failure t is returned unchanged and s is restored to the values it held
// before the call.
func (c *Controller) Step(t float64, s []float64) (float64, error) {
	c.ensureScratch(len(s))
	backup := make([]float64, len(s))
	copy(backup, s)
	newT, err := step(c.method, t, s, c.dt, c.f, c.scratch)
	if err != nil {
		copy(s, backup)
		return t, err
	}
	c.mu.Lock()
	c.stats.Steps++
	c.stats.TotalTime += c.dt
	c.stats.LastDt = c.dt
	c.mu.Unlock()
	return newT, nil
}

// Reverse negates time and the momentum half of s in place.
func (c *Controller) Reverse(t float64, s []float64) (float64, error) {
	return reverse(t, s)
}

// Integrate advances (t, s) forward by n steps.
func (c *Controller) Integrate(t float64, s []float64, n uint64) (float64, error) {
	if n > maxSteps {
		return t, psierr.New(psierr.InvalidParameter, "step count exceeds 1e9")
	}
	var err error
	for i := uint64(0); i < n; i++ {
		t, err = c.Step(t, s)
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

// IntegrateBackward integrates n steps in reverse time via the reversal
// sandwich: reverse, integrate forward n steps, reverse again.
func (c *Controller) IntegrateBackward(t float64, s []float64, n uint64) (float64, error) {
	if n > maxSteps {
		return t, psierr.New(psierr.InvalidParameter, "step count exceeds 1e9")
	}
	t, err := c.Reverse(t, s)
	if err != nil {
		return t, err
	}
	t, err = c.Integrate(t, s, n)
	if err != nil {
		return t, err
	}
	return c.Reverse(t, s)
}

// IntegrateTo advances or reverses (t, s) to reach t_target, snapping t
// exactly to t_target on success.
func (c *Controller) IntegrateTo(t float64, s []float64, tTarget float64) (float64, error) {
	if !isFinite(tTarget) {
		return t, psierr.New(psierr.InvalidParameter, "target time must be finite")
	}
	if math.Abs(tTarget-t) < 1e-10 {
		return tTarget, nil
	}
	n := uint64(math.Ceil(math.Abs(tTarget-t) / c.dt))
	if n > maxSteps {
		return t, psierr.New(psierr.InvalidParameter, "implied step count exceeds 1e9")
	}
	var err error
	if tTarget > t {
		t, err = c.Integrate(t, s, n)
	} else {
		t, err = c.IntegrateBackward(t, s, n)
	}
	if err != nil {
		return t, err
	}
	return tTarget, nil
}

// TRSLoss computes the round-trip discrepancy between an initial and
// final phase-space state, per spec: position term over q, momentum term
// over p with a PLUS sign (a correctly reversed state has negated
// momenta).
func (c *Controller) TRSLoss(s0, sf []float64) (float64, error) {
	if len(s0) != len(sf) || len(s0)%2 != 0 {
		return 0, psierr.New(psierr.DimensionMismatch, "state length mismatch or odd length")
	}
	d := len(s0) / 2
	var posErr, momErr float64
	for i := 0; i < d; i++ {
		dq := s0[i] - sf[i]
		posErr += dq * dq
	}
	for i := d; i < len(s0); i++ {
		dp := s0[i] + sf[i]
		momErr += dp * dp
	}
	c.mu.Lock()
	if posErr > c.stats.MaxPositionError {
		c.stats.MaxPositionError = posErr
	}
	if momErr > c.stats.MaxMomentumError {
		c.stats.MaxMomentumError = momErr
	}
	c.mu.Unlock()
	return posErr + c.lambdaTRS*momErr, nil
}

// CheckReversibility clones s0, forward-integrates n steps, then
// backward-integrates n steps, and returns the TRS loss between s0 and
// the round-tripped state. It updates the trs_loss stat.
func (c *Controller) CheckReversibility(t0 float64, s0 []float64, n uint64) (float64, error) {
	sf := make([]float64, len(s0))
	copy(sf, s0)

	t, err := c.Integrate(t0, sf, n)
	if err != nil {
		return 0, err
	}
	_, err = c.IntegrateBackward(t, sf, n)
	if err != nil {
		return 0, err
	}

	loss, err := c.TRSLoss(s0, sf)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.stats.TRSLoss = loss
	c.mu.Unlock()
	return loss, nil
}
