package tee

import (
	"errors"
	"fmt"

	"github.com/a3s-box/box/pkg/errs"
)

// Policy is the set of acceptance criteria a report must satisfy:
// measurement allow-list, minimum TCB, debug disabled, SMT disabled.
// Matches spec.md §4.8's "policy (measurement allow-list, minimum
// TCB, debug=false, SMT, policy mask)".
type Policy struct {
	AllowedMeasurements [][]byte
	MinimumTCB          TCBVersion
	RequireDebugFalse   bool
	DisallowSMT         bool
}

// Evaluate returns nil if r satisfies p, or a *errs.Error of
// KindIntegrity describing the first violation found.
func (p Policy) Evaluate(r Report) error {
	if err := r.Validate(); err != nil {
		return errs.New(errs.KindIntegrity, "tee.policy.evaluate", "", err)
	}
	if p.RequireDebugFalse && r.Policy.Debug {
		return errs.New(errs.KindIntegrity, "tee.policy.evaluate", "", errors.New("guest launched with debug policy enabled"))
	}
	if p.DisallowSMT && r.Policy.SMT {
		return errs.New(errs.KindIntegrity, "tee.policy.evaluate", "", errors.New("guest launched with SMT enabled"))
	}
	if !r.TCB.AtLeast(p.MinimumTCB) {
		return errs.New(errs.KindIntegrity, "tee.policy.evaluate", "", fmt.Errorf("tcb version %+v below minimum %+v", r.TCB, p.MinimumTCB))
	}
	if len(p.AllowedMeasurements) > 0 {
		allowed := false
		for _, m := range p.AllowedMeasurements {
			if MeasurementEquals(m, r.Measurement) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errs.New(errs.KindIntegrity, "tee.policy.evaluate", "", errors.New("measurement not in allow-list"))
		}
	}
	return nil
}
