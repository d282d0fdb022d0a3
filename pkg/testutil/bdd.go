package testutil

import "testing"

// Scenario runs Given/When/Then/And steps as ordered subtests of t. Once a
// step fails the remaining steps are reported as skipped, since each step
// builds on the state left by the one before it.
//
//	testutil.NewScenario(t).
//		Given("ariel registered by K1", ...).
//		When("K1 sets the destination", ...).
//		Then("K2 cannot transfer", ...).
//		And("K1 can", ...)
type Scenario struct {
	t      *testing.T
	failed string
}

func NewScenario(t *testing.T) *Scenario {
	return &Scenario{t: t}
}

func (s *Scenario) Given(desc string, fn func(t *testing.T)) *Scenario {
	s.t.Helper()
	return s.step("Given", desc, fn)
}

func (s *Scenario) When(desc string, fn func(t *testing.T)) *Scenario {
	s.t.Helper()
	return s.step("When", desc, fn)
}

func (s *Scenario) Then(desc string, fn func(t *testing.T)) *Scenario {
	s.t.Helper()
	return s.step("Then", desc, fn)
}

func (s *Scenario) And(desc string, fn func(t *testing.T)) *Scenario {
	s.t.Helper()
	return s.step("And", desc, fn)
}

func (s *Scenario) step(keyword, desc string, fn func(t *testing.T)) *Scenario {
	s.t.Helper()
	name := keyword + " " + desc
	if s.failed != "" {
		s.t.Run(name, func(t *testing.T) {
			t.Skipf("skipped after failed step %q", s.failed)
		})
		return s
	}
	if !s.t.Run(name, fn) {
		s.failed = name
	}
	return s
}
