package gap

// Policy is the evaluator's verdict for a single query: which of
// Answer/Forward/Indirect are permitted. All three false means Drop.
type Policy struct {
	Answer   bool
	Forward  bool
	Indirect bool
}

// Dropped reports whether the policy amounts to an outright drop.
func (p Policy) Dropped() bool {
	return !p.Answer && !p.Forward && !p.Indirect
}

// evaluate applies the load- and trust-driven admission policy: idle load
// admits everything, and as load rises the effective priority (trust spent
// on the sender's behalf) must widen to keep forwarding and indirection
// permitted, until full load drops the query outright.
func evaluate(sender PeerId, declaredPriority uint32, load Load, identity Identity) (Policy, int32) {
	uploadLoad, ok := load.NetUploadPercent()
	if !ok || uploadLoad < IdleLoadThreshold {
		return Policy{Answer: true, Forward: true, Indirect: true}, 0
	}

	effectivePriority := -identity.ChangeTrust(sender, -int32(declaredPriority))

	switch {
	case uploadLoad < IdleLoadThreshold+int(effectivePriority):
		return Policy{Answer: true, Forward: true, Indirect: true}, effectivePriority
	case uploadLoad < 90+10*int(effectivePriority):
		return Policy{Answer: true, Forward: true}, effectivePriority
	case uploadLoad < 100:
		return Policy{Answer: true}, effectivePriority
	default:
		return Policy{}, effectivePriority
	}
}
