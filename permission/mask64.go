package permission

// Mask64 is a set of actions, one bit per Action.
type Mask64 uint64

// Has reports whether the action's bit is set. Out-of-range actions are never
// held.
func (m Mask64) Has(a Action) bool {
	if a < 0 || a >= actionCount {
		return false
	}
	return m&(1<<uint(a)) != 0
}

// With returns m with the given actions added.
func (m Mask64) With(actions ...Action) Mask64 {
	for _, a := range actions {
		if a < 0 || a >= actionCount {
			continue
		}
		m |= 1 << uint(a)
	}
	return m
}

// Without returns m with the given actions removed.
func (m Mask64) Without(actions ...Action) Mask64 {
	for _, a := range actions {
		if a < 0 || a >= actionCount {
			continue
		}
		m &^= 1 << uint(a)
	}
	return m
}

// Contains reports whether every action in other is also in m.
func (m Mask64) Contains(other Mask64) bool {
	return m&other == other
}

// Actions lists the held actions in ascending order.
func (m Mask64) Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := Action(0); a < actionCount; a++ {
		if m.Has(a) {
			out = append(out, a)
		}
	}
	return out
}
