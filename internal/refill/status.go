package refill

import "time"

// ChannelStatus is a read-only view of one channel
type ChannelStatus struct {
	Channel           Channel       `json:"channel"`
	State             State         `json:"state"`
	LastDecision      Decision      `json:"last_decision"`
	LastCheckAt       *time.Time    `json:"last_check_at,omitempty"`
	LastActionAt      *time.Time    `json:"last_action_at,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

// Status reports every channel in evaluation order
func (o *Orchestrator) Status() []ChannelStatus {
	now := o.opts.Clock()
	out := make([]ChannelStatus, 0, len(Channels))
	for _, ch := range Channels {
		cs := o.channels[ch]
		cs.mu.Lock()
		st := ChannelStatus{
			Channel:      ch,
			State:        cs.state,
			LastDecision: cs.lastDecision,
		}
		if !cs.lastCheckAt.IsZero() {
			t := cs.lastCheckAt
			st.LastCheckAt = &t
		}
		if cs.lastActionAt != nil {
			t := *cs.lastActionAt
			st.LastActionAt = &t
			if remaining := o.opts.Cooldown - now.Sub(t); remaining > 0 {
				st.CooldownRemaining = remaining
			}
		}
		cs.mu.Unlock()
		out = append(out, st)
	}
	return out
}
