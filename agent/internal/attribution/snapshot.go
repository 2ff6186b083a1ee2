package attribution

import "time"

// ScoreSnapshot is an immutable copy of the engine's derived metrics at one
// instant. Nothing in it aliases live engine state.
type ScoreSnapshot struct {
	// Channels lists channel names in registry order, for stable iteration.
	Channels []string

	TotalConversions int64
	TotalValue       float64

	// ChannelValue is the credited conversion value per channel.
	ChannelValue map[string]float64
	// ChannelConversions is the credited conversion count per channel.
	ChannelConversions map[string]float64
	// Shares is ChannelValue / TotalValue, or all zero when TotalValue is 0.
	Shares map[string]float64

	// Transitions is exposed for path-aware models; current consumers do not
	// interpret it.
	Transitions TransitionMatrix

	// Model names the credit rule that produced ChannelValue.
	Model string

	Timestamp time.Time
}

// ShareSum returns the sum of all channel shares: 1 (within float error)
// once any value has been recorded, 0 before.
func (s ScoreSnapshot) ShareSum() float64 {
	var sum float64
	for _, c := range s.Channels {
		sum += s.Shares[c]
	}
	return sum
}

// Top returns the channel with the largest credited value and its share.
// Ties resolve to the earlier channel in registry order. ok is false when
// no value has been recorded.
func (s ScoreSnapshot) Top() (channel string, share float64, ok bool) {
	if s.TotalValue <= 0 {
		return "", 0, false
	}
	for _, c := range s.Channels {
		if channel == "" || s.ChannelValue[c] > s.ChannelValue[channel] {
			channel = c
		}
	}
	return channel, s.Shares[channel], true
}
