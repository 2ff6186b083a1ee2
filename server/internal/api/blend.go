package api

import (
	"sort"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/store"
)

// blend merges the credit of every live source into one view. Channel value
// is summed across sources and shares are recomputed from the sums, so a
// source with more credited value weighs more. Records without per-channel
// value fall back to share × total_value.
func blend(entries []*store.Entry) AttributionResponse {
	resp := AttributionResponse{
		Channels:           []string{},
		Attribution:        map[string]float64{},
		ChannelValue:       map[string]float64{},
		ChannelConversions: map[string]float64{},
		SourceCount:        len(entries),
	}
	seen := map[string]bool{}
	addChannel := func(ch string) {
		if !seen[ch] {
			seen[ch] = true
			resp.Channels = append(resp.Channels, ch)
		}
	}

	var weightedConf float64
	for _, e := range entries {
		rec := e.Record
		for _, ch := range channelsOf(rec) {
			addChannel(ch)
		}
		values := valuesOf(rec)
		for _, ch := range sortedKeys(values) {
			addChannel(ch)
			resp.ChannelValue[ch] += values[ch]
		}
		for ch, n := range rec.ChannelConversions {
			resp.ChannelConversions[ch] += n
		}
		resp.TotalConversions += rec.TotalConversions
		resp.TotalValue += rec.TotalValue
		weightedConf += rec.AttributionStats.Confidence * float64(rec.TotalConversions)
	}

	var credited float64
	for _, v := range resp.ChannelValue {
		credited += v
	}
	for _, ch := range resp.Channels {
		if credited > 0 {
			resp.Attribution[ch] = resp.ChannelValue[ch] / credited
		} else {
			resp.Attribution[ch] = 0
		}
		if _, ok := resp.ChannelValue[ch]; !ok {
			resp.ChannelValue[ch] = 0
		}
		if _, ok := resp.ChannelConversions[ch]; !ok {
			resp.ChannelConversions[ch] = 0
		}
	}
	if resp.TotalConversions > 0 {
		resp.Confidence = weightedConf / float64(resp.TotalConversions)
	}
	return resp
}

// channelsOf returns the record's channel registry, or its attribution keys
// in name order when the agent did not send one.
func channelsOf(rec *types.MetricsRecord) []string {
	if len(rec.Channels) > 0 {
		return rec.Channels
	}
	return sortedKeys(rec.Attribution)
}

// valuesOf returns credited value per channel.
func valuesOf(rec *types.MetricsRecord) map[string]float64 {
	if len(rec.ChannelValue) > 0 {
		return rec.ChannelValue
	}
	out := make(map[string]float64, len(rec.Attribution))
	for ch, share := range rec.Attribution {
		out[ch] = share * rec.TotalValue
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
