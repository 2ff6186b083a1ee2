// Package simulator generates a synthetic ad event stream and feeds the
// conversion paths it produces into an attribution engine.
//
// Events are drawn by weight (impressions dominate, then clicks, then
// conversions). Impressions append touchpoints to user sessions, a click
// lands on a session's latest touchpoint, and a conversion closes a session
// and hands its channel path and value to a ConversionSink.
//
// Counters() exposes cumulative totals for the health scraper.
package simulator
