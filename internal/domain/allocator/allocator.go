// Package allocator implements the per-(cycle, county) voucher code
// minting sequence.
package allocator

import "fmt"

// State is a single (cycle, county) sequence counter.
type State struct {
	CycleID      string
	County       string
	NextSequence int64
}

// Initial returns a fresh counter starting at 1.
func Initial(cycleID, county string) State {
	return State{CycleID: cycleID, County: county, NextSequence: 1}
}

// MintResult is the code and post-increment state from a mint.
type MintResult struct {
	Code  string
	State State
}

// Mint assigns the current sequence number to a voucher code formatted
// `{CYCLE_SHORT}-{COUNTY}-{SEQ}` and advances the counter.
func Mint(s State, cycleShort string) MintResult {
	code := fmt.Sprintf("%s-%s-%04d", cycleShort, s.County, s.NextSequence)
	s.NextSequence++
	return MintResult{Code: code, State: s}
}
