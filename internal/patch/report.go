package patch

import (
	"strings"
	"time"
)

// Status is the outcome of one module.
type Status string

const (
	StatusNotFound       Status = "not found"
	StatusAlreadyPatched Status = "already patched"
	StatusPatched        Status = "patched"
	StatusSkip           Status = "skip"
	StatusFailed         Status = "failed"
)

// Result records what happened to one module.
type Result struct {
	Module        string        `json:"module"`
	Status        Status        `json:"status"`
	Applied       []bool        `json:"applied,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Deobfuscation string        `json:"deobfuscation,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns,omitempty"`
	DeobfElapsed  time.Duration `json:"deobf_elapsed_ns,omitempty"`
}

// Any reports whether at least one transform changed the module.
func (r Result) Any() bool {
	for _, a := range r.Applied {
		if a {
			return true
		}
	}
	return false
}

// Indicator returns one '+' or '-' per transform in declared order.
func (r Result) Indicator() string {
	var b strings.Builder
	for _, a := range r.Applied {
		if a {
			b.WriteByte('+')
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Report is the outcome of one Run.
type Report struct {
	RunID      string    `json:"run_id"`
	Started    time.Time `json:"started"`
	Transforms []string  `json:"transforms"`
	Results    []Result  `json:"results"`
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Legend draws one line per transform, last-declared first, so that each
// '└' sits under that transform's indicator column.
func Legend(names []string) []string {
	n := len(names)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := names[n-1-i]
		lines = append(lines, strings.Repeat("│", n-1-i)+"└"+strings.Repeat("─", i+1)+name)
	}
	return lines
}
