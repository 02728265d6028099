// Package theme holds the colour palette the styled logger uses, adapted
// from thushan/olla's theme package and trimmed to the handful of styles
// this proxy's log call sites actually use.
package theme

import "github.com/pterm/pterm"

// Theme groups the pterm styles used to highlight specific kinds of values
// in log output: endpoints, byte/hit counters, cache verdicts.
type Theme struct {
	Endpoint  *pterm.Style
	Counter   *pterm.Style
	CacheHit  *pterm.Style
	CacheMiss *pterm.Style
	Muted     *pterm.Style
}

// Default returns the proxy's only theme. Unlike the teacher, which exposes
// Dark/Light variants selectable via config, this proxy has no terminal UI
// surface that would make a theme choice meaningful beyond log colouring, so
// a single palette is enough.
func Default() *Theme {
	return &Theme{
		Endpoint:  pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Counter:   pterm.NewStyle(pterm.FgMagenta),
		CacheHit:  pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		CacheMiss: pterm.NewStyle(pterm.FgYellow),
		Muted:     pterm.NewStyle(pterm.FgGray),
	}
}
