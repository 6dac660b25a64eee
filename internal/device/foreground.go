package device

import (
	"fmt"
	"regexp"
)

// ForegroundScanner finds the foreground application in protocol dump
// output. The pattern's first capture group is the package, the optional
// second group the activity or ability name.
type ForegroundScanner struct {
	re *regexp.Regexp
}

// NewForegroundScanner compiles the marker pattern. The pattern must
// contain at least one capture group.
func NewForegroundScanner(pattern string) (*ForegroundScanner, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid foreground pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("foreground pattern %q has no capture group", pattern)
	}
	return &ForegroundScanner{re: re}, nil
}

// Scan extracts the single foreground application from the dump. Zero
// matches, or matches naming more than one distinct application, yield
// ErrAmbiguousForeground: acting on a guessed foreground app sends taps
// to the wrong surface.
func (s *ForegroundScanner) Scan(output string) (*App, error) {
	matches := s.re.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no foreground marker in dump: %w", ErrAmbiguousForeground)
	}

	var app *App
	for _, m := range matches {
		candidate := &App{Package: m[1]}
		if len(m) > 2 {
			candidate.Activity = m[2]
		}
		if app == nil {
			app = candidate
			continue
		}
		if candidate.Package != app.Package || candidate.Activity != app.Activity {
			return nil, fmt.Errorf("multiple foreground candidates (%s, %s): %w",
				app.Package, candidate.Package, ErrAmbiguousForeground)
		}
	}
	return app, nil
}
