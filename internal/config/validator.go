package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - Required fields and sane session tuning
//   - Duplicate template names and duplicate component or signal names inside a template
//   - Components that instantiate unknown templates
//   - Wires whose endpoints name unknown signals
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	s := cfg.Session
	if s.BackendURL != "" {
		if u, err := url.Parse(s.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("session.backend_url %q is not an absolute URL", s.BackendURL))
		}
	}
	if s.FetchTimeoutMs < 0 || s.FetchRetries < 0 || s.RetryDelayMs < 0 {
		errs = append(errs, "session: timeouts and retries must not be negative")
	}
	if s.ExpandWorkers < 1 || s.QueueDepth < 1 {
		errs = append(errs, "session: expand_workers and queue_depth must be positive")
	}

	templates := make(map[string]*Template, len(cfg.Catalog.Templates))
	for i := range cfg.Catalog.Templates {
		t := &cfg.Catalog.Templates[i]
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("catalog.templates[%d]: name is required", i))
			continue
		}
		if _, dup := templates[t.Name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate template %q", t.Name))
			continue
		}
		templates[t.Name] = t
	}
	// With no templates listed, main names a template of the source file
	// and is checked once that file is parsed.
	switch {
	case len(templates) == 0:
	case cfg.Catalog.Main == "":
		errs = append(errs, "catalog.main is required when templates are defined")
	default:
		if _, ok := templates[cfg.Catalog.Main]; !ok {
			errs = append(errs, fmt.Sprintf("catalog.main: unknown template %q", cfg.Catalog.Main))
		}
	}

	for _, t := range templates {
		validateTemplate(t, templates, &errs)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateTemplate(t *Template, templates map[string]*Template, errs *[]string) {
	loc := fmt.Sprintf("template %s", t.Name)
	signals := make(map[string]string) // name → kind
	for kind, names := range map[string][]string{"input": t.Inputs, "output": t.Outputs, "intermediate": t.Intermediates} {
		for _, n := range names {
			if prev, dup := signals[n]; dup {
				*errs = append(*errs, fmt.Sprintf("%s: signal %q declared as both %s and %s", loc, n, prev, kind))
				continue
			}
			signals[n] = kind
		}
	}

	comps := make(map[string]*Template, len(t.Components))
	for j, c := range t.Components {
		if c.Name == "" {
			*errs = append(*errs, fmt.Sprintf("%s.components[%d]: name is required", loc, j))
			continue
		}
		if _, dup := comps[c.Name]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate component %q", loc, c.Name))
			continue
		}
		if _, clash := signals[c.Name]; clash {
			*errs = append(*errs, fmt.Sprintf("%s: component %q shadows a signal", loc, c.Name))
		}
		sub, ok := templates[c.Template]
		if !ok {
			*errs = append(*errs, fmt.Sprintf("%s: component %s uses unknown template %q", loc, c.Name, c.Template))
		}
		comps[c.Name] = sub
	}

	for j, w := range t.Wires {
		for _, end := range []string{w.From, w.To} {
			if msg := checkWireEnd(end, signals, comps); msg != "" {
				*errs = append(*errs, fmt.Sprintf("%s.wires[%d]: %s", loc, j, msg))
			}
		}
	}
}

func checkWireEnd(end string, signals map[string]string, comps map[string]*Template) string {
	comp, sig, dotted := strings.Cut(end, ".")
	if !dotted {
		if _, ok := signals[end]; !ok {
			return fmt.Sprintf("unknown signal %q", end)
		}
		return ""
	}
	sub, ok := comps[comp]
	if !ok {
		return fmt.Sprintf("unknown component %q", comp)
	}
	if sub == nil {
		return "" // unknown template, reported on the component
	}
	for _, names := range [][]string{sub.Inputs, sub.Outputs} {
		for _, n := range names {
			if n == sig {
				return ""
			}
		}
	}
	return fmt.Sprintf("component %s (%s) has no input or output %q", comp, sub.Name, sig)
}
