// Package catalog turns circuit templates, parsed from circom source or
// listed in the config, into subgraph payloads, one template at a time.
//
// A template's subgraph holds one node per sub-component instance and one
// node per intermediate signal. Wires that touch the template's own inputs
// or output leave the node of that endpoint empty; the expansion controller
// rewires such endpoints to the node being expanded.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

// RootComponent is the component name that resolves to the main instance.
const RootComponent = "main"

// Catalog is an immutable index of templates. Reloads build a new Catalog
// and swap it into a Live holder.
type Catalog struct {
	main      string
	templates map[string]*config.Template
	order     []string
}

// Build indexes a validated catalog config.
func Build(cc config.CatalogConf) (*Catalog, error) {
	c := &Catalog{
		main:      cc.Main,
		templates: make(map[string]*config.Template, len(cc.Templates)),
	}
	for i := range cc.Templates {
		t := cc.Templates[i]
		if _, dup := c.templates[t.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate template %q", t.Name)
		}
		c.templates[t.Name] = &t
		c.order = append(c.order, t.Name)
	}
	if c.main != "" {
		if _, ok := c.templates[c.main]; !ok {
			return nil, fmt.Errorf("catalog: main template %q not defined", c.main)
		}
	}
	return c, nil
}

// Load builds the catalog for cfg from Templates(cfg) and validates the
// result against the rest of cfg.
func Load(cfg *config.Config) (*Catalog, error) {
	cc, err := Templates(cfg)
	if err != nil {
		return nil, err
	}
	resolved := *cfg
	resolved.Catalog = cc
	if err := config.Validate(&resolved); err != nil {
		return nil, err
	}
	return Build(cc)
}

// Templates returns the catalog config of cfg. Templates listed in the
// config take precedence; otherwise they are parsed from the source file,
// and a configured main overrides the source's main component.
func Templates(cfg *config.Config) (config.CatalogConf, error) {
	if len(cfg.Catalog.Templates) > 0 || cfg.Source.Path == "" {
		return cfg.Catalog, nil
	}
	cc, err := ParseCircomFile(cfg.Source.Path)
	if err != nil {
		return config.CatalogConf{}, err
	}
	if cfg.Catalog.Main != "" {
		cc.Main = cfg.Catalog.Main
	}
	return cc, nil
}

// Main returns the name of the template instantiated as the main component.
func (c *Catalog) Main() string { return c.main }

// Names returns template names in declaration order.
func (c *Catalog) Names() []string { return append([]string(nil), c.order...) }

// Template looks up a template by name.
func (c *Catalog) Template(name string) (*config.Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// UsedTemplates returns the templates reachable from the main template,
// breadth first, each listed once.
func (c *Catalog) UsedTemplates() []string {
	if c.main == "" {
		return nil
	}
	seen := map[string]struct{}{c.main: {}}
	queue := []string{c.main}
	var out []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		t, ok := c.templates[name]
		if !ok {
			continue
		}
		out = append(out, name)
		for _, comp := range t.Components {
			if _, done := seen[comp.Template]; done {
				continue
			}
			seen[comp.Template] = struct{}{}
			queue = append(queue, comp.Template)
		}
	}
	return out
}

// FetchSubgraph implements the expansion controller's fetch capability
// in-process.
func (c *Catalog) FetchSubgraph(_ context.Context, component string) (*graph.Payload, error) {
	return c.Subgraph(component)
}

// Subgraph returns the payload for one component: the single main instance
// for RootComponent, otherwise the internals of the named template.
func (c *Catalog) Subgraph(component string) (*graph.Payload, error) {
	if component == RootComponent {
		return c.root()
	}
	t, ok := c.templates[component]
	if !ok {
		return nil, faults.New(faults.KindNotFound, "subgraph", "unknown component %q", component)
	}

	p := &graph.Payload{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
	for _, comp := range t.Components {
		sub, ok := c.templates[comp.Template]
		if !ok {
			return nil, faults.New(faults.KindNotFound, "subgraph "+component, "component %s uses unknown template %q", comp.Name, comp.Template)
		}
		p.Nodes = append(p.Nodes, c.instance(comp.Name, sub))
	}
	for _, sig := range t.Intermediates {
		p.Nodes = append(p.Nodes, graph.Node{
			ID:     sig,
			Label:  sig,
			Kind:   graph.KindPlain,
			Inputs: 1,
			Ports:  graph.BuildPorts(sig, 1),
		})
	}
	for j, w := range t.Wires {
		src, srcPort, err := c.resolve(t, w.From, false)
		if err != nil {
			return nil, err
		}
		dst, dstPort, err := c.resolve(t, w.To, true)
		if err != nil {
			return nil, err
		}
		p.Edges = append(p.Edges, graph.Edge{
			ID:         fmt.Sprintf("w%d", j),
			Source:     src,
			SourcePort: srcPort,
			Target:     dst,
			TargetPort: dstPort,
		})
	}
	return p, nil
}

func (c *Catalog) root() (*graph.Payload, error) {
	t, ok := c.templates[c.main]
	if !ok {
		return nil, faults.New(faults.KindNotFound, "subgraph", "no main component configured")
	}
	return &graph.Payload{
		Nodes: []graph.Node{c.instance(RootComponent, t)},
		Edges: []graph.Edge{},
	}, nil
}

// instance builds the node for one instance of template t. The label is the
// template name so that expanding the node fetches that template.
func (c *Catalog) instance(id string, t *config.Template) graph.Node {
	kind := graph.KindPlain
	if len(t.Components) > 0 || len(t.Intermediates) > 0 {
		kind = graph.KindExpandable
	}
	return graph.Node{
		ID:     id,
		Label:  t.Name,
		Kind:   kind,
		Inputs: len(t.Inputs),
		Ports:  graph.BuildPorts(t.Name, len(t.Inputs)),
	}
}

// resolve maps a wire endpoint to (node id, port id). Endpoints on the
// enclosing template's own signals resolve to the empty node id.
func (c *Catalog) resolve(t *config.Template, end string, asTarget bool) (string, string, error) {
	compName, sig, dotted := strings.Cut(end, ".")
	if !dotted {
		if i := indexOf(t.Inputs, end); i >= 0 {
			return "", graph.InputPortID(t.Name, i), nil
		}
		if indexOf(t.Outputs, end) >= 0 {
			return "", graph.OutputPortID(t.Name), nil
		}
		if indexOf(t.Intermediates, end) >= 0 {
			if asTarget {
				return end, graph.InputPortID(end, 0), nil
			}
			return end, graph.OutputPortID(end), nil
		}
		return "", "", faults.New(faults.KindNotFound, "subgraph "+t.Name, "unknown signal %q", end)
	}
	for _, comp := range t.Components {
		if comp.Name != compName {
			continue
		}
		sub := c.templates[comp.Template]
		if sub == nil {
			break
		}
		if i := indexOf(sub.Inputs, sig); i >= 0 {
			return comp.Name, graph.InputPortID(sub.Name, i), nil
		}
		if indexOf(sub.Outputs, sig) >= 0 {
			return comp.Name, graph.OutputPortID(sub.Name), nil
		}
	}
	return "", "", faults.New(faults.KindNotFound, "subgraph "+t.Name, "unknown wire endpoint %q", end)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Live holds the current Catalog and swaps it atomically on reload.
type Live struct {
	cur atomic.Pointer[Catalog]
}

// NewLive creates a holder for c.
func NewLive(c *Catalog) *Live {
	l := &Live{}
	l.cur.Store(c)
	return l
}

// Swap installs a new catalog.
func (l *Live) Swap(c *Catalog) { l.cur.Store(c) }

// Current returns the installed catalog.
func (l *Live) Current() *Catalog { return l.cur.Load() }

// FetchSubgraph serves from whichever catalog is installed at call time.
func (l *Live) FetchSubgraph(ctx context.Context, component string) (*graph.Payload, error) {
	return l.cur.Load().FetchSubgraph(ctx, component)
}

// Reload loads the catalog for cfg and installs it. The installed catalog
// is kept when cfg or its source file is invalid.
func (l *Live) Reload(cfg *config.Config) (*Catalog, error) {
	c, err := Load(cfg)
	if err != nil {
		return nil, err
	}
	l.Swap(c)
	return c, nil
}
