package config

// Config is the top-level YAML structure.
type Config struct {
	Version string      `yaml:"version"`
	Server  ServerConf  `yaml:"server"`
	Source  SourceConf  `yaml:"source"`
	Session SessionConf `yaml:"session"`
	Catalog CatalogConf `yaml:"catalog"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr string `yaml:"addr"`
}

// SourceConf points at the circuit source file shown in the editor panel.
type SourceConf struct {
	Path string `yaml:"path"`
}

// SessionConf tunes the debugging session: where subgraphs come from and
// how expansions are scheduled.
type SessionConf struct {
	BackendURL     string `yaml:"backend_url"` // empty = serve from the in-process catalog
	Root           string `yaml:"root"`        // component loaded at start
	FetchTimeoutMs int    `yaml:"fetch_timeout_ms"`
	FetchRetries   int    `yaml:"fetch_retries"`
	RetryDelayMs   int    `yaml:"retry_delay_ms"`
	ExpandWorkers  int    `yaml:"expand_workers"`
	QueueDepth     int    `yaml:"queue_depth"`
}

// CatalogConf lists the circuit templates and names the main one. When
// Templates is empty they are parsed from the source file.
type CatalogConf struct {
	Main      string     `yaml:"main"` // template instantiated as the "main" component
	Templates []Template `yaml:"templates"`
}

// Template is a circuit building block: its signals, the sub-components it
// instantiates, and the wires between them.
type Template struct {
	Name          string              `yaml:"name" json:"name"`
	Params        []string            `yaml:"params" json:"params,omitempty"`
	Inputs        []string            `yaml:"inputs" json:"inputs"`
	Outputs       []string            `yaml:"outputs" json:"outputs"`
	Intermediates []string            `yaml:"intermediates" json:"intermediates,omitempty"`
	SignalDims    map[string][]string `yaml:"signal_dims" json:"signal_dims,omitempty"` // array sizes of array signals
	Components    []ComponentDef      `yaml:"components" json:"components,omitempty"`
	Wires         []WireDef           `yaml:"wires" json:"wires,omitempty"`
}

// ComponentDef is a named instance of another template.
type ComponentDef struct {
	Name     string   `yaml:"name" json:"name"`
	Template string   `yaml:"template" json:"template"`
	Dims     []string `yaml:"dims" json:"dims,omitempty"` // array sizes, e.g. ["N"] for component c[N]
}

// WireDef connects two signals. An endpoint is either a signal of the
// enclosing template ("in1") or a signal of a component ("mult1.a").
type WireDef struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}
