package catalog_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/circuitscope/internal/catalog"
	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
)

const multiplier4 = "../../circuits/multiplier4.circom"

func TestParseCircomFile_Multiplier4(t *testing.T) {
	cc, err := catalog.ParseCircomFile(multiplier4)
	if err != nil {
		t.Fatalf("ParseCircomFile error: %v", err)
	}
	if cc.Main != "Multiplier4" {
		t.Errorf("main = %q, want Multiplier4", cc.Main)
	}
	if len(cc.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(cc.Templates))
	}

	m2 := cc.Templates[0]
	if m2.Name != "Multiplier2" || !reflect.DeepEqual(m2.Inputs, []string{"a", "b"}) || !reflect.DeepEqual(m2.Outputs, []string{"c"}) {
		t.Errorf("unexpected Multiplier2: %+v", m2)
	}
	if want := []config.WireDef{{From: "a", To: "c"}, {From: "b", To: "c"}}; !reflect.DeepEqual(m2.Wires, want) {
		t.Errorf("Multiplier2 wires = %v, want %v", m2.Wires, want)
	}

	m4 := cc.Templates[1]
	if !reflect.DeepEqual(m4.Inputs, []string{"in1", "in2", "in3", "in4"}) || !reflect.DeepEqual(m4.Outputs, []string{"out"}) {
		t.Errorf("unexpected Multiplier4 signals: %+v", m4)
	}
	if len(m4.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(m4.Components))
	}
	for _, comp := range m4.Components {
		if comp.Template != "Multiplier2" {
			t.Errorf("component %s uses %q", comp.Name, comp.Template)
		}
	}
	want := []config.WireDef{
		{From: "in1", To: "mult1.a"},
		{From: "in2", To: "mult1.b"},
		{From: "in3", To: "mult2.a"},
		{From: "in4", To: "mult2.b"},
		{From: "mult1.c", To: "mult3.a"},
		{From: "mult2.c", To: "mult3.b"},
		{From: "mult3.c", To: "out"},
	}
	if !reflect.DeepEqual(m4.Wires, want) {
		t.Errorf("Multiplier4 wires = %v, want %v", m4.Wires, want)
	}
}

func TestLoad_FromSource(t *testing.T) {
	cfg := &config.Config{Version: "v1", Source: config.SourceConf{Path: multiplier4}}
	config.ApplyDefaults(cfg)
	c, err := catalog.Load(cfg)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Main() != "Multiplier4" {
		t.Errorf("main = %q", c.Main())
	}
	if used := c.UsedTemplates(); !reflect.DeepEqual(used, []string{"Multiplier4", "Multiplier2"}) {
		t.Errorf("used templates = %v", used)
	}
	p, err := c.Subgraph("Multiplier4")
	if err != nil {
		t.Fatalf("Subgraph error: %v", err)
	}
	if len(p.Nodes) != 3 || len(p.Edges) != 7 {
		t.Errorf("expected 3 nodes and 7 edges, got %d and %d", len(p.Nodes), len(p.Edges))
	}
}

func TestLoad_ConfigTemplatesOverrideSource(t *testing.T) {
	cfg := &config.Config{
		Version: "v1",
		Source:  config.SourceConf{Path: multiplier4},
		Catalog: config.CatalogConf{
			Main:      "Solo",
			Templates: []config.Template{{Name: "Solo", Inputs: []string{"x"}, Outputs: []string{"y"}}},
		},
	}
	config.ApplyDefaults(cfg)
	c, err := catalog.Load(cfg)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Main() != "Solo" || len(c.Names()) != 1 {
		t.Errorf("config templates should win: main=%q names=%v", c.Main(), c.Names())
	}
}

func TestLoad_MainOverride(t *testing.T) {
	cfg := &config.Config{
		Version: "v1",
		Source:  config.SourceConf{Path: multiplier4},
		Catalog: config.CatalogConf{Main: "Multiplier2"},
	}
	config.ApplyDefaults(cfg)
	c, err := catalog.Load(cfg)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Main() != "Multiplier2" {
		t.Errorf("main = %q, want Multiplier2", c.Main())
	}

	cfg.Catalog.Main = "Nope"
	if _, err := catalog.Load(cfg); err == nil || !strings.Contains(err.Error(), `unknown template "Nope"`) {
		t.Errorf("expected unknown main error, got %v", err)
	}
}

const sumCircuit = `pragma circom 2.1.0;
include "lib/add.circom";

function double(x) {
    return x * 2;
}

/* a chain of adders over in */
template Sum(N) {
    signal input in[N];
    signal output out;
    signal acc[N];
    component adders[N];

    acc[0] <== in[0];
    for (var i = 1; i < N; i++) {
        adders[i] = Add();
        adders[i].a <== acc[i-1];
        in[i] ==> adders[i].b;
        acc[i] <== adders[i].c;
    }
    out <== acc[N-1];
}

component main {public [in]} = Sum(4);
`

const addCircuit = `template Add() {
    signal input a;
    signal input {binary} b;
    signal output c <== a + b; // declared and assigned
}
`

func writeCircuit(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseCircomFile_IncludesAndArrays(t *testing.T) {
	dir := t.TempDir()
	root := writeCircuit(t, dir, "sum.circom", sumCircuit)
	writeCircuit(t, dir, "lib/add.circom", addCircuit)

	cc, err := catalog.ParseCircomFile(root)
	if err != nil {
		t.Fatalf("ParseCircomFile error: %v", err)
	}
	if cc.Main != "Sum" || len(cc.Templates) != 2 {
		t.Fatalf("main=%q templates=%d", cc.Main, len(cc.Templates))
	}

	sum := cc.Templates[0]
	if !reflect.DeepEqual(sum.Params, []string{"N"}) {
		t.Errorf("params = %v", sum.Params)
	}
	if !reflect.DeepEqual(sum.Intermediates, []string{"acc"}) {
		t.Errorf("intermediates = %v", sum.Intermediates)
	}
	if want := map[string][]string{"in": {"N"}, "acc": {"N"}}; !reflect.DeepEqual(sum.SignalDims, want) {
		t.Errorf("signal dims = %v, want %v", sum.SignalDims, want)
	}
	if want := []config.ComponentDef{{Name: "adders", Template: "Add", Dims: []string{"N"}}}; !reflect.DeepEqual(sum.Components, want) {
		t.Errorf("components = %+v, want %+v", sum.Components, want)
	}
	want := []config.WireDef{
		{From: "in", To: "acc"},
		{From: "acc", To: "adders.a"},
		{From: "in", To: "adders.b"},
		{From: "adders.c", To: "acc"},
		{From: "acc", To: "out"},
	}
	if !reflect.DeepEqual(sum.Wires, want) {
		t.Errorf("wires = %v, want %v", sum.Wires, want)
	}

	add := cc.Templates[1]
	if add.Name != "Add" || !reflect.DeepEqual(add.Inputs, []string{"a", "b"}) {
		t.Errorf("unexpected Add: %+v", add)
	}
	if want := []config.WireDef{{From: "a", To: "c"}, {From: "b", To: "c"}}; !reflect.DeepEqual(add.Wires, want) {
		t.Errorf("Add wires = %v, want %v", add.Wires, want)
	}

	c, err := catalog.Build(cc)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	p, err := c.Subgraph("Sum")
	if err != nil {
		t.Fatalf("Subgraph error: %v", err)
	}
	if len(p.Nodes) != 2 || len(p.Edges) != 5 {
		t.Errorf("expected 2 nodes and 5 edges, got %d and %d", len(p.Nodes), len(p.Edges))
	}
}

func TestParseCircom_Errors(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "missing param list close",
			src:     "template Broken( {\n}",
			wantErr: "line 1: expected identifier",
		},
		{
			name:    "unterminated template",
			src:     "template T() {\n  signal input a;\n",
			wantErr: "missing '}'",
		},
		{
			name:    "stray top-level statement",
			src:     "pragma circom 2.0.0;\nx <== y;",
			wantErr: `line 2: unexpected "x" at top level`,
		},
		{
			name:    "main without template",
			src:     "component main = 3;",
			wantErr: "does not instantiate a template",
		},
		{
			name:    "unterminated string",
			src:     "include \"lib.circom;\n",
			wantErr: "literal not terminated",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := catalog.ParseCircom("bad.circom", []byte(tc.src))
			if !faults.Is(err, faults.KindParse) {
				t.Fatalf("expected parse fault, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseCircomFile_MissingInclude(t *testing.T) {
	root := writeCircuit(t, t.TempDir(), "main.circom", "include \"gone.circom\";\n")
	if _, err := catalog.ParseCircomFile(root); err == nil || !strings.Contains(err.Error(), "gone.circom") {
		t.Fatalf("expected error naming the missing include, got %v", err)
	}
}

func TestLive_ReloadKeepsCatalogOnBadSource(t *testing.T) {
	dir := t.TempDir()
	src := writeCircuit(t, dir, "c.circom", "template A() { signal input x; signal output y; y <== x; }\ncomponent main = A();\n")
	cfg := &config.Config{Version: "v1", Source: config.SourceConf{Path: src}}
	config.ApplyDefaults(cfg)

	c, err := catalog.Load(cfg)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	live := catalog.NewLive(c)

	writeCircuit(t, dir, "c.circom", "template A( {")
	if _, err := live.Reload(cfg); err == nil {
		t.Fatal("expected reload of a broken source to fail")
	}
	if live.Current() != c {
		t.Error("broken source replaced the installed catalog")
	}

	writeCircuit(t, dir, "c.circom", "template B() { signal input x; signal output y; y <== x; }\ncomponent main = B();\n")
	next, err := live.Reload(cfg)
	if err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if live.Current() != next || next.Main() != "B" {
		t.Errorf("reload did not install the edited source: main=%q", live.Current().Main())
	}
}
