package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
)

// Circuit is what one circom source file declares.
type Circuit struct {
	Templates []config.Template
	Main      string   // template instantiated by "component main", if any
	Includes  []string // include paths as written
}

// ParseCircomFile parses the circuit at path and every file it includes,
// relative to the including file, into a catalog config.
func ParseCircomFile(path string) (config.CatalogConf, error) {
	var cc config.CatalogConf
	seen := map[string]bool{}
	queue := []string{path}
	for len(queue) > 0 {
		file := queue[0]
		queue = queue[1:]
		abs, err := filepath.Abs(file)
		if err != nil {
			return cc, fmt.Errorf("resolve %s: %w", file, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		src, err := os.ReadFile(file)
		if err != nil {
			return cc, fmt.Errorf("read circuit source: %w", err)
		}
		c, err := ParseCircom(file, src)
		if err != nil {
			return cc, err
		}
		cc.Templates = append(cc.Templates, c.Templates...)
		if cc.Main == "" {
			cc.Main = c.Main
		}
		for _, inc := range c.Includes {
			queue = append(queue, filepath.Join(filepath.Dir(file), inc))
		}
	}
	return cc, nil
}

// ParseCircom extracts templates, the main component and includes from
// circom source. Inside a template it records signal and component
// declarations, and turns every <==, <--, ==> and --> assignment into
// wires from each signal read to the signal written. Array indices are
// dropped: in[i] is wired as in, and c[i].a as c.a.
func ParseCircom(name string, src []byte) (*Circuit, error) {
	toks, err := tokenize(name, src)
	if err != nil {
		return nil, err
	}
	p := &circomParser{file: name, toks: toks}
	return p.parseFile()
}

type token struct {
	kind rune // scanner.Ident, scanner.Int, scanner.String, ... or the first rune of an operator
	text string
	line int
}

var operators = []string{
	"<==", "==>", "<--", "-->", "===",
	"==", "!=", "<=", ">=", "&&", "||", "<<", ">>", "**", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "\\=", "<<=", ">>=",
}

func isOperatorPrefix(s string) bool {
	for _, op := range operators {
		if strings.HasPrefix(op, s) {
			return true
		}
	}
	return false
}

func tokenize(name string, src []byte) ([]token, error) {
	var s scanner.Scanner
	s.Init(bytes.NewReader(src))
	s.Filename = name
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments

	var scanErr error
	s.Error = func(s *scanner.Scanner, msg string) {
		if scanErr == nil {
			scanErr = faults.New(faults.KindParse, "parse "+name, "line %d: %s", s.Pos().Line, msg)
		}
	}

	var toks []token
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		t := token{kind: tok, text: s.TokenText(), line: s.Position.Line}
		if tok > 0 {
			for {
				next := s.Peek()
				if next == scanner.EOF || !isOperatorPrefix(t.text+string(next)) {
					break
				}
				t.text += string(s.Next())
			}
		}
		toks = append(toks, t)
	}
	return toks, scanErr
}

type circomParser struct {
	file string
	toks []token
	pos  int
}

func (p *circomParser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: scanner.EOF}
}

func (p *circomParser) is(text string) bool { return p.peek().text == text }

func (p *circomParser) accept(text string) bool {
	if p.is(text) {
		p.pos++
		return true
	}
	return false
}

func (p *circomParser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, found %s", text, p.describe())
	}
	return nil
}

func (p *circomParser) ident() (string, error) {
	t := p.peek()
	if t.kind != scanner.Ident {
		return "", p.errorf("expected identifier, found %s", p.describe())
	}
	p.pos++
	return t.text, nil
}

func (p *circomParser) describe() string {
	t := p.peek()
	if t.kind == scanner.EOF {
		return "end of file"
	}
	return strconv.Quote(t.text)
}

func (p *circomParser) errorf(format string, args ...any) error {
	line := 0
	switch {
	case p.pos < len(p.toks):
		line = p.toks[p.pos].line
	case len(p.toks) > 0:
		line = p.toks[len(p.toks)-1].line
	}
	return faults.New(faults.KindParse, "parse "+p.file, "line %d: %s", line, fmt.Sprintf(format, args...))
}

// skipBalanced consumes a bracketed group starting at open.
func (p *circomParser) skipBalanced(open, close string) error {
	if err := p.expect(open); err != nil {
		return err
	}
	for depth := 1; depth > 0; {
		t := p.peek()
		if t.kind == scanner.EOF {
			return p.errorf("unclosed %q", open)
		}
		switch t.text {
		case open:
			depth++
		case close:
			depth--
		}
		p.pos++
	}
	return nil
}

// collect consumes tokens up to, not including, the first stop token
// outside any brackets.
func (p *circomParser) collect(stops ...string) ([]token, error) {
	start := p.pos
	depth := 0
	for {
		t := p.peek()
		if t.kind == scanner.EOF {
			return nil, p.errorf("expected %s before end of file", strings.Join(stops, " or "))
		}
		if depth == 0 && slices.Contains(stops, t.text) {
			return p.toks[start:p.pos], nil
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth < 0 {
				return nil, p.errorf("unbalanced %q", t.text)
			}
		}
		p.pos++
	}
}

// skipStatement consumes everything through the next top-level ';'.
func (p *circomParser) skipStatement() error {
	if _, err := p.collect(";"); err != nil {
		return err
	}
	p.pos++
	return nil
}

func (p *circomParser) parseFile() (*Circuit, error) {
	c := &Circuit{}
	for p.peek().kind != scanner.EOF {
		switch {
		case p.accept("pragma"):
			if err := p.skipStatement(); err != nil {
				return nil, err
			}
		case p.accept("include"):
			t := p.peek()
			if t.kind != scanner.String {
				return nil, p.errorf("expected include path, found %s", p.describe())
			}
			p.pos++
			path, err := strconv.Unquote(t.text)
			if err != nil {
				return nil, p.errorf("bad include path %s", t.text)
			}
			c.Includes = append(c.Includes, path)
			if err := p.expect(";"); err != nil {
				return nil, err
			}
		case p.accept("template"):
			t, err := p.template()
			if err != nil {
				return nil, err
			}
			c.Templates = append(c.Templates, t)
		case p.accept("function"), p.accept("bus"):
			if _, err := p.ident(); err != nil {
				return nil, err
			}
			if err := p.skipBalanced("(", ")"); err != nil {
				return nil, err
			}
			if err := p.skipBalanced("{", "}"); err != nil {
				return nil, err
			}
		case p.accept("component"):
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			if name != RootComponent {
				return nil, p.errorf("only the main component may be declared at top level, found %q", name)
			}
			if p.is("{") {
				if err := p.skipBalanced("{", "}"); err != nil {
					return nil, err
				}
			}
			if err := p.expect("="); err != nil {
				return nil, err
			}
			rhs, err := p.collect(";")
			if err != nil {
				return nil, err
			}
			p.pos++
			if c.Main = templateCall(rhs); c.Main == "" {
				return nil, p.errorf("main component does not instantiate a template")
			}
		default:
			return nil, p.errorf("unexpected %s at top level", p.describe())
		}
	}
	return c, nil
}

func (p *circomParser) template() (config.Template, error) {
	for p.accept("parallel") || p.accept("custom") {
	}
	name, err := p.ident()
	if err != nil {
		return config.Template{}, err
	}
	t := config.Template{Name: name}
	if err := p.expect("("); err != nil {
		return t, err
	}
	for !p.accept(")") {
		param, err := p.ident()
		if err != nil {
			return t, err
		}
		t.Params = append(t.Params, param)
		if !p.is(")") {
			if err := p.expect(","); err != nil {
				return t, err
			}
		}
	}
	b := &templateBuilder{t: &t, signals: map[string]bool{}, comps: map[string]int{}, seen: map[config.WireDef]bool{}}
	if err := p.block(b); err != nil {
		return t, err
	}
	return t, nil
}

func (p *circomParser) block(b *templateBuilder) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	for !p.accept("}") {
		if p.peek().kind == scanner.EOF {
			return p.errorf("template %s: missing '}'", b.t.Name)
		}
		if err := p.statement(b); err != nil {
			return err
		}
	}
	return nil
}

func (p *circomParser) statement(b *templateBuilder) error {
	switch {
	case p.is("{"):
		return p.block(b)
	case p.accept(";"):
		return nil
	case p.accept("signal"):
		return p.signalDecl(b)
	case p.accept("component"):
		return p.componentDecl(b)
	case p.accept("for"), p.accept("while"):
		if err := p.skipBalanced("(", ")"); err != nil {
			return err
		}
		return p.statement(b)
	case p.accept("if"):
		if err := p.skipBalanced("(", ")"); err != nil {
			return err
		}
		if err := p.statement(b); err != nil {
			return err
		}
		if p.accept("else") {
			return p.statement(b)
		}
		return nil
	case p.accept("var"), p.accept("return"), p.accept("assert"), p.accept("log"):
		return p.skipStatement()
	default:
		toks, err := p.collect(";")
		if err != nil {
			return err
		}
		p.pos++
		b.assignment(toks)
		return nil
	}
}

func (p *circomParser) dims() ([]string, error) {
	var dims []string
	for p.accept("[") {
		toks, err := p.collect("]")
		if err != nil {
			return nil, err
		}
		p.pos++
		dims = append(dims, joinTokens(toks))
	}
	return dims, nil
}

func (p *circomParser) signalDecl(b *templateBuilder) error {
	dir := "intermediate"
	for done := false; !done; {
		switch {
		case p.accept("input"):
			dir = "input"
		case p.accept("output"):
			dir = "output"
		case p.accept("private"), p.accept("public"):
		default:
			done = true
		}
	}
	if p.is("{") { // signal tags
		if err := p.skipBalanced("{", "}"); err != nil {
			return err
		}
	}
	for {
		name, err := p.ident()
		if err != nil {
			return err
		}
		dims, err := p.dims()
		if err != nil {
			return err
		}
		b.addSignal(dir, name, dims)
		if p.accept("<==") || p.accept("<--") {
			rhs, err := p.collect(";", ",")
			if err != nil {
				return err
			}
			b.connect(b.refs(rhs), name)
		}
		if !p.accept(",") {
			return p.expect(";")
		}
	}
}

func (p *circomParser) componentDecl(b *templateBuilder) error {
	for {
		name, err := p.ident()
		if err != nil {
			return err
		}
		dims, err := p.dims()
		if err != nil {
			return err
		}
		tmpl := ""
		if p.accept("=") {
			rhs, err := p.collect(";", ",")
			if err != nil {
				return err
			}
			tmpl = templateCall(rhs)
		}
		b.addComponent(name, tmpl, dims)
		if !p.accept(",") {
			return p.expect(";")
		}
	}
}

// templateCall returns T for an expression of the form [parallel] T(...).
func templateCall(toks []token) string {
	if len(toks) > 0 && toks[0].text == "parallel" {
		toks = toks[1:]
	}
	if len(toks) >= 2 && toks[0].kind == scanner.Ident && toks[1].text == "(" {
		return toks[0].text
	}
	return ""
}

func joinTokens(toks []token) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.text)
	}
	return sb.String()
}

// templateBuilder accumulates one template's declarations and wires.
type templateBuilder struct {
	t       *config.Template
	signals map[string]bool
	comps   map[string]int // component name → index in t.Components
	seen    map[config.WireDef]bool
}

func (b *templateBuilder) addSignal(dir, name string, dims []string) {
	switch dir {
	case "input":
		b.t.Inputs = append(b.t.Inputs, name)
	case "output":
		b.t.Outputs = append(b.t.Outputs, name)
	default:
		b.t.Intermediates = append(b.t.Intermediates, name)
	}
	b.signals[name] = true
	if len(dims) > 0 {
		if b.t.SignalDims == nil {
			b.t.SignalDims = make(map[string][]string)
		}
		b.t.SignalDims[name] = dims
	}
}

func (b *templateBuilder) addComponent(name, tmpl string, dims []string) {
	if i, ok := b.comps[name]; ok {
		if tmpl != "" {
			b.t.Components[i].Template = tmpl
		}
		return
	}
	b.comps[name] = len(b.t.Components)
	b.t.Components = append(b.t.Components, config.ComponentDef{Name: name, Template: tmpl, Dims: dims})
}

// assignment records the wires, or the component template, of one
// expression statement.
func (b *templateBuilder) assignment(toks []token) {
	for i, t := range toks {
		switch t.text {
		case "<==", "<--":
			if to := b.refs(toks[:i]); len(to) > 0 {
				b.connect(b.refs(toks[i+1:]), to[0])
			}
			return
		case "==>", "-->":
			if to := b.refs(toks[i+1:]); len(to) > 0 {
				b.connect(b.refs(toks[:i]), to[0])
			}
			return
		case "=":
			// c[i] = T(...) completes a component declared without a template.
			if _, ok := b.comps[toks[0].text]; ok {
				if tmpl := templateCall(toks[i+1:]); tmpl != "" {
					b.addComponent(toks[0].text, tmpl, nil)
				}
			}
			return
		}
	}
}

// refs lists the signals an expression mentions, as wire endpoints.
func (b *templateBuilder) refs(toks []token) []string {
	var out []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != scanner.Ident {
			continue
		}
		j := skipIndexes(toks, i+1)
		if j+1 < len(toks) && toks[j].text == "." && toks[j+1].kind == scanner.Ident {
			if _, ok := b.comps[t.text]; ok {
				out = append(out, t.text+"."+toks[j+1].text)
			}
			i = j + 1
			continue
		}
		if b.signals[t.text] {
			out = append(out, t.text)
		}
	}
	return out
}

func skipIndexes(toks []token, j int) int {
	for j < len(toks) && toks[j].text == "[" {
		depth := 0
		for ; j < len(toks); j++ {
			if toks[j].text == "[" {
				depth++
			} else if toks[j].text == "]" {
				depth--
				if depth == 0 {
					j++
					break
				}
			}
		}
	}
	return j
}

func (b *templateBuilder) connect(froms []string, to string) {
	for _, from := range froms {
		w := config.WireDef{From: from, To: to}
		if from == to || b.seen[w] {
			continue
		}
		b.seen[w] = true
		b.t.Wires = append(b.t.Wires, w)
	}
}
