package parser

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"gopkg.in/xmlpath.v2"
)

var (
	ErrInvalidRegexp = errors.New("invalid regexp")
	ErrInvalidXPath  = errors.New("invalid xpath")
	ErrRegexpNoMatch = errors.New("no match for regexp")
	ErrXPathNoMatch  = errors.New("no match for xpath")
)

// Rule represents a targeted element on a Page
type Rule struct {
	XPath  string
	Filter string
}

type xPathCompiler func(path string) (*xmlpath.Path, error)
type regexpCompiler func(expr string) (*regexp.Regexp, error)

// Parser applies a Rule to its parsed Page
type Parser interface {
	Apply(r Rule) (string, error)
	ApplyAll(r Rule) ([]string, error)
}

// NewParser parses the page from r. Publisher pages arrive in assorted
// encodings and with broken markup, so the input is charset-normalized and
// re-rendered before xpath parsing.
func NewParser(r io.Reader) (Parser, error) {
	return newXPathParser(r)
}

func newXPathParser(r io.Reader) (Parser, error) {
	utf8Rdr, err := charset.NewReader(r, "text/html")
	if err != nil {
		return &xPathParser{}, errors.Wrap(err, "parsing Page")
	}
	root, err := html.Parse(utf8Rdr)
	if err != nil {
		return &xPathParser{}, errors.Wrap(err, "parsing Page")
	}
	var b bytes.Buffer
	if err := html.Render(&b, root); err != nil {
		return &xPathParser{}, errors.Wrap(err, "parsing Page")
	}
	page, err := xmlpath.ParseHTML(&b)
	if err != nil {
		return &xPathParser{}, errors.Wrap(err, "parsing Page")
	}
	return &xPathParser{
		Page:          page,
		CompileXPath:  xmlpath.Compile,
		CompileRegexp: regexp.Compile,
	}, nil
}

// xPathParser implements Parser
type xPathParser struct {
	Page          *xmlpath.Node
	CompileXPath  xPathCompiler
	CompileRegexp regexpCompiler
}

var _ Parser = (*xPathParser)(nil)

// Apply returns the first match of r on the page, filtered.
func (p *xPathParser) Apply(r Rule) (string, error) {
	rawValue, err := p.applyXPath(r.XPath)
	if err != nil {
		return "", err
	}

	return p.applyFilter(r.Filter, rawValue)
}

// ApplyAll returns every match of r on the page in document order. Values
// that do not match the filter are skipped rather than failing the whole
// rule; ErrXPathNoMatch is returned only when the xpath matches nothing.
func (p *xPathParser) ApplyAll(r Rule) ([]string, error) {
	xp, err := p.CompileXPath(r.XPath)
	if err != nil {
		return nil, ErrInvalidXPath
	}

	var vals []string
	iter := xp.Iter(p.Page)
	for iter.Next() {
		val, err := p.applyFilter(r.Filter, iter.Node().String())
		if err == ErrInvalidRegexp {
			return nil, err
		}
		if err != nil {
			continue
		}
		vals = append(vals, val)
	}
	if len(vals) == 0 {
		return nil, ErrXPathNoMatch
	}
	return vals, nil
}

func (p *xPathParser) applyXPath(path string) (string, error) {
	xp, err := p.CompileXPath(path)
	if err != nil {
		return "", ErrInvalidXPath
	}

	val, ok := xp.String(p.Page)
	if !ok {
		return "", ErrXPathNoMatch
	}

	return val, nil
}

func (p *xPathParser) applyFilter(expr, text string) (string, error) {
	r, err := p.CompileRegexp(expr)
	if err != nil {
		return "", ErrInvalidRegexp
	}

	match := r.FindStringSubmatch(text)
	if match == nil || len(match) == 0 {
		return text, ErrRegexpNoMatch
	}

	if len(match) == 1 {
		return match[0], nil
	}

	return strings.TrimSpace(match[1]), nil
}
