// Package extract locates the fragment named by an extraction rule inside a
// rendered document. CSS rules are evaluated with goquery, XPath rules with
// htmlquery; both operate on the same parsed node tree.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Document is a parsed HTML document.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw HTML.
func Parse(raw []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Title returns the trimmed text of the document's <title>.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Fragment returns the inner HTML of the first node matched by rule.
func (d *Document) Fragment(rule harvest.Rule) ([]byte, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}
	var (
		inner string
		err   error
	)
	if rule.IsXPath() {
		inner, err = d.xpath(rule)
	} else {
		inner, err = d.css(rule)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(inner) == "" {
		return nil, fmt.Errorf("%w: %s", harvest.ErrEmptyFragment, rule)
	}
	return []byte(inner), nil
}

// Contains reports whether rule matches any node of the document.
func (d *Document) Contains(rule harvest.Rule) bool {
	_, err := d.Fragment(rule)
	return err == nil
}

func (d *Document) css(rule harvest.Rule) (string, error) {
	sel, err := cascadia.Compile(string(rule))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", harvest.ErrInvalidRule, rule, err)
	}
	match := d.doc.FindMatcher(sel).First()
	if match.Length() == 0 {
		return "", fmt.Errorf("%w: %s", harvest.ErrFragmentMissing, rule)
	}
	inner, err := match.Html()
	if err != nil {
		return "", fmt.Errorf("render fragment %s: %w", rule, err)
	}
	return inner, nil
}

func (d *Document) xpath(rule harvest.Rule) (string, error) {
	if len(d.doc.Nodes) == 0 {
		return "", fmt.Errorf("%w: %s", harvest.ErrFragmentMissing, rule)
	}
	node, err := htmlquery.Query(d.doc.Nodes[0], string(rule))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", harvest.ErrInvalidRule, rule, err)
	}
	if node == nil {
		return "", fmt.Errorf("%w: %s", harvest.ErrFragmentMissing, rule)
	}
	return htmlquery.OutputHTML(node, false), nil
}

// Validate rejects rules that can never match.
func Validate(rule harvest.Rule) error {
	if strings.TrimSpace(string(rule)) == "" {
		return fmt.Errorf("%w: empty rule", harvest.ErrInvalidRule)
	}
	return nil
}

// Fragment parses raw and extracts rule in one step.
func Fragment(raw []byte, rule harvest.Rule) ([]byte, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return doc.Fragment(rule)
}
