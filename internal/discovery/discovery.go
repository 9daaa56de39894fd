// Package discovery turns a navigation fragment into the concrete subtypes
// linked from it.
package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Discover returns the subtypes linked from fragment for period. Links whose
// path does not mention the period are ignored.
func Discover(fragment []byte, period int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(fragment))
	if err != nil {
		return nil, &harvest.DiscoveryError{Period: period, Reason: fmt.Sprintf("parse fragment: %v", err)}
	}

	token := strconv.Itoa(period)
	seen := make(map[string]struct{})
	var subtypes []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		subtype := subtypeFromHref(href, token)
		if subtype == "" {
			return
		}
		if _, dup := seen[subtype]; dup {
			return
		}
		seen[subtype] = struct{}{}
		subtypes = append(subtypes, subtype)
	})

	if len(subtypes) == 0 {
		return nil, &harvest.DiscoveryError{Period: period, Reason: "no subtype links found"}
	}
	return subtypes, nil
}

// Children expands a navigation job into one child job per discovered subtype.
func Children(parent harvest.Job, fragment []byte) ([]harvest.Job, error) {
	subtypes, err := Discover(fragment, parent.Period)
	if err != nil {
		return nil, err
	}
	jobs := make([]harvest.Job, 0, len(subtypes))
	for _, subtype := range subtypes {
		jobs = append(jobs, harvest.Job{
			Period:   parent.Period,
			Category: parent.Category,
			Subtype:  subtype,
		})
	}
	return jobs, nil
}

func subtypeFromHref(href, token string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	idx := strings.LastIndex(p, token)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(p[idx+len(token):], "_-/")
	if cut := strings.IndexByte(rest, '/'); cut >= 0 {
		rest = rest[:cut]
	}
	rest = strings.TrimSuffix(rest, path.Ext(rest))
	return rest
}
