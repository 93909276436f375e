// Package rewrite turns upstream HTML into a page that can be embedded under
// another origin. Every stage is a best-effort text transform: malformed markup
// never fails, it just matches less.
package rewrite

import (
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/andesco/aniproxy/pkg/ruleset"
)

// Stage is a single pure HTML transformation. base is the upstream origin
// root-relative links are resolved against.
type Stage func(html, base string) string

// Rewriter is what the proxy route depends on, so the text pipeline can be
// replaced by a parser based one without touching the handlers.
type Rewriter interface {
	Rewrite(html, base string) string
}

// Pipeline applies its stages in order.
type Pipeline []Stage

func (p Pipeline) Rewrite(html, base string) string {
	for _, stage := range p {
		html = stage(html, base)
	}
	return html
}

// Engine picks the pipeline for a fetched page from the ruleset.
type Engine struct {
	rules ruleset.RuleSet
}

func NewEngine(rules ruleset.RuleSet) *Engine {
	return &Engine{rules: rules}
}

// For returns the pipeline for the page at target.
func (e *Engine) For(target *url.URL) Rewriter {
	return New(e.rules.Match(target.Hostname(), target.Path))
}

// Default is absolutization, chrome stripping and style injection, in that order.
// Style injection must stay last or stripping could remove it.
func Default() Pipeline {
	return New(ruleset.Rule{})
}

// New builds the default pipeline with the rule's regex rules and injections
// inserted after stripping and before style injection.
func New(rule ruleset.Rule) Pipeline {
	p := Pipeline{Absolutize, StripChrome}
	if len(rule.RegexRules) > 0 {
		p = append(p, RegexRules(rule.RegexRules))
	}
	if len(rule.Injections) > 0 {
		p = append(p, Injections(rule.Injections))
	}
	return append(p, InjectStyle)
}

// rootRelativeAttr matches href="/x" and src="/x". Protocol relative values
// ("//cdn...") are skipped. Single quoted or unquoted attributes and attributes
// with whitespace around '=' are not matched.
var rootRelativeAttr = regexp.MustCompile(`(href|src)="/([^/"][^"]*)?"`)

// Absolutize rewrites root-relative href and src attributes onto base.
// Running it on its own output is a no-op.
func Absolutize(html, base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return html
	}
	return rootRelativeAttr.ReplaceAllStringFunc(html, func(m string) string {
		sub := rootRelativeAttr.FindStringSubmatch(m)
		return sub[1] + `="` + base + "/" + sub[2] + `"`
	})
}

// chrome matches <tag> or <tag attrs...>, so custom elements such as
// <header-bar> are not mistaken for the tag.
var chrome = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<header(?:\s[^>]*)?>.*?</header\s*>`),
	regexp.MustCompile(`(?is)<footer(?:\s[^>]*)?>.*?</footer\s*>`),
	regexp.MustCompile(`(?is)<nav(?:\s[^>]*)?>.*?</nav\s*>`),
}

// StripChrome removes paired header, footer and nav blocks, each ending at the
// nearest closing tag. Unclosed tags are left in place.
func StripChrome(html, _ string) string {
	for _, re := range chrome {
		html = re.ReplaceAllString(html, "")
	}
	return html
}

const playerStyle = `
<style>
  html,body {
    margin: 0;
    padding: 0;
    background: #000;
    height: 100%;
    overflow: hidden;
  }
  video,iframe {
    width: 100%;
    height: 100%;
    border: none;
  }
</style>
`

// InjectStyle appends the full-bleed player layout to the document.
func InjectStyle(html, _ string) string {
	return html + playerStyle
}

// RegexRules applies ruleset substitutions. Patterns are validated when the
// ruleset loads; one that still fails to compile is skipped.
func RegexRules(rules []ruleset.Regex) Stage {
	compiled := make([]*regexp.Regexp, 0, len(rules))
	replace := make([]string, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			log.Printf("WARN: Skipping regex rule '%s': %v", r.Match, err)
			continue
		}
		compiled = append(compiled, re)
		replace = append(replace, r.Replace)
	}
	return func(html, _ string) string {
		for i, re := range compiled {
			html = re.ReplaceAllString(html, replace[i])
		}
		return html
	}
}

// Injections edits the document at CSS selector positions.
func Injections(injections []ruleset.Injection) Stage {
	return func(html, _ string) string {
		for _, injection := range injections {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
			if err != nil {
				log.Printf("WARN: Could not parse HTML for injection: %v", err)
				continue
			}

			sel := doc.Find(injection.Position)
			if injection.Replace != "" {
				sel.ReplaceWithHtml(injection.Replace)
			}
			if injection.Append != "" {
				sel.AppendHtml(injection.Append)
			}
			if injection.Prepend != "" {
				sel.PrependHtml(injection.Prepend)
			}

			out, err := doc.Html()
			if err != nil {
				log.Printf("WARN: Could not render HTML after injection: %v", err)
				continue
			}
			html = out
		}
		return html
	}
}
