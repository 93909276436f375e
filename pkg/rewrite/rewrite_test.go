package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andesco/aniproxy/pkg/ruleset"
)

const base = "https://hianime.to/"

func TestAbsolutize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"href", `<a href="/y">l</a>`, `<a href="https://hianime.to/y">l</a>`},
		{"src", `<img src="/img/a.png">`, `<img src="https://hianime.to/img/a.png">`},
		{"root", `<a href="/">home</a>`, `<a href="https://hianime.to/">home</a>`},
		{"absolute", `<a href="https://x.com/y">`, `<a href="https://x.com/y">`},
		{"protocol relative", `<script src="//cdn.x.com/a.js">`, `<script src="//cdn.x.com/a.js">`},
		{"relative", `<a href="y">`, `<a href="y">`},
		{"single quoted", `<a href='/y'>`, `<a href='/y'>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Absolutize(tt.in, base))
		})
	}
}

func TestAbsolutizeIdempotent(t *testing.T) {
	in := `<link href="/css/app.css"><script src="/js/a.js"></script><a href="/watch/x?ep=1">`
	once := Absolutize(in, base)
	assert.Equal(t, once, Absolutize(once, base))
}

func TestAbsolutizeEmptyBase(t *testing.T) {
	in := `<a href="/y">`
	assert.Equal(t, in, Absolutize(in, ""))
}

func TestStripChrome(t *testing.T) {
	in := `<HEADER class="top">menu</HEADER><main>keep</main><nav>a</nav><footer>
f</footer><nav>b</nav>`
	assert.Equal(t, `<main>keep</main>`, StripChrome(in, base))
}

func TestStripChromeLeavesUnclosedTags(t *testing.T) {
	in := `<html><header>X<body><p>text</p></body></html>`
	assert.Equal(t, in, StripChrome(in, base))

	in = `<headers>not chrome</headers>`
	assert.Equal(t, in, StripChrome(in, base))

	in = `<header-bar>custom</header-bar><nav-menu>m</nav-menu>`
	assert.Equal(t, in, StripChrome(in, base))

	in = `<header-bar>custom</header>`
	assert.Equal(t, in, StripChrome(in, base))
}

func TestRewriteDeterministic(t *testing.T) {
	rule := ruleset.Rule{
		RegexRules: []ruleset.Regex{{Match: `data-ad="[^"]*"`, Replace: ""}},
		Injections: []ruleset.Injection{{Position: "body", Prepend: `<div id="top"></div>`}},
	}
	inputs := []string{
		`<html><header>X</header><body><a href="/y">l</a></body></html>`,
		`<div data-ad="1"><nav class="n">a</nav><img src="/i.png"><footer>f</footer></div>`,
		`<header><p>unclosed`,
		"",
	}
	for _, in := range inputs {
		for _, p := range []Pipeline{Default(), New(rule)} {
			first := p.Rewrite(in, base)
			for i := 0; i < 5; i++ {
				assert.Equal(t, []byte(first), []byte(p.Rewrite(in, base)), in)
			}
		}
	}
}

func TestDefaultPipeline(t *testing.T) {
	in := `<html><header>X</header><body><a href="/y">l</a></body></html>`
	out := Default().Rewrite(in, base)

	assert.Contains(t, out, `href="https://hianime.to/y"`)
	assert.NotContains(t, out, "<header>")
	assert.NotContains(t, out, ">X<")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</style>"))
	assert.Equal(t, out, Default().Rewrite(in, base), "output must be deterministic")
}

func TestDefaultPipelineNoMatches(t *testing.T) {
	out := Default().Rewrite("plain text", base)
	assert.Equal(t, "plain text"+playerStyle, out)
}

func TestRuleStages(t *testing.T) {
	rule := ruleset.Rule{
		RegexRules: []ruleset.Regex{
			{Match: `<div class="ads">.*?</div>`, Replace: ""},
			{Match: `(`, Replace: "ignored"},
		},
		Injections: []ruleset.Injection{
			{Position: "#player", Append: `<span id="marker"></span>`},
		},
	}
	in := `<html><body><div class="ads">buy</div><div id="player"></div></body></html>`
	out := New(rule).Rewrite(in, base)

	assert.NotContains(t, out, "buy")
	assert.Contains(t, out, `<div id="player"><span id="marker"></span></div>`)
	assert.True(t, strings.HasSuffix(out, playerStyle), "style stays last")
}

func TestPipelineOrder(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return func(html, _ string) string {
			order = append(order, name)
			return html + name
		}
	}
	out := Pipeline{stage("a"), stage("b")}.Rewrite("", base)
	assert.Equal(t, "ab", out)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestEngineSelectsRule(t *testing.T) {
	rules := ruleset.RuleSet{{
		Domain:     "hianime.to",
		Paths:      []string{"/watch"},
		RegexRules: []ruleset.Regex{{Match: "Ads", Replace: ""}},
	}}
	e := NewEngine(rules)

	watch, _ := url.Parse("https://hianime.to/watch/bleach-806?ep=1")
	home, _ := url.Parse("https://hianime.to/home")

	assert.NotContains(t, e.For(watch).Rewrite("<p>Ads</p>", base), "Ads")
	assert.Contains(t, e.For(home).Rewrite("<p>Ads</p>", base), "Ads")
}
