package ruleset

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

type Injection struct {
	Position string `yaml:"position,omitempty"`
	Append   string `yaml:"append,omitempty"`
	Prepend  string `yaml:"prepend,omitempty"`
	Replace  string `yaml:"replace,omitempty"`
}

type Headers struct {
	UserAgent     string `yaml:"user-agent,omitempty"`
	XForwardedFor string `yaml:"x-forwarded-for,omitempty"`
	Referer       string `yaml:"referer,omitempty"`
	Cookie        string `yaml:"cookie,omitempty"`
}

// Rule tunes how a single upstream domain is fetched and rewritten.
type Rule struct {
	Domain     string      `yaml:"domain,omitempty"`
	Domains    []string    `yaml:"domains,omitempty"`
	Paths      []string    `yaml:"paths,omitempty"`
	Headers    Headers     `yaml:"headers,omitempty"`
	RegexRules []Regex     `yaml:"regexRules,omitempty"`
	Injections []Injection `yaml:"injections,omitempty"`
}

type RuleSet []Rule

// None is the header value that removes a default header instead of overriding it.
const None = "none"

// Load reads every .yml/.yaml file below each ';'-separated path.
// An empty rulePaths yields an empty ruleset.
func Load(rulePaths string) (RuleSet, error) {
	if strings.TrimSpace(rulePaths) == "" {
		return RuleSet{}, nil
	}

	var ruleSet RuleSet
	var errs []error

	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmedPath := strings.TrimSpace(rulePath)
		if trimmedPath == "" {
			continue
		}

		var rules RuleSet
		err := filepath.Walk(trimmedPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
				return nil
			}
			r, err := loadFile(path)
			if err != nil {
				return err
			}
			rules = append(rules, r...)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load rules from '%s': %w", trimmedPath, err))
			continue
		}
		ruleSet = append(ruleSet, rules...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("errors while loading rulesets: %w", errors.Join(errs...))
	}

	log.Printf("INFO: Loaded %d rules for %d domains", ruleSet.Count(), ruleSet.DomainCount())
	return ruleSet, nil
}

func loadFile(path string) (RuleSet, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file '%s': %w", path, err)
	}
	var r RuleSet
	if err := yaml.Unmarshal(yamlFile, &r); err != nil {
		return nil, fmt.Errorf("syntax error in rules file '%s': %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file '%s': %w", path, err)
	}
	return r, nil
}

// validate compiles every regex up front so a bad pattern fails at startup
// instead of on the first request.
func (rs RuleSet) validate() error {
	for _, rule := range rs {
		for _, re := range rule.RegexRules {
			if _, err := regexp.Compile(re.Match); err != nil {
				return fmt.Errorf("regex '%s': %w", re.Match, err)
			}
		}
	}
	return nil
}

// Match returns the first rule covering host and path, or the zero Rule.
func (rs RuleSet) Match(host, path string) Rule {
	for _, rule := range rs {
		for _, ruleDomain := range rule.domains() {
			if ruleDomain != host && !strings.HasSuffix(host, "."+ruleDomain) {
				continue
			}
			if len(rule.Paths) > 0 && !hasPrefix(path, rule.Paths) {
				continue
			}
			return rule
		}
	}
	return Rule{}
}

func (r Rule) domains() []string {
	domains := append([]string(nil), r.Domains...)
	if r.Domain != "" {
		domains = append(domains, r.Domain)
	}
	return domains
}

func (rs RuleSet) Domains() []string {
	var domains []string
	for _, rule := range rs {
		domains = append(domains, rule.domains()...)
	}
	return domains
}

func (rs RuleSet) DomainCount() int {
	return len(rs.Domains())
}

func (rs RuleSet) Count() int {
	return len(rs)
}

func hasPrefix(s string, list []string) bool {
	for _, x := range list {
		if strings.HasPrefix(s, x) {
			return true
		}
	}
	return false
}
