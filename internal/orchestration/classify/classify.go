// Package classify sorts provider stderr lines into progress chatter,
// genuine errors and plain informational output.
//
// The rules are heuristics tuned against real CLI output, so they are data:
// operators can replace them with a YAML file and the daemon reloads it on
// change.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Verdict is the outcome of classifying one line.
type Verdict string

const (
	// Progress lines are benign chatter (spinners, upload status, hints).
	Progress Verdict = "progress"
	// Error lines carry an explicit error marker.
	Error Verdict = "error"
	// Info is everything else.
	Info Verdict = "info"
)

// Rules lists regular expressions per verdict. Progress patterns are
// matched case-insensitively; error patterns are matched as written.
// Progress wins over Error when both match.
type Rules struct {
	Progress []string `yaml:"progress" mapstructure:"progress"`
	Errors   []string `yaml:"errors" mapstructure:"errors"`
}

// DefaultRules returns the patterns observed in agent and build CLIs.
func DefaultRules() Rules {
	return Rules{
		Progress: []string{
			`^$`,
			`^✔`,
			`^-`,
			`uploading`,
			`compressing`,
			`waiting`,
			`queued`,
			`resolved`,
			`environment`,
			`fingerprint`,
			`skipping`,
			`initialized`,
			`see logs:`,
			`start builds sooner`,
			`sign up for`,
			`no environment variables`,
			`no remote versions`,
			`build is about to start`,
		},
		Errors: []string{
			`Error:`,
			`error:`,
		},
	}
}

// Classifier applies a compiled rule set. It is immutable and safe for
// concurrent use.
type Classifier struct {
	progress []*regexp.Regexp
	errors   []*regexp.Regexp
}

// New compiles rules.
func New(rules Rules) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range rules.Progress {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("progress pattern %q: %w", p, err)
		}
		c.progress = append(c.progress, re)
	}
	for _, p := range rules.Errors {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("error pattern %q: %w", p, err)
		}
		c.errors = append(c.errors, re)
	}
	return c, nil
}

// Default returns a Classifier for DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err) // default patterns are constants
	}
	return c
}

// Classify returns the verdict for line. Surrounding whitespace is ignored.
func (c *Classifier) Classify(line string) Verdict {
	content := strings.TrimSpace(line)
	for _, re := range c.progress {
		if re.MatchString(content) {
			return Progress
		}
	}
	for _, re := range c.errors {
		if re.MatchString(content) {
			return Error
		}
	}
	return Info
}

// LoadRules reads a YAML rules file. Missing sections fall back to the
// defaults so a file may override only one list.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-configured rules path
	if err != nil {
		return Rules{}, fmt.Errorf("reading classifier rules: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing classifier rules: %w", err)
	}

	defaults := DefaultRules()
	if rules.Progress == nil {
		rules.Progress = defaults.Progress
	}
	if rules.Errors == nil {
		rules.Errors = defaults.Errors
	}
	return rules, nil
}

// Live holds the current classifier and allows swapping it at runtime.
type Live struct {
	current atomic.Pointer[Classifier]
}

// NewLive starts with c.
func NewLive(c *Classifier) *Live {
	l := &Live{}
	l.current.Store(c)
	return l
}

// Classify delegates to the current classifier.
func (l *Live) Classify(line string) Verdict {
	return l.current.Load().Classify(line)
}

// Swap installs c.
func (l *Live) Swap(c *Classifier) {
	l.current.Store(c)
}

// Reload compiles the rules at path and installs them. On error the
// previous classifier stays active.
func (l *Live) Reload(path string) error {
	rules, err := LoadRules(path)
	if err != nil {
		return err
	}
	c, err := New(rules)
	if err != nil {
		return err
	}
	l.Swap(c)
	return nil
}

// LineClassifier is what sessions depend on.
type LineClassifier interface {
	Classify(line string) Verdict
}

var (
	_ LineClassifier = (*Classifier)(nil)
	_ LineClassifier = (*Live)(nil)
)
