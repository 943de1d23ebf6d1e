package dsc

import "strings"

// Matcher is the capability used to find an image by its install-name
// path (spec §4.E, §9 design note: a sum type instead of virtual dispatch).
type Matcher interface {
	Matches(path string) bool
	Name() string
}

// ExactMatch matches a single, fully-qualified install name.
type ExactMatch string

func (m ExactMatch) Matches(path string) bool { return string(m) == path }
func (m ExactMatch) Name() string             { return string(m) }

const (
	publicFrameworksBase  = "/System/Library/Frameworks/"
	privateFrameworksBase = "/System/Library/PrivateFrameworks/"
	versionsA             = "Versions/A/"
)

func frameworkMatches(base, name, path string) bool {
	prefix := base + name + ".framework/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return false
	}
	return rest == name || rest == versionsA+name
}

// PublicFrameworkMatch matches /System/Library/Frameworks/<Name>.framework/
// continuing either with <Name> directly or Versions/A/<Name>.
type PublicFrameworkMatch string

func (m PublicFrameworkMatch) Matches(path string) bool {
	return frameworkMatches(publicFrameworksBase, string(m), path)
}
func (m PublicFrameworkMatch) Name() string { return string(m) + ".framework" }

// PrivateFrameworkMatch is the same rule rooted at
// /System/Library/PrivateFrameworks/.
type PrivateFrameworkMatch string

func (m PrivateFrameworkMatch) Matches(path string) bool {
	return frameworkMatches(privateFrameworksBase, string(m), path)
}
func (m PrivateFrameworkMatch) Name() string { return string(m) + ".framework" }
