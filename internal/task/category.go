package task

import "strings"

// Category labels. Callers may supply labels outside this set (hook
// integrations historically used their own), but inference only ever
// produces one of these.
const (
	CategoryGeneral    = "general"
	CategoryBug        = "bug"
	CategoryTest       = "test"
	CategoryDesign     = "design"
	CategoryDeployment = "deployment"
	CategoryRefactor   = "refactor"
	CategoryDocs       = "docs"
	CategoryFeature    = "feature"
)

// categoryRule maps a set of trigger keywords to a category. Rules are
// evaluated in order; the first rule with a matching keyword wins.
type categoryRule struct {
	keywords []string
	category string
}

var categoryRules = []categoryRule{
	{[]string{"bug", "fix", "error", "issue"}, CategoryBug},
	{[]string{"test", "testing"}, CategoryTest},
	{[]string{"design", "ui", "page", "interface"}, CategoryDesign},
	{[]string{"deploy", "release"}, CategoryDeployment},
	{[]string{"refactor", "clean"}, CategoryRefactor},
	{[]string{"doc", "documentation", "readme"}, CategoryDocs},
}

// InferCategory picks a category for free text describing a task.
// Empty text maps to "general"; text that matches no rule is assumed
// to describe new work and maps to "feature".
func InferCategory(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return CategoryGeneral
	}

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}

	return CategoryFeature
}
