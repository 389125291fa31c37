package models

import "fmt"

// LocatorBy is the query language of a Locator
type LocatorBy string

const (
	ByCSS   LocatorBy = "css"
	ByXPath LocatorBy = "xpath"
)

// Locator is one strategy for finding a UI control
type Locator struct {
	By    LocatorBy `yaml:"by" json:"by" validate:"omitempty,oneof=css xpath"`
	Query string    `yaml:"query" json:"query" validate:"required"`
	Label string    `yaml:"label,omitempty" json:"label,omitempty"`
}

// CSS is shorthand for a CSS locator
func CSS(query string) Locator {
	return Locator{By: ByCSS, Query: query}
}

// XPath is shorthand for an XPath locator
func XPath(query string) Locator {
	return Locator{By: ByXPath, Query: query}
}

func (l Locator) String() string {
	if l.Label != "" {
		return l.Label
	}
	by := l.By
	if by == "" {
		by = ByCSS
	}
	return fmt.Sprintf("%s(%s)", by, l.Query)
}
