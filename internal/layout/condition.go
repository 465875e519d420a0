package layout

import (
	"errors"
	"fmt"
	"sort"
)

// Family is the spatial structure of a condition.
type Family string

const (
	FamilyStructured Family = "structured"
	FamilyDiffuse    Family = "diffuse"
)

// Condition is an experimental spatial-structure variant.
type Condition struct {
	Name   string    `json:"name"`
	Scheme string    `json:"scheme"`
	Family Family    `json:"family"`
	Shape  ShapeKind `json:"shape,omitempty"`
}

// Structured reports whether rewards are placed around cluster centers.
func (c Condition) Structured() bool { return c.Family == FamilyStructured }

// Scheme is a mutually exclusive structured/diffuse condition pair.
// A deployment runs exactly one scheme.
type Scheme struct {
	Name       string `json:"name"`
	Structured string `json:"structured"`
	Diffuse    string `json:"diffuse"`
}

// Pair returns the structured and diffuse conditions of the scheme.
func (s Scheme) Pair() (Condition, Condition) {
	return conditionRegistry[s.Structured], conditionRegistry[s.Diffuse]
}

// Pick returns the structured condition when structured is true.
func (s Scheme) Pick(structured bool) Condition {
	st, df := s.Pair()
	if structured {
		return st
	}
	return df
}

var (
	ErrUnknownCondition = errors.New("unknown condition")
	ErrUnknownScheme    = errors.New("unknown condition scheme")
)

const (
	SchemeClusterNoise        = "cluster_noise"
	SchemeConcentratedDiffuse = "concentrated_diffuse"
)

var conditionRegistry = make(map[string]Condition)

var schemeRegistry = make(map[string]Scheme)

// RegisterScheme adds a scheme and both of its conditions.
func RegisterScheme(s Scheme, structured, diffuse Condition) {
	structured.Scheme, structured.Family = s.Name, FamilyStructured
	diffuse.Scheme, diffuse.Family = s.Name, FamilyDiffuse
	s.Structured, s.Diffuse = structured.Name, diffuse.Name
	conditionRegistry[structured.Name] = structured
	conditionRegistry[diffuse.Name] = diffuse
	schemeRegistry[s.Name] = s
}

// Lookup retrieves a condition by name.
func Lookup(name string) (Condition, error) {
	c, ok := conditionRegistry[name]
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q", ErrUnknownCondition, name)
	}
	return c, nil
}

// LookupScheme retrieves a scheme by name.
func LookupScheme(name string) (Scheme, error) {
	s, ok := schemeRegistry[name]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return s, nil
}

// Conditions returns every registered condition sorted by name.
func Conditions() []Condition {
	out := make([]Condition, 0, len(conditionRegistry))
	for _, c := range conditionRegistry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schemes returns every registered scheme sorted by name.
func Schemes() []Scheme {
	out := make([]Scheme, 0, len(schemeRegistry))
	for _, s := range schemeRegistry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func init() {
	RegisterScheme(Scheme{Name: SchemeClusterNoise},
		Condition{Name: "cluster", Shape: ShapeCircle},
		Condition{Name: "noise"},
	)
	RegisterScheme(Scheme{Name: SchemeConcentratedDiffuse},
		Condition{Name: "concentrated", Shape: ShapeDiamond},
		Condition{Name: "diffuse"},
	)
}
