package models

import (
	"fmt"
	"sort"
	"strings"
)

// Identifier formats, ordered from most to least specific.
const (
	FormatNamespaceKindName = "namespace/kind/name"
	FormatKindName          = "kind/name"
	FormatName              = "name"
	FormatInvalid           = "invalid"
)

// Identifier is a parsed Kubernetes object identifier. Three tiers are
// accepted: namespace/kind/name (preferred), kind/name and bare name.
// The two shorter tiers are ambiguous; Warning carries the advisory text
// that is propagated to tool output.
type Identifier struct {
	Namespace string `json:"namespace,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Name      string `json:"name"`
	Format    string `json:"format"`
	Ambiguous bool   `json:"is_ambiguous"`
	Warning   string `json:"warning,omitempty"`
}

// ParseIdentifier splits an identifier string into its tiers. A name
// containing slashes is supported in the three-segment form, where
// everything after the second slash is the name.
func ParseIdentifier(identifier string) Identifier {
	var parts []string
	for _, p := range strings.Split(identifier, "/") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	switch {
	case len(parts) >= 3:
		return Identifier{
			Namespace: parts[0],
			Kind:      parts[1],
			Name:      strings.Join(parts[2:], "/"),
			Format:    FormatNamespaceKindName,
		}
	case len(parts) == 2:
		return Identifier{
			Kind:      parts[0],
			Name:      parts[1],
			Format:    FormatKindName,
			Ambiguous: true,
			Warning: fmt.Sprintf("Format 'kind/name' is ambiguous - '%s' may exist in multiple namespaces. "+
				"Consider using 'namespace/kind/name' format for precision.", identifier),
		}
	case len(parts) == 1:
		return Identifier{
			Name:      parts[0],
			Format:    FormatName,
			Ambiguous: true,
			Warning: fmt.Sprintf("Format 'name' is highly ambiguous - '%s' may exist across multiple kinds and namespaces. "+
				"Consider using 'namespace/kind/name' format for precision.", identifier),
		}
	default:
		return Identifier{
			Format:    FormatInvalid,
			Ambiguous: true,
			Warning:   "Empty identifier provided",
		}
	}
}

// Entity is a concrete inventory object an identifier can resolve to.
type Entity struct {
	Namespace string `json:"namespace,omitempty"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
}

// ID returns the canonical Kind/name entity id used throughout the
// topology and spec trackers.
func (e Entity) ID() string {
	return e.Kind + "/" + e.Name
}

// FullID returns namespace/Kind/name.
func (e Entity) FullID() string {
	if e.Namespace == "" {
		return e.ID()
	}
	return e.Namespace + "/" + e.Kind + "/" + e.Name
}

// Resolution is the outcome of resolving an identifier against an
// inventory. It is a tagged union: either exactly one entity matched, or
// several did and all of them are returned alongside an advisory warning.
// Zero matches is never a Resolution; Resolve returns NotFoundError
// instead.
type Resolution struct {
	Matches []Entity `json:"matches"`
	Warning string   `json:"warning,omitempty"`
}

// Single reports whether the resolution is unambiguous.
func (r Resolution) Single() bool { return len(r.Matches) == 1 }

// One returns the single match. Only valid when Single() is true.
func (r Resolution) One() Entity { return r.Matches[0] }

// maxCandidateSample bounds the candidate list carried by NotFoundError.
const maxCandidateSample = 10

// Resolve matches a parsed identifier against the inventory. Matching is
// case-insensitive per present tier field. When exact matching yields
// nothing, a substring match against the canonical entity id is tried
// before giving up. Ambiguity is reported, never rejected.
func Resolve(id Identifier, inventory []Entity) (Resolution, error) {
	if id.Format == FormatInvalid {
		return Resolution{}, NewParameterError("identifier", "empty identifier")
	}

	var matches []Entity
	for _, e := range inventory {
		if matchesIdentifier(id, e) {
			matches = append(matches, e)
		}
	}

	if len(matches) == 0 {
		// Fall back to substring matching on the canonical id.
		lower := strings.ToLower(id.Name)
		for _, e := range inventory {
			if strings.Contains(strings.ToLower(e.FullID()), lower) {
				matches = append(matches, e)
			}
		}
	}

	if len(matches) == 0 {
		return Resolution{}, NewNotFoundError(identifierString(id), candidateSample(inventory))
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].FullID() < matches[j].FullID() })

	res := Resolution{Matches: matches}
	if len(matches) > 1 {
		res.Warning = id.Warning
		if res.Warning == "" {
			res.Warning = fmt.Sprintf("identifier %q matched %d entities", identifierString(id), len(matches))
		}
	}
	return res, nil
}

func matchesIdentifier(id Identifier, e Entity) bool {
	if id.Namespace != "" && !strings.EqualFold(id.Namespace, e.Namespace) {
		return false
	}
	if id.Kind != "" && !strings.EqualFold(id.Kind, e.Kind) {
		return false
	}
	return strings.EqualFold(id.Name, e.Name)
}

func identifierString(id Identifier) string {
	parts := make([]string, 0, 3)
	if id.Namespace != "" {
		parts = append(parts, id.Namespace)
	}
	if id.Kind != "" {
		parts = append(parts, id.Kind)
	}
	parts = append(parts, id.Name)
	return strings.Join(parts, "/")
}

func candidateSample(inventory []Entity) []string {
	ids := make([]string, 0, len(inventory))
	for _, e := range inventory {
		ids = append(ids, e.FullID())
	}
	sort.Strings(ids)
	if len(ids) > maxCandidateSample {
		ids = ids[:maxCandidateSample]
	}
	return ids
}
