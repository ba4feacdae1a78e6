package visitguard

import (
	"fmt"
	"net/url"
	"sort"
)

// Kind names a countable resource family. It selects the endpoint route and
// the first level of the guard's state map.
type Kind string

const (
	KindProfile Kind = "profile"
	KindFamily  Kind = "family"
	KindCouple  Kind = "couple"
)

// routes maps a kind to its public route segment.
var routes = map[Kind]string{
	KindProfile: "profiles",
	KindFamily:  "family-profiles",
	KindCouple:  "couple-profiles",
}

// Kinds returns every registered kind in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(routes))
	for k := range routes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind accepts a kind name ("family") or its route segment ("family-profiles").
func ParseKind(s string) (Kind, error) {
	if _, ok := routes[Kind(s)]; ok {
		return Kind(s), nil
	}
	for k, r := range routes {
		if r == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("visitguard: unknown kind %q", s)
}

func (k Kind) Valid() bool {
	_, ok := routes[k]
	return ok
}

// Route returns the route segment, e.g. "family-profiles".
func (k Kind) Route() string { return routes[k] }

// VisitPath returns the increment route for slug: /{route}/public/{slug}/visit.
func (k Kind) VisitPath(slug string) string {
	return "/" + k.Route() + "/public/" + url.PathEscape(slug) + "/visit"
}

// Key is the resource identifier: a slug within a kind.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return string(k.Kind) + "/" + k.ID }

func (k Key) empty() bool { return k.Kind == "" || k.ID == "" }
