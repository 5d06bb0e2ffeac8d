// Package secrets resolves logical secret names into per-run bindings.
//
// Resolution is all-or-nothing: a single unresolvable name fails the whole
// list and no bindings are returned, so a task can never observe a partial
// secret set. Sources are read-only; values are resolved fresh for every
// run and discarded with it.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/djlord-it/jobrun/internal/domain"
)

// Source resolves logical secret names from an external store.
type Source interface {
	Resolve(ctx context.Context, names []string) ([]domain.SecretBinding, error)
}

// ResolutionError reports the names that could not be resolved.
// The missing names are safe to log; values never appear in errors.
type ResolutionError struct {
	Missing []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("secret resolution: missing %s", strings.Join(e.Missing, ", "))
}

// lookupFunc returns the value for a name and whether it exists.
type lookupFunc func(name string) (string, bool)

// resolveAll applies the all-or-nothing rule over a lookup function.
func resolveAll(names []string, lookup lookupFunc) ([]domain.SecretBinding, error) {
	var missing []string
	bindings := make([]domain.SecretBinding, 0, len(names))

	for _, name := range names {
		value, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		bindings = append(bindings, domain.SecretBinding{Name: name, Value: value})
	}

	if len(missing) > 0 {
		return nil, &ResolutionError{Missing: missing}
	}
	return bindings, nil
}

// ValidName reports whether name is usable as an environment variable name.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
