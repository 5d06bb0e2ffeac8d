package secrets

import (
	"context"
	"os"

	"github.com/djlord-it/jobrun/internal/domain"
)

// EnvSource resolves secrets from the runner's own process environment,
// optionally under a prefix (name FOO with prefix "JOBRUN_SECRET_" reads
// JOBRUN_SECRET_FOO). Empty values count as resolved.
type EnvSource struct {
	prefix string
}

func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix}
}

func (s *EnvSource) Resolve(ctx context.Context, names []string) ([]domain.SecretBinding, error) {
	return resolveAll(names, func(name string) (string, bool) {
		return os.LookupEnv(s.prefix + name)
	})
}
