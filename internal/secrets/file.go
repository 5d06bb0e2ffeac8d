package secrets

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/djlord-it/jobrun/internal/domain"
)

// FileSource resolves secrets from a KEY=VALUE file (dotenv shape).
// The file is re-read on every Resolve so rotated secrets are picked up
// by the next run without a restart.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Resolve(ctx context.Context, names []string) ([]domain.SecretBinding, error) {
	values, err := s.load()
	if err != nil {
		return nil, err
	}

	return resolveAll(names, func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
}

func (s *FileSource) load() (map[string]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open secret file: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("secret file %s: line %d: expected KEY=VALUE", s.path, lineNo)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		// Tolerate quoted values, common in dotenv files.
		if len(value) >= 2 && (value[0] == '"' && value[len(value)-1] == '"' ||
			value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	return values, nil
}
