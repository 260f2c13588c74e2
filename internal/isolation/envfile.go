package isolation

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// LoadEnvFile parses a newline-separated KEY=VALUE file for container env
// injection. Blank lines and #-comments are ignored, as are lines without
// a separator. A missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return env, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) == "" {
			continue
		}
		env[strings.TrimSpace(key)] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return env, nil
}
