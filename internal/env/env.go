// Package env loads dotenv files into the process environment.
package env

import (
	"bufio"
	"os"
	"strings"
)

// Load applies KEY=VALUE pairs from each readable file in order. Variables
// already present in the process environment win over file values, and an
// earlier file wins over a later one. It returns the files that were read.
func Load(paths ...string) []string {
	preset := map[string]struct{}{}
	for _, e := range os.Environ() {
		if i := strings.IndexByte(e, '='); i > 0 {
			preset[e[:i]] = struct{}{}
		}
	}
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			k, v, ok := parseLine(sc.Text())
			if !ok {
				continue
			}
			if _, ok := preset[k]; ok {
				continue
			}
			preset[k] = struct{}{}
			_ = os.Setenv(k, v)
		}
		_ = f.Close()
		loaded = append(loaded, p)
	}
	return loaded
}

func parseLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	i := strings.IndexByte(line, '=')
	if i <= 0 {
		return "", "", false
	}
	k := strings.TrimSpace(line[:i])
	v := strings.TrimSpace(line[i+1:])
	if quoted(v) {
		return k, v[1 : len(v)-1], true
	}
	if j := strings.Index(v, " #"); j >= 0 {
		v = strings.TrimSpace(v[:j])
	}
	return k, v, true
}

func quoted(v string) bool {
	if len(v) < 2 {
		return false
	}
	return (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')
}
