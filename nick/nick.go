// Package nick generates nicknames for bots.
package nick

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/oriumgames/swarm"
)

//go:embed names.txt
var builtin string

// Generator is a swarm.NickSource picking random names from a list. Every
// name gets the prefix of the generator and a number, and is cut to fit
// swarm.MaxNameLength.
type Generator struct {
	prefix string
	names  []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// Compile-time check that Generator implements swarm.NickSource.
var _ swarm.NickSource = (*Generator)(nil)

// NewGenerator creates a generator for names. If names is empty, the
// built-in list is used.
func NewGenerator(prefix string, names []string) *Generator {
	if len(names) == 0 {
		names = Builtin()
	}
	return &Generator{
		prefix: prefix,
		names:  names,
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Load creates a generator reading names from the file at path, one per
// line. An empty path uses the built-in list.
func Load(path, prefix string) (*Generator, error) {
	if path == "" {
		return NewGenerator(prefix, nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nick: open names: %w", err)
	}
	defer f.Close()

	names, err := readNames(f)
	if err != nil {
		return nil, fmt.Errorf("nick: read %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("nick: %s contains no names", path)
	}
	return NewGenerator(prefix, names), nil
}

// Builtin returns the built-in names.
func Builtin() []string {
	names, _ := readNames(strings.NewReader(builtin))
	return names
}

// readNames reads one name per line. Blank lines and lines starting with #
// are skipped.
func readNames(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, sc.Err()
}

// Next returns a new random nickname.
func (g *Generator) Next() string {
	g.mu.Lock()
	name := g.names[g.rnd.IntN(len(g.names))]
	n := g.rnd.IntN(1000)
	g.mu.Unlock()

	return fit(g.prefix+name, strconv.Itoa(n))
}

// fit joins base and suffix, shortening base so the result is at most
// swarm.MaxNameLength characters long.
func fit(base, suffix string) string {
	runes := []rune(base)
	if max := swarm.MaxNameLength - len(suffix); len(runes) > max {
		runes = runes[:max]
	}
	return string(runes) + suffix
}
