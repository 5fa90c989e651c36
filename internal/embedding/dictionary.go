package embedding

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// Dictionary draws negative targets in proportion to node weights, read
// from "id weight" lines.
type Dictionary struct {
	ids   []int32
	alias *Alias
}

// LoadDictionary reads the dictionary file at path.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return ReadDictionary(f, path)
}

// ReadDictionary parses a dictionary from r; name labels errors.
func ReadDictionary(r io.Reader, name string) (*Dictionary, error) {
	var (
		ids     []int32
		weights []float32
	)
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"id weight\", got %d fields", name, line, len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: node id: %w", name, line, err)
		}
		w, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: weight: %w", name, line, err)
		}
		ids = append(ids, int32(id))
		weights = append(weights, float32(w))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", name, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("dictionary %s is empty", name)
	}

	alias, err := NewAlias(weights)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", name, err)
	}
	return &Dictionary{ids: ids, alias: alias}, nil
}

// Len is the number of nodes in the dictionary.
func (d *Dictionary) Len() int { return len(d.ids) }

// Sample draws a node id.
func (d *Dictionary) Sample(rng *rand.Rand) int32 {
	return d.ids[d.alias.Sample(rng)]
}
