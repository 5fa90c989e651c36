package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Edge is a weighted directed edge of the training graph.
type Edge struct {
	Src    int32
	Dst    int32
	Weight float32
}

// Graph streams a worker's partition of the edge list in fixed-size
// blocks. Lines are "src dst weight"; the weight defaults to 1 when
// omitted. Reading wraps to the start of the file at EOF until the edge
// budget is spent.
type Graph struct {
	path      string
	f         *os.File
	sc        *bufio.Scanner
	line      int
	edges     int64
	remaining int64
	block     int
}

// OpenGraph opens the partition at path, validates it while counting its
// edges, and prepares to read budget edges in blocks of block.
func OpenGraph(path string, budget int64, block int) (*Graph, error) {
	if block <= 0 {
		return nil, fmt.Errorf("graph %s: block size must be positive, got %d", path, block)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph partition: %w", err)
	}
	g := &Graph{path: path, f: f, remaining: max(budget, 0), block: block}
	g.reset()

	for {
		_, err := g.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.Close()
			return nil, err
		}
		g.edges++
	}
	if g.edges == 0 {
		f.Close()
		return nil, fmt.Errorf("graph partition %s has no edges", path)
	}
	if err := g.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return g, nil
}

func (g *Graph) reset() {
	g.sc = bufio.NewScanner(g.f)
	g.line = 0
}

func (g *Graph) rewind() error {
	if _, err := g.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", g.path, err)
	}
	g.reset()
	return nil
}

// next returns the next edge in the file, or io.EOF.
func (g *Graph) next() (Edge, error) {
	for g.sc.Scan() {
		g.line++
		fields := strings.Fields(g.sc.Text())
		if len(fields) == 0 {
			continue
		}
		e, err := parseEdge(fields)
		if err != nil {
			return Edge{}, fmt.Errorf("%s:%d: %w", g.path, g.line, err)
		}
		return e, nil
	}
	if err := g.sc.Err(); err != nil {
		return Edge{}, fmt.Errorf("read %s: %w", g.path, err)
	}
	return Edge{}, io.EOF
}

func parseEdge(fields []string) (Edge, error) {
	if len(fields) != 2 && len(fields) != 3 {
		return Edge{}, fmt.Errorf("want \"src dst [weight]\", got %d fields", len(fields))
	}
	src, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return Edge{}, fmt.Errorf("source: %w", err)
	}
	dst, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return Edge{}, fmt.Errorf("target: %w", err)
	}
	e := Edge{Src: int32(src), Dst: int32(dst), Weight: 1}
	if len(fields) == 3 {
		w, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return Edge{}, fmt.Errorf("weight: %w", err)
		}
		e.Weight = float32(w)
	}
	return e, nil
}

// Edges is the number of edges in the partition file.
func (g *Graph) Edges() int64 { return g.edges }

// Remaining is the part of the edge budget not yet read.
func (g *Graph) Remaining() int64 { return g.remaining }

// ReadBlock returns the next min(block, remaining) edges, wrapping at EOF.
// It returns an empty block once the budget is spent.
func (g *Graph) ReadBlock() ([]Edge, error) {
	n := min(int64(g.block), g.remaining)
	edges := make([]Edge, 0, n)
	for int64(len(edges)) < n {
		e, err := g.next()
		if errors.Is(err, io.EOF) {
			if err := g.rewind(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	g.remaining -= n
	return edges, nil
}

func (g *Graph) Close() error {
	return g.f.Close()
}
