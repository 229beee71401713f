package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// #region parse
// ParseNewick builds a tree from a Newick string with branch lengths. Heights
// are measured from the tip furthest from the root, so dated tips and sampled
// ancestors (zero-length tip branches) are supported.
func ParseNewick(id, s string) (*Tree, error) {
	p := &newickParser{src: strings.TrimSpace(s)}
	var nodes []Node
	depth := map[int]float64{}

	var parse func(parent int) (int, error)
	parse = func(parent int) (int, error) {
		nr := len(nodes)
		nodes = append(nodes, Node{Nr: nr, Parent: parent})
		if p.peek() == '(' {
			p.pos++
			for {
				c, err := parse(nr)
				if err != nil {
					return 0, err
				}
				nodes[nr].Children = append(nodes[nr].Children, c)
				switch p.peek() {
				case ',':
					p.pos++
					continue
				case ')':
					p.pos++
				default:
					return 0, p.errorf("expected ',' or ')'")
				}
				break
			}
		}
		nodes[nr].Label = p.label()
		length := 0.0
		if p.peek() == ':' {
			p.pos++
			v, err := p.number()
			if err != nil {
				return 0, err
			}
			length = v
		}
		if length < 0 {
			return 0, p.errorf("negative branch length")
		}
		depth[nr] = length
		return nr, nil
	}

	root, err := parse(-1)
	if err != nil {
		return nil, fmt.Errorf("parse newick %s: %w", id, err)
	}
	if p.peek() == ';' {
		p.pos++
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("parse newick %s: %w", id, p.errorf("trailing input"))
	}

	// convert branch lengths into distances from the root, then into heights
	dist := make([]float64, len(nodes))
	var walk func(i int, acc float64)
	walk = func(i int, acc float64) {
		if i != root {
			acc += depth[i]
		}
		dist[i] = acc
		for _, c := range nodes[i].Children {
			walk(c, acc)
		}
	}
	walk(root, 0)
	maxDist := 0.0
	for i := range nodes {
		if len(nodes[i].Children) == 0 && dist[i] > maxDist {
			maxDist = dist[i]
		}
	}
	for i := range nodes {
		nodes[i].Height = maxDist - dist[i]
		if nodes[i].Height < 0 {
			nodes[i].Height = 0
		}
	}
	return New(id, nodes)
}

// #endregion parse

// #region lexer
type newickParser struct {
	src string
	pos int
}

func (p *newickParser) peek() byte {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\n' || p.src[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *newickParser) label() string {
	p.peek()
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("(),:;", rune(p.src[p.pos])) {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *newickParser) number() (float64, error) {
	p.peek()
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("(),:;", rune(p.src[p.pos])) {
		p.pos++
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.src[start:p.pos]), 64)
	if err != nil {
		return 0, p.errorf("bad branch length")
	}
	return v, nil
}

func (p *newickParser) errorf(msg string) error {
	return fmt.Errorf("%s at offset %d", msg, p.pos)
}

// #endregion lexer
