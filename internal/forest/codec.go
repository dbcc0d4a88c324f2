package forest

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/spendguard/internal/domain"
)

const formatVersion = 1

// flatNode is one row of the serialized node table.
type flatNode struct {
	Tree      int     `json:"tree"`
	ID        int     `json:"id"`
	Leaf      bool    `json:"leaf"`
	Size      int     `json:"size,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

type forestFile struct {
	Format        int        `json:"format"`
	NumTrees      int        `json:"numTrees"`
	SampleSize    int        `json:"sampleSize"`
	Dim           int        `json:"dim"`
	Contamination float64    `json:"contamination"`
	Bootstrap     bool       `json:"bootstrap"`
	Seed          int64      `json:"seed"`
	Cutoff        float64    `json:"cutoff"`
	Nodes         []flatNode `json:"nodes"`
}

// Save serializes the trained forest as a flat node table.
func (f *Forest) Save() ([]byte, error) {
	if !f.trained {
		return nil, domain.ErrModelNotLoaded
	}

	total := 0
	for i := range f.trees {
		total += len(f.trees[i].nodes)
	}

	file := forestFile{
		Format:        formatVersion,
		NumTrees:      len(f.trees),
		SampleSize:    f.psi,
		Dim:           f.dim,
		Contamination: f.contamination,
		Bootstrap:     f.bootstrap,
		Seed:          f.seed,
		Cutoff:        f.cutoff,
		Nodes:         make([]flatNode, 0, total),
	}
	for t := range f.trees {
		for id, n := range f.trees[t].nodes {
			file.Nodes = append(file.Nodes, flatNode{
				Tree:      t,
				ID:        id,
				Leaf:      n.Leaf,
				Size:      n.Size,
				Feature:   n.Feature,
				Threshold: n.Threshold,
				Left:      n.Left,
				Right:     n.Right,
			})
		}
	}

	return json.Marshal(file)
}

// Load restores a forest written by Save. Structural problems are reported
// as domain.ErrArtifactLoad.
func Load(data []byte) (*Forest, error) {
	var file forestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode forest: %v", domain.ErrArtifactLoad, err)
	}

	switch {
	case file.Format != formatVersion:
		return nil, fmt.Errorf("%w: unsupported forest format %d", domain.ErrArtifactLoad, file.Format)
	case file.NumTrees <= 0:
		return nil, fmt.Errorf("%w: forest has no trees", domain.ErrArtifactLoad)
	case file.Dim <= 0:
		return nil, fmt.Errorf("%w: forest has no features", domain.ErrArtifactLoad)
	case file.SampleSize < 2:
		return nil, fmt.Errorf("%w: forest sample size %d", domain.ErrArtifactLoad, file.SampleSize)
	case math.IsNaN(file.Cutoff) || math.IsInf(file.Cutoff, 0):
		return nil, fmt.Errorf("%w: forest cutoff is not finite", domain.ErrArtifactLoad)
	}

	trees := make([]tree, file.NumTrees)
	for _, n := range file.Nodes {
		if n.Tree < 0 || n.Tree >= file.NumTrees {
			return nil, fmt.Errorf("%w: node references tree %d", domain.ErrArtifactLoad, n.Tree)
		}
		t := &trees[n.Tree]
		if n.ID != len(t.nodes) {
			return nil, fmt.Errorf("%w: tree %d node %d out of order", domain.ErrArtifactLoad, n.Tree, n.ID)
		}
		t.nodes = append(t.nodes, Node{
			Leaf:      n.Leaf,
			Size:      n.Size,
			Feature:   n.Feature,
			Threshold: n.Threshold,
			Left:      n.Left,
			Right:     n.Right,
		})
	}

	for ti := range trees {
		if err := trees[ti].validate(file.Dim); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", domain.ErrArtifactLoad, ti, err)
		}
	}

	return &Forest{
		numTrees:      file.NumTrees,
		sampleSize:    file.SampleSize,
		contamination: file.Contamination,
		bootstrap:     file.Bootstrap,
		seed:          file.Seed,
		workers:       New().workers,
		trees:         trees,
		dim:           file.Dim,
		psi:           file.SampleSize,
		norm:          AveragePathLength(file.SampleSize),
		cutoff:        file.Cutoff,
		trained:       true,
	}, nil
}

// validate checks that every split points forward to existing nodes, which
// also rules out cycles.
func (t *tree) validate(dim int) error {
	if len(t.nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for id, n := range t.nodes {
		if n.Leaf {
			if n.Size < 0 {
				return fmt.Errorf("node %d: negative leaf size", id)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= dim {
			return fmt.Errorf("node %d: feature %d out of range", id, n.Feature)
		}
		if math.IsNaN(n.Threshold) || math.IsInf(n.Threshold, 0) {
			return fmt.Errorf("node %d: threshold is not finite", id)
		}
		if n.Left <= id || n.Left >= len(t.nodes) || n.Right <= id || n.Right >= len(t.nodes) {
			return fmt.Errorf("node %d: child index out of range", id)
		}
	}
	return nil
}
