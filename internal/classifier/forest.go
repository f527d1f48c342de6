package classifier

import (
	"context"
	"os"

	"github.com/blang/semver"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"SSHSpectra/internal/engine/detector"
	"SSHSpectra/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// supportedFormat is the range of model file versions Forest can read.
var supportedFormat = semver.MustParseRange(">=1.0.0 <2.0.0")

// leaf marks a node without children.
const leaf = -1

// Node is one node of an exported decision tree. Inner nodes send a sample
// left when its feature value is <= Threshold.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

// Tree is an exported decision tree, root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// ForestModel is the JSON export of a random forest classifier.
type ForestModel struct {
	FormatVersion string   `json:"format_version"`
	FeatureNames  []string `json:"feature_names"`
	Classes       []string `json:"classes"`
	Trees         []Tree   `json:"trees"`
}

// Forest predicts MAC categories with a random forest: every tree votes
// with its normalised leaf distribution and the most probable class wins.
type Forest struct {
	model ForestModel
}

// LoadForest reads and validates a forest model file.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read forest model")
	}
	var m ForestModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode forest model")
	}
	return NewForest(m)
}

// NewForest validates the model. Every class must name a known MAC
// category.
func NewForest(m ForestModel) (*Forest, error) {
	v, err := semver.ParseTolerant(m.FormatVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid format_version %q", m.FormatVersion)
	}
	if !supportedFormat(v) {
		return nil, errors.Errorf("unsupported format_version %s", v)
	}

	want := model.FeatureNames()
	if len(m.FeatureNames) != len(want) {
		return nil, errors.Errorf("model has %d features, want %d", len(m.FeatureNames), len(want))
	}
	for i, name := range want {
		if m.FeatureNames[i] != name {
			return nil, errors.Errorf("feature %d is %q, want %q", i, m.FeatureNames[i], name)
		}
	}

	if len(m.Classes) == 0 {
		return nil, errors.New("model has no classes")
	}
	for _, class := range m.Classes {
		if _, err := detector.ResolveCategory(class); err != nil {
			return nil, errors.Wrap(err, "invalid model class")
		}
	}

	if len(m.Trees) == 0 {
		return nil, errors.New("model has no trees")
	}
	for t, tree := range m.Trees {
		if err := checkTree(tree, len(want), len(m.Classes)); err != nil {
			return nil, errors.Wrapf(err, "tree %d", t)
		}
	}
	return &Forest{model: m}, nil
}

func checkTree(tree Tree, features, classes int) error {
	n := len(tree.Nodes)
	if n == 0 {
		return errors.New("empty tree")
	}
	for i, node := range tree.Nodes {
		if node.Left == leaf || node.Right == leaf {
			if node.Left != node.Right {
				return errors.Errorf("node %d has a single child", i)
			}
			if len(node.Value) != classes {
				return errors.Errorf("leaf %d has %d values, want %d", i, len(node.Value), classes)
			}
			continue
		}
		if node.Feature < 0 || node.Feature >= features {
			return errors.Errorf("node %d uses feature %d", i, node.Feature)
		}
		// Children always follow their parent, which also rules out cycles.
		if node.Left <= i || node.Left >= n || node.Right <= i || node.Right >= n {
			return errors.Errorf("node %d has children out of range", i)
		}
	}
	return nil
}

// Classes returns the labels the model can predict.
func (f *Forest) Classes() []string {
	return f.model.Classes
}

// Predict implements model.MacClassifier.
func (f *Forest) Predict(ctx context.Context, vectors []model.FeatureVector) ([]string, error) {
	out := make([]string, len(vectors))
	proba := make([]float64, len(f.model.Classes))
	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.predictProba(v.Values(), proba)
		best := 0
		for c, p := range proba {
			if p > proba[best] {
				best = c
			}
		}
		out[i] = f.model.Classes[best]
	}
	return out, nil
}

func (f *Forest) predictProba(x []float64, proba []float64) {
	for c := range proba {
		proba[c] = 0
	}
	for _, tree := range f.model.Trees {
		node := tree.Nodes[0]
		for node.Left != leaf {
			if x[node.Feature] <= node.Threshold {
				node = tree.Nodes[node.Left]
			} else {
				node = tree.Nodes[node.Right]
			}
		}
		var total float64
		for _, v := range node.Value {
			total += v
		}
		if total == 0 {
			continue
		}
		for c, v := range node.Value {
			proba[c] += v / total
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.model.Trees))
	}
}
