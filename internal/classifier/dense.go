package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidModel is returned when a model artifact fails validation.
var ErrInvalidModel = errors.New("classifier: invalid model")

// Activation names accepted in a model artifact.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// LayerSpec is one fully connected layer as stored in the model artifact.
// Weights is indexed [input][output].
type LayerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// ModelSpec is the on-disk model artifact.
type ModelSpec struct {
	InputWidth int         `json:"inputWidth"`
	Layers     []LayerSpec `json:"layers"`
}

type denseLayer struct {
	weights    *mat.Dense
	bias       *mat.VecDense
	activation string
}

// DenseModel is a feed-forward network of fully connected layers.
type DenseModel struct {
	inputWidth  int
	outputWidth int
	layers      []denseLayer
}

// LoadDenseModel reads a model artifact from path.
func LoadDenseModel(path string) (*DenseModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	return ParseDenseModel(f)
}

// ParseDenseModel decodes and validates a model artifact.
func ParseDenseModel(r io.Reader) (*DenseModel, error) {
	var spec ModelSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return NewDenseModel(spec)
}

// NewDenseModel builds a model from spec, checking that every layer's shape
// chains onto the previous one.
func NewDenseModel(spec ModelSpec) (*DenseModel, error) {
	if spec.InputWidth <= 0 {
		return nil, fmt.Errorf("%w: input width %d", ErrInvalidModel, spec.InputWidth)
	}
	if len(spec.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidModel)
	}

	m := &DenseModel{inputWidth: spec.InputWidth}
	in := spec.InputWidth
	for i, ls := range spec.Layers {
		if len(ls.Weights) != in {
			return nil, fmt.Errorf("%w: layer %d has %d weight rows, want %d", ErrInvalidModel, i, len(ls.Weights), in)
		}
		out := len(ls.Bias)
		if out == 0 {
			return nil, fmt.Errorf("%w: layer %d has no outputs", ErrInvalidModel, i)
		}

		data := make([]float64, 0, in*out)
		for r, row := range ls.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("%w: layer %d row %d has %d columns, want %d", ErrInvalidModel, i, r, len(row), out)
			}
			data = append(data, row...)
		}

		switch ls.Activation {
		case ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationSoftmax:
		case "":
			ls.Activation = ActivationLinear
		default:
			return nil, fmt.Errorf("%w: layer %d has unknown activation %q", ErrInvalidModel, i, ls.Activation)
		}

		m.layers = append(m.layers, denseLayer{
			weights:    mat.NewDense(in, out, data),
			bias:       mat.NewVecDense(out, append([]float64(nil), ls.Bias...)),
			activation: ls.Activation,
		})
		in = out
	}
	m.outputWidth = in
	return m, nil
}

// InputWidth returns the expected feature vector length.
func (m *DenseModel) InputWidth() int {
	return m.inputWidth
}

// OutputWidth returns the number of scores produced per prediction.
func (m *DenseModel) OutputWidth() int {
	return m.outputWidth
}

// Predict runs the network forward on features.
func (m *DenseModel) Predict(features []float64) ([]float64, error) {
	if len(features) != m.inputWidth {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrInvalidModel, len(features), m.inputWidth)
	}

	x := mat.NewVecDense(len(features), append([]float64(nil), features...))
	for _, l := range m.layers {
		_, out := l.weights.Dims()
		y := mat.NewVecDense(out, nil)
		y.MulVec(l.weights.T(), x)
		y.AddVec(y, l.bias)
		activate(l.activation, y.RawVector().Data)
		x = y
	}
	return append([]float64(nil), x.RawVector().Data...), nil
}

func activate(name string, v []float64) {
	switch name {
	case ActivationReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case ActivationSigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case ActivationSoftmax:
		hi := floats.Max(v)
		for i, x := range v {
			v[i] = math.Exp(x - hi)
		}
		floats.Scale(1/floats.Sum(v), v)
	}
}
