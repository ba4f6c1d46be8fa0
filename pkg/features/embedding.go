package features

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

// Embedding runs a backbone, global-average-pools the final feature map and
// projects it linearly to a fixed-length embedding. With spectral bands
// enabled, a per-band intensity spectrum is projected and appended, fusing
// RGB and hyperspectral inputs.
type Embedding struct {
	backbone    Backbone
	embedDim    int
	bands       int
	spectralDim int
	seed        int64

	projection *mat.Dense
	spectral   *mat.Dense
}

// EmbeddingOption configures an Embedding extractor.
type EmbeddingOption func(*Embedding)

// WithBackbone replaces the default convolutional stack.
func WithBackbone(b Backbone) EmbeddingOption {
	return func(e *Embedding) {
		e.backbone = b
	}
}

// WithEmbedDim sets the RGB embedding length.
func WithEmbedDim(n int) EmbeddingOption {
	return func(e *Embedding) {
		e.embedDim = n
	}
}

// WithSpectralBands enables the spectral branch over the first n bands.
func WithSpectralBands(n, dim int) EmbeddingOption {
	return func(e *Embedding) {
		e.bands = n
		e.spectralDim = dim
	}
}

// WithSeed sets the seed of the default backbone and projections.
func WithSeed(seed int64) EmbeddingOption {
	return func(e *Embedding) {
		e.seed = seed
	}
}

// NewEmbedding creates an embedding extractor. The default backbone takes
// 32x32 input through three blocks of 8, 16 and 32 channels.
func NewEmbedding(opts ...EmbeddingOption) *Embedding {
	e := &Embedding{embedDim: 64, seed: 42}
	for _, opt := range opts {
		opt(e)
	}
	if e.backbone == nil {
		e.backbone = NewConvBackbone(32, []int{8, 16, 32}, e.seed)
	}

	rng := rand.New(rand.NewSource(e.seed + 1))
	c, _, _ := e.backbone.OutputShape()
	e.projection = randomMatrix(rng, e.embedDim, c)
	if e.bands > 0 && e.spectralDim > 0 {
		e.spectral = randomMatrix(rng, e.spectralDim, e.bands)
	}
	return e
}

// Name implements Extractor.
func (e *Embedding) Name() string { return "embedding" }

// Dim implements Extractor.
func (e *Embedding) Dim() int {
	if e.spectral != nil {
		return e.embedDim + e.spectralDim
	}
	return e.embedDim
}

// Extract implements Extractor.
func (e *Embedding) Extract(s dataset.Sample) ([]float64, error) {
	if err := checkSample(s); err != nil {
		return nil, err
	}
	fm, err := e.backbone.Forward(s.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSample, s.ID, err)
	}

	pooled := mat.NewVecDense(fm.C, globalAveragePool(fm))
	var emb mat.VecDense
	emb.MulVec(e.projection, pooled)
	out := append(make([]float64, 0, e.Dim()), emb.RawVector().Data...)

	if e.spectral != nil {
		spectrum := make([]float64, e.bands)
		for i := 0; i < e.bands && i < len(s.Spectral); i++ {
			if s.Spectral[i] == nil {
				continue
			}
			spectrum[i] = grayMean(s.Spectral[i], 16, 16)
		}
		var proj mat.VecDense
		proj.MulVec(e.spectral, mat.NewVecDense(e.bands, spectrum))
		for i := 0; i < proj.Len(); i++ {
			out = append(out, math.Tanh(proj.AtVec(i)))
		}
	}
	return out, nil
}

// Close releases the backbone.
func (e *Embedding) Close() error {
	return closeBackbone(e.backbone)
}

func globalAveragePool(fm *FeatureMap) []float64 {
	pooled := make([]float64, fm.C)
	area := float64(fm.H * fm.W)
	for c := 0; c < fm.C; c++ {
		var sum float64
		for _, v := range fm.Data[c*fm.H*fm.W : (c+1)*fm.H*fm.W] {
			sum += v
		}
		pooled[c] = sum / area
	}
	return pooled
}

func randomMatrix(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	std := 1 / math.Sqrt(float64(cols))
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return mat.NewDense(rows, cols, data)
}
