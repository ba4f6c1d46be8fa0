package features

import (
	"encoding/gob"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/synth"
)

// Trainable extractors fit parameters on the reference population before
// extraction. Extract works before Fit with the initial parameters.
type Trainable interface {
	Extractor
	Fit(reference []dataset.Sample) error
}

// Contrastive embeds images with a fixed backbone followed by a linear
// projection head trained on the NT-Xent objective: two augmented views of
// the same image are pulled together and views of different images pushed
// apart. The output is L2-normalized.
type Contrastive struct {
	backbone     Backbone
	dim          int
	temperature  float64
	epochs       int
	learningRate float64
	seed         int64

	head        *mat.Dense // dim x channels
	initialLoss float64
	finalLoss   float64
}

// ContrastiveOption configures a Contrastive extractor.
type ContrastiveOption func(*Contrastive)

// WithProjection sets the output length of the projection head.
func WithProjection(dim int) ContrastiveOption {
	return func(c *Contrastive) {
		c.dim = dim
	}
}

// WithTemperature sets the NT-Xent temperature.
func WithTemperature(t float64) ContrastiveOption {
	return func(c *Contrastive) {
		c.temperature = t
	}
}

// WithEpochs sets the number of full-batch gradient steps.
func WithEpochs(n int) ContrastiveOption {
	return func(c *Contrastive) {
		c.epochs = n
	}
}

// WithLearningRate sets the initial step size. Steps that raise the loss are
// halved and retried.
func WithLearningRate(lr float64) ContrastiveOption {
	return func(c *Contrastive) {
		c.learningRate = lr
	}
}

// WithContrastiveBackbone replaces the default convolutional stack.
func WithContrastiveBackbone(b Backbone) ContrastiveOption {
	return func(c *Contrastive) {
		c.backbone = b
	}
}

// WithContrastiveSeed seeds the default backbone, the initial head and the
// augmentations.
func WithContrastiveSeed(seed int64) ContrastiveOption {
	return func(c *Contrastive) {
		c.seed = seed
	}
}

// NewContrastive creates a contrastive extractor with an untrained head.
func NewContrastive(opts ...ContrastiveOption) *Contrastive {
	c := &Contrastive{
		dim:          32,
		temperature:  0.5,
		epochs:       50,
		learningRate: 1,
		seed:         42,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backbone == nil {
		c.backbone = NewConvBackbone(32, []int{8, 16, 32}, c.seed)
	}
	if c.temperature <= 0 {
		c.temperature = 0.5
	}
	channels, _, _ := c.backbone.OutputShape()
	c.head = randomMatrix(rand.New(rand.NewSource(c.seed+2)), c.dim, channels)
	return c
}

// Name implements Extractor.
func (c *Contrastive) Name() string { return "contrastive" }

// Dim implements Extractor.
func (c *Contrastive) Dim() int { return c.dim }

// Losses returns the training loss before and after the last Fit.
func (c *Contrastive) Losses() (initial, final float64) {
	return c.initialLoss, c.finalLoss
}

// Extract implements Extractor.
func (c *Contrastive) Extract(s dataset.Sample) ([]float64, error) {
	if err := checkSample(s); err != nil {
		return nil, err
	}
	h, err := c.pooled(s.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSample, s.ID, err)
	}
	var u mat.VecDense
	u.MulVec(c.head, mat.NewVecDense(len(h), h))
	out := append([]float64(nil), u.RawVector().Data...)
	normalize(out)
	return out, nil
}

// Fit trains the projection head on two augmented views of every readable
// reference sample. Unreadable samples are ignored.
func (c *Contrastive) Fit(reference []dataset.Sample) error {
	var first, second [][]float64
	for i, s := range reference {
		if checkSample(s) != nil {
			continue
		}
		a, b := c.views(s.Image, c.seed+int64(i))
		ha, err := c.pooled(a)
		if err != nil {
			continue
		}
		hb, err := c.pooled(b)
		if err != nil {
			continue
		}
		first = append(first, ha)
		second = append(second, hb)
	}
	if len(first) < 2 {
		return errors.New("contrastive training needs at least two readable samples")
	}

	channels := len(first[0])
	n := 2 * len(first)
	h := mat.NewDense(n, channels, nil)
	for i := range first {
		h.SetRow(i, first[i])
		h.SetRow(i+len(first), second[i])
	}

	w := mat.DenseCopyOf(c.head)
	loss, grad := ntXent(w, h, c.temperature)
	c.initialLoss = loss

	lr := c.learningRate
	for epoch := 0; epoch < c.epochs && lr > 1e-8; epoch++ {
		var next mat.Dense
		next.Scale(-lr, grad)
		next.Add(w, &next)
		nextLoss, nextGrad := ntXent(&next, h, c.temperature)
		if nextLoss > loss {
			lr /= 2
			continue
		}
		w, loss, grad = &next, nextLoss, nextGrad
	}
	c.head = w
	c.finalLoss = loss
	return nil
}

// views returns the two fixed augmentations forming a positive pair.
func (c *Contrastive) views(img image.Image, seed int64) (image.Image, image.Image) {
	rng := rand.New(rand.NewSource(seed))
	return synth.HeavyNoise(img, 12, rng), synth.HeavyBlur(synth.FlipHorizontal(img), 1)
}

func (c *Contrastive) pooled(img image.Image) ([]float64, error) {
	fm, err := c.backbone.Forward(img)
	if err != nil {
		return nil, err
	}
	return globalAveragePool(fm), nil
}

// ntXent returns the NT-Xent loss of head w over the rows of h, where row i
// and row i+n/2 form a positive pair, and its gradient with respect to w.
func ntXent(w *mat.Dense, h *mat.Dense, temperature float64) (float64, *mat.Dense) {
	n, _ := h.Dims()
	half := n / 2
	dim, _ := w.Dims()

	var u mat.Dense
	u.Mul(h, w.T())
	z := mat.NewDense(n, dim, nil)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, &u)
		norms[i] = normalize(row)
		z.SetRow(i, row)
	}

	var sim mat.Dense
	sim.Mul(z, z.T())
	sim.Scale(1/temperature, &sim)

	partner := func(i int) int {
		if i < half {
			return i + half
		}
		return i - half
	}

	// p holds the softmax over j != i of row i.
	p := mat.NewDense(n, n, nil)
	var loss float64
	for i := 0; i < n; i++ {
		top := math.Inf(-1)
		for j := 0; j < n; j++ {
			if j != i && sim.At(i, j) > top {
				top = sim.At(i, j)
			}
		}
		var sum float64
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			e := math.Exp(sim.At(i, j) - top)
			p.Set(i, j, e)
			sum += e
		}
		for j := 0; j < n; j++ {
			p.Set(i, j, p.At(i, j)/sum)
		}
		loss += top + math.Log(sum) - sim.At(i, partner(i))
	}
	loss /= float64(n)

	// dL/dz = ((P + P^T) z - 2 z_partner) / (n * temperature)
	var sym mat.Dense
	sym.Add(p, p.T())
	var gz mat.Dense
	gz.Mul(&sym, z)
	for i := 0; i < n; i++ {
		k := partner(i)
		for d := 0; d < dim; d++ {
			gz.Set(i, d, (gz.At(i, d)-2*z.At(k, d))/(float64(n)*temperature))
		}
	}

	// Back through the normalization: (g - (g.z) z) / |u|.
	gu := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		g := gz.RawRowView(i)
		zi := z.RawRowView(i)
		var dot float64
		for d := range g {
			dot += g[d] * zi[d]
		}
		for d := range g {
			gu.Set(i, d, (g[d]-dot*zi[d])/norms[i])
		}
	}

	var grad mat.Dense
	grad.Mul(gu.T(), h)
	return loss, &grad
}

// normalize scales v to unit length in place and returns its former norm.
// A zero vector is left unchanged.
func normalize(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 1
	}
	for i := range v {
		v[i] /= norm
	}
	return norm
}

type headFile struct {
	Rows, Cols int
	Data       []float64
}

// SaveHead writes the projection head.
func (c *Contrastive) SaveHead(w io.Writer) error {
	rows, cols := c.head.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, c.head.RawRowView(i)...)
	}
	return gob.NewEncoder(w).Encode(headFile{Rows: rows, Cols: cols, Data: data})
}

// LoadHead replaces the projection head with one written by SaveHead.
func (c *Contrastive) LoadHead(r io.Reader) error {
	var f headFile
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decode head: %w", err)
	}
	rows, cols := c.head.Dims()
	if f.Rows != rows || f.Cols != cols || len(f.Data) != rows*cols {
		return fmt.Errorf("head is %dx%d, extractor expects %dx%d", f.Rows, f.Cols, rows, cols)
	}
	c.head = mat.NewDense(rows, cols, f.Data)
	return nil
}

// Close releases the backbone.
func (c *Contrastive) Close() error {
	return closeBackbone(c.backbone)
}
