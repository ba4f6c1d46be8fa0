//go:build onnx
// +build onnx

package features

import (
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ImageNet normalization used by torchvision backbones.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ONNXBackbone runs a pretrained convolutional model (for example a ResNet
// truncated before pooling) through ONNX Runtime.
type ONNXBackbone struct {
	cfg     ONNXConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

// NewONNXBackbone loads the model and allocates its tensors.
func NewONNXBackbone(cfg ONNXConfig) (*ONNXBackbone, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	side := int64(cfg.Resolution)
	input, err := ort.NewTensor(ort.NewShape(1, 3, side, side), make([]float32, 3*cfg.Resolution*cfg.Resolution))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	n := cfg.Channels * cfg.Height * cfg.Width
	output, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Channels), int64(cfg.Height), int64(cfg.Width)), make([]float32, n))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXBackbone{cfg: cfg, session: session, input: input, output: output}, nil
}

// OutputShape implements Backbone.
func (b *ONNXBackbone) OutputShape() (int, int, int) {
	return b.cfg.Channels, b.cfg.Height, b.cfg.Width
}

// Forward implements Backbone.
func (b *ONNXBackbone) Forward(img image.Image) (*FeatureMap, error) {
	if b.session == nil {
		return nil, errors.New("onnx backbone is closed")
	}
	r := rasterize(img, b.cfg.Resolution, b.cfg.Resolution)

	b.mu.Lock()
	defer b.mu.Unlock()

	in := b.input.GetData()
	plane := r.w * r.h
	for c := 0; c < 3; c++ {
		for i, v := range r.pix[c] {
			in[c*plane+i] = (float32(v)/255 - imagenetMean[c]) / imagenetStd[c]
		}
	}
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	fm := newFeatureMap(b.cfg.Channels, b.cfg.Height, b.cfg.Width)
	for i, v := range b.output.GetData() {
		fm.Data[i] = float64(v)
	}
	return fm, nil
}

// Close destroys the session and tensors.
func (b *ONNXBackbone) Close() error {
	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		_ = b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		_ = b.output.Destroy()
		b.output = nil
	}
	return err
}
