//go:build !onnx
// +build !onnx

package features

import (
	"errors"
	"image"
)

// ONNXBackbone is unavailable without the onnx build tag.
type ONNXBackbone struct {
	cfg ONNXConfig
}

// NewONNXBackbone returns an error unless built with the onnx tag.
func NewONNXBackbone(cfg ONNXConfig) (*ONNXBackbone, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, errors.New("onnx build tag is not enabled")
}

// OutputShape implements Backbone.
func (b *ONNXBackbone) OutputShape() (int, int, int) {
	return b.cfg.Channels, b.cfg.Height, b.cfg.Width
}

// Forward returns an error unless built with the onnx tag.
func (b *ONNXBackbone) Forward(image.Image) (*FeatureMap, error) {
	return nil, errors.New("onnx build tag is not enabled")
}

// Close is a no-op without the onnx tag.
func (b *ONNXBackbone) Close() error {
	return nil
}
