package features

import "fmt"

// Config selects and parameterizes an extractor by name.
type Config struct {
	// Name is one of handcrafted, embedding, patches or contrastive.
	Name       string `yaml:"name"`
	Resolution int    `yaml:"resolution"`
	Bins       int    `yaml:"bins"`
	// EmbedDim is the embedding length, or the projection length for the
	// contrastive extractor.
	EmbedDim int `yaml:"embed_dim"`
	// SpectralBands enables RGB + hyperspectral fusion for the embedding extractor.
	SpectralBands int   `yaml:"spectral_bands"`
	SpectralDim   int   `yaml:"spectral_dim"`
	Seed          int64 `yaml:"seed"`
	// ONNX, when a model path is set, replaces the built-in backbone.
	ONNX ONNXConfig `yaml:"onnx"`
}

// New builds the extractor described by cfg. Extractors built on an ONNX
// backbone own it; release them with Close.
func New(cfg Config) (Extractor, error) {
	var backbone Backbone
	if cfg.ONNX.ModelPath != "" && usesBackbone(cfg.Name) {
		b, err := NewONNXBackbone(cfg.ONNX)
		if err != nil {
			return nil, err
		}
		backbone = b
	}

	switch cfg.Name {
	case "", "handcrafted":
		var opts []HandcraftedOption
		if cfg.Resolution > 0 {
			opts = append(opts, WithResolution(cfg.Resolution, cfg.Resolution))
		}
		if cfg.Bins > 0 {
			opts = append(opts, WithBins(cfg.Bins))
		}
		return NewHandcrafted(opts...), nil
	case "embedding":
		opts := []EmbeddingOption{WithSeed(cfg.Seed)}
		if backbone != nil {
			opts = append(opts, WithBackbone(backbone))
		} else if cfg.Resolution > 0 {
			opts = append(opts, WithBackbone(NewConvBackbone(cfg.Resolution, []int{8, 16, 32}, cfg.Seed)))
		}
		if cfg.EmbedDim > 0 {
			opts = append(opts, WithEmbedDim(cfg.EmbedDim))
		}
		if cfg.SpectralBands > 0 {
			dim := cfg.SpectralDim
			if dim <= 0 {
				dim = 16
			}
			opts = append(opts, WithSpectralBands(cfg.SpectralBands, dim))
		}
		return NewEmbedding(opts...), nil
	case "patches":
		if backbone == nil && cfg.Resolution > 0 {
			backbone = NewConvBackbone(cfg.Resolution, []int{8, 16}, cfg.Seed)
		}
		return NewPatches(backbone), nil
	case "contrastive":
		opts := []ContrastiveOption{WithContrastiveSeed(cfg.Seed)}
		if backbone != nil {
			opts = append(opts, WithContrastiveBackbone(backbone))
		} else if cfg.Resolution > 0 {
			opts = append(opts, WithContrastiveBackbone(NewConvBackbone(cfg.Resolution, []int{8, 16, 32}, cfg.Seed)))
		}
		if cfg.EmbedDim > 0 {
			opts = append(opts, WithProjection(cfg.EmbedDim))
		}
		return NewContrastive(opts...), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Name)
	}
}

func usesBackbone(name string) bool {
	return name == "embedding" || name == "patches" || name == "contrastive"
}

// PatchDim reports the per-patch length of e, or its full length when e
// does not produce patch sets.
func PatchDim(e Extractor) int {
	if p, ok := e.(*Patches); ok {
		return p.PatchDim()
	}
	return e.Dim()
}
