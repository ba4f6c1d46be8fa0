package features

import "errors"

// ONNXConfig describes a pretrained backbone exported to ONNX. The output
// shape must be fixed; it is declared here because it sizes the output tensor.
type ONNXConfig struct {
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	Resolution  int    `yaml:"resolution"`
	Channels    int    `yaml:"channels"`
	Height      int    `yaml:"height"`
	Width       int    `yaml:"width"`
}

func (c ONNXConfig) validate() error {
	switch {
	case c.ModelPath == "":
		return errors.New("onnx model path is required")
	case c.InputName == "" || c.OutputName == "":
		return errors.New("onnx input and output names are required")
	case c.Resolution <= 0 || c.Channels <= 0 || c.Height <= 0 || c.Width <= 0:
		return errors.New("onnx shapes must be positive")
	}
	return nil
}
