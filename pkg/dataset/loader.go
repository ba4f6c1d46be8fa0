package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrNoImages is returned when the image directory holds no supported files.
var ErrNoImages = errors.New("no images found")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true}

// Loader reads samples from a directory layout:
//
//	rgbDir/<stem>.JPG
//	spectralDir/<id>_*.PNG   (id is the stem before "_I")
//	labelDir/<stem>.json
type Loader struct {
	rgbDir      string
	spectralDir string
	labelDir    string
	limit       int
	maxBands    int
	cache       *lru.Cache[string, image.Image]
	logger      *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithSpectralDir sets the hyperspectral band directory.
func WithSpectralDir(dir string) Option {
	return func(l *Loader) {
		l.spectralDir = dir
	}
}

// WithLabelDir sets the JSON label directory.
func WithLabelDir(dir string) Option {
	return func(l *Loader) {
		l.labelDir = dir
	}
}

// WithLimit caps the number of samples loaded. Zero means no cap.
func WithLimit(n int) Option {
	return func(l *Loader) {
		l.limit = n
	}
}

// WithMaxBands caps the spectral bands read per sample.
func WithMaxBands(n int) Option {
	return func(l *Loader) {
		l.maxBands = n
	}
}

// WithCache shares a decoded-image cache between loaders.
func WithCache(c *lru.Cache[string, image.Image]) Option {
	return func(l *Loader) {
		l.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewCache creates a decoded-image cache holding up to size images.
func NewCache(size int) (*lru.Cache[string, image.Image], error) {
	return lru.New[string, image.Image](size)
}

// NewLoader creates a loader rooted at rgbDir.
func NewLoader(rgbDir string, opts ...Option) (*Loader, error) {
	l := &Loader{
		rgbDir:   rgbDir,
		maxBands: 10,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		c, err := NewCache(256)
		if err != nil {
			return nil, err
		}
		l.cache = c
	}
	return l, nil
}

// Load reads every sample in name order. Images that fail to decode are
// returned with a nil Image so extraction can report and count them.
func (l *Loader) Load(ctx context.Context) ([]Sample, error) {
	files, err := listImages(l.rgbDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, l.rgbDir)
	}
	if l.limit > 0 && len(files) > l.limit {
		files = files[:l.limit]
	}

	spectral := l.listBands()
	samples := make([]Sample, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples = append(samples, l.loadOne(path, spectral))
	}
	l.logger.Info("dataset loaded",
		zap.String("dir", l.rgbDir),
		zap.Int("samples", len(samples)),
	)
	return samples, nil
}

func (l *Loader) loadOne(path string, spectral []string) Sample {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s := Sample{ID: stem, Source: path}

	img, err := l.decode(path)
	if err != nil {
		l.logger.Warn("image unreadable", zap.String("path", path), zap.Error(err))
	} else {
		s.Image = img
	}

	if l.labelDir != "" {
		labels, err := ReadLabels(filepath.Join(l.labelDir, stem+".json"))
		if err != nil {
			l.logger.Warn("labels unreadable", zap.String("sample", stem), zap.Error(err))
		}
		s.Labels = labels
	}

	if len(spectral) > 0 {
		s.Spectral = l.loadBands(SpectralID(stem), spectral)
	}
	return s
}

// listBands lists the spectral directory once per Load.
func (l *Loader) listBands() []string {
	if l.spectralDir == "" {
		return nil
	}
	paths, err := listImages(l.spectralDir)
	if err != nil {
		l.logger.Warn("spectral dir unreadable", zap.String("dir", l.spectralDir), zap.Error(err))
		return nil
	}
	return paths
}

func (l *Loader) loadBands(id string, paths []string) []image.Image {
	var bands []image.Image
	for _, p := range paths {
		if !strings.HasPrefix(filepath.Base(p), id+"_") {
			continue
		}
		if l.maxBands > 0 && len(bands) >= l.maxBands {
			break
		}
		img, err := l.decode(p)
		if err != nil {
			l.logger.Warn("band unreadable", zap.String("path", p), zap.Error(err))
			continue
		}
		bands = append(bands, img)
	}
	return bands
}

func (l *Loader) decode(path string) (image.Image, error) {
	if img, ok := l.cache.Get(path); ok {
		return img, nil
	}
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	l.cache.Add(path, img)
	return img, nil
}

// SpectralID derives the pairing identifier from an RGB file stem.
func SpectralID(stem string) string {
	if i := strings.Index(stem, "_I"); i >= 0 {
		return stem[:i]
	}
	return stem
}

// DecodeFile opens and decodes an image file.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
