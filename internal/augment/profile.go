package augment

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/josegcpa/unet/internal/fsutil"
)

// Profile configures the augmentation transforms. All fields are pointers so
// a JSON profile can override any subset; omitted fields keep the defaults
// below, so partial profiles are safe. Probabilities are per-sample gates,
// ranges bound the magnitude drawn per application.
type Profile struct {
	// Photometric (image only).
	BrightnessMaxDelta *float64 `json:"brightness_max_delta,omitempty"` // [0,1] scale
	SaturationLo       *float64 `json:"saturation_lo,omitempty"`
	SaturationHi       *float64 `json:"saturation_hi,omitempty"`
	HueMaxDelta        *float64 `json:"hue_max_delta,omitempty"` // fraction of the hue circle
	ContrastLo         *float64 `json:"contrast_lo,omitempty"`
	ContrastHi         *float64 `json:"contrast_hi,omitempty"`
	SaltProb           *float64 `json:"salt_prob,omitempty"`   // per-pixel
	PepperProb         *float64 `json:"pepper_prob,omitempty"` // per-pixel
	NoiseStddev        *float64 `json:"noise_stddev,omitempty"`
	BlurProb           *float64 `json:"blur_prob,omitempty"`
	BlurSigma          *float64 `json:"blur_sigma,omitempty"`
	JPEGQualityLo      *int     `json:"jpeg_quality_lo,omitempty"`
	JPEGQualityHi      *int     `json:"jpeg_quality_hi,omitempty"`

	// Geometric (applied identically to image, mask, and weight map).
	Rot90         *bool    `json:"rot90,omitempty"` // uniform k in {0..3} when true
	FlipProb      *float64 `json:"flip_prob,omitempty"`
	ElasticProb   *float64 `json:"elastic_prob,omitempty"`
	ElasticStddev *float64 `json:"elastic_stddev,omitempty"` // displacement scale, pixels
	ElasticKernel *int     `json:"elastic_kernel,omitempty"` // smoothing kernel size, odd
}

// Defaults, matching the reference training setup.
const (
	defaultBrightnessMaxDelta = 16.0 / 255.0
	defaultSaturationLo       = 0.8
	defaultSaturationHi       = 1.2
	defaultHueMaxDelta        = 0.2
	defaultContrastLo         = 0.8
	defaultContrastHi         = 1.2
	defaultSaltProb           = 0.1
	defaultPepperProb         = 0.1
	defaultNoiseStddev        = 0.05
	defaultBlurProb           = 0.1
	defaultBlurSigma          = 0.8
	defaultJPEGQualityLo      = 30
	defaultJPEGQualityHi      = 70
	defaultRot90              = true
	defaultFlipProb           = 0.5
	defaultElasticProb        = 0.3
	defaultElasticStddev      = 10.0
	defaultElasticKernel      = 17
)

// GetBrightnessMaxDelta returns the configured value or the default.
func (p *Profile) GetBrightnessMaxDelta() float64 {
	if p != nil && p.BrightnessMaxDelta != nil {
		return *p.BrightnessMaxDelta
	}
	return defaultBrightnessMaxDelta
}

// GetSaturationRange returns the configured saturation factor range.
func (p *Profile) GetSaturationRange() (float64, float64) {
	lo, hi := defaultSaturationLo, defaultSaturationHi
	if p != nil && p.SaturationLo != nil {
		lo = *p.SaturationLo
	}
	if p != nil && p.SaturationHi != nil {
		hi = *p.SaturationHi
	}
	return lo, hi
}

// GetHueMaxDelta returns the configured value or the default.
func (p *Profile) GetHueMaxDelta() float64 {
	if p != nil && p.HueMaxDelta != nil {
		return *p.HueMaxDelta
	}
	return defaultHueMaxDelta
}

// GetContrastRange returns the configured contrast factor range.
func (p *Profile) GetContrastRange() (float64, float64) {
	lo, hi := defaultContrastLo, defaultContrastHi
	if p != nil && p.ContrastLo != nil {
		lo = *p.ContrastLo
	}
	if p != nil && p.ContrastHi != nil {
		hi = *p.ContrastHi
	}
	return lo, hi
}

// GetSaltProb returns the configured value or the default.
func (p *Profile) GetSaltProb() float64 {
	if p != nil && p.SaltProb != nil {
		return *p.SaltProb
	}
	return defaultSaltProb
}

// GetPepperProb returns the configured value or the default.
func (p *Profile) GetPepperProb() float64 {
	if p != nil && p.PepperProb != nil {
		return *p.PepperProb
	}
	return defaultPepperProb
}

// GetNoiseStddev returns the configured value or the default.
func (p *Profile) GetNoiseStddev() float64 {
	if p != nil && p.NoiseStddev != nil {
		return *p.NoiseStddev
	}
	return defaultNoiseStddev
}

// GetBlurProb returns the configured value or the default.
func (p *Profile) GetBlurProb() float64 {
	if p != nil && p.BlurProb != nil {
		return *p.BlurProb
	}
	return defaultBlurProb
}

// GetBlurSigma returns the configured value or the default.
func (p *Profile) GetBlurSigma() float64 {
	if p != nil && p.BlurSigma != nil {
		return *p.BlurSigma
	}
	return defaultBlurSigma
}

// GetJPEGQualityRange returns the configured quality range.
func (p *Profile) GetJPEGQualityRange() (int, int) {
	lo, hi := defaultJPEGQualityLo, defaultJPEGQualityHi
	if p != nil && p.JPEGQualityLo != nil {
		lo = *p.JPEGQualityLo
	}
	if p != nil && p.JPEGQualityHi != nil {
		hi = *p.JPEGQualityHi
	}
	return lo, hi
}

// GetRot90 reports whether random quarter-turn rotation is enabled.
func (p *Profile) GetRot90() bool {
	if p != nil && p.Rot90 != nil {
		return *p.Rot90
	}
	return defaultRot90
}

// GetFlipProb returns the configured value or the default.
func (p *Profile) GetFlipProb() float64 {
	if p != nil && p.FlipProb != nil {
		return *p.FlipProb
	}
	return defaultFlipProb
}

// GetElasticProb returns the configured value or the default.
func (p *Profile) GetElasticProb() float64 {
	if p != nil && p.ElasticProb != nil {
		return *p.ElasticProb
	}
	return defaultElasticProb
}

// GetElasticStddev returns the configured value or the default.
func (p *Profile) GetElasticStddev() float64 {
	if p != nil && p.ElasticStddev != nil {
		return *p.ElasticStddev
	}
	return defaultElasticStddev
}

// GetElasticKernel returns the configured value or the default.
func (p *Profile) GetElasticKernel() int {
	if p != nil && p.ElasticKernel != nil {
		return *p.ElasticKernel
	}
	return defaultElasticKernel
}

// Validate rejects out-of-range parameters. Called once when the profile is
// loaded, before any stream starts.
func (p *Profile) Validate() error {
	if v := p.GetBrightnessMaxDelta(); v < 0 || v > 1 {
		return fmt.Errorf("brightness_max_delta %v outside [0,1]", v)
	}
	if lo, hi := p.GetSaturationRange(); lo < 0 || hi < lo {
		return fmt.Errorf("saturation range [%v,%v] invalid", lo, hi)
	}
	if v := p.GetHueMaxDelta(); v < 0 || v > 0.5 {
		return fmt.Errorf("hue_max_delta %v outside [0,0.5]", v)
	}
	if lo, hi := p.GetContrastRange(); lo < 0 || hi < lo {
		return fmt.Errorf("contrast range [%v,%v] invalid", lo, hi)
	}
	for name, v := range map[string]float64{
		"salt_prob":    p.GetSaltProb(),
		"pepper_prob":  p.GetPepperProb(),
		"blur_prob":    p.GetBlurProb(),
		"flip_prob":    p.GetFlipProb(),
		"elastic_prob": p.GetElasticProb(),
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %v outside [0,1]", name, v)
		}
	}
	if v := p.GetNoiseStddev(); v < 0 {
		return fmt.Errorf("noise_stddev %v negative", v)
	}
	if v := p.GetBlurSigma(); v <= 0 {
		return fmt.Errorf("blur_sigma %v must be positive", v)
	}
	if lo, hi := p.GetJPEGQualityRange(); lo < 1 || hi > 100 || hi < lo {
		return fmt.Errorf("jpeg quality range [%d,%d] outside [1,100]", lo, hi)
	}
	if v := p.GetElasticStddev(); v < 0 {
		return fmt.Errorf("elastic_stddev %v negative", v)
	}
	if k := p.GetElasticKernel(); k < 3 || k%2 == 0 {
		return fmt.Errorf("elastic_kernel %d must be odd and >= 3", k)
	}
	return nil
}

// LoadProfile reads and validates a JSON profile file.
func LoadProfile(fsys fsutil.FileSystem, path string) (*Profile, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("augmentation profile must be a .json file, got %q", ext)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read augmentation profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse augmentation profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("augmentation profile %s: %w", path, err)
	}
	return &p, nil
}
