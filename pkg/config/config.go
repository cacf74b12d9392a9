// Package config provides configuration loading and management for volumecaster.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"volumecaster/internal/models"
	"volumecaster/pkg/octree"
	"volumecaster/pkg/raycaster"
	"volumecaster/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel rendering
		NumCores int `yaml:"numCores"`

		// SampleSpacing is the distance between samples along a ray in world units
		SampleSpacing float64 `yaml:"sampleSpacing"`

		// RayTermination stops sampling once compositing can no longer change
		RayTermination bool `yaml:"rayTermination"`

		// EmptySpaceSkip uses the octree to jump over transparent regions
		EmptySpaceSkip bool `yaml:"emptySpaceSkip"`

		// Compositing names the compositing method: accumulate, maximum, average or first
		Compositing string `yaml:"compositing"`

		// OpacityCutoff is the accumulated alpha at which Accumulate terminates
		OpacityCutoff float64 `yaml:"opacityCutoff"`

		// MatchingDensity is the density searched for by the First method
		MatchingDensity float64 `yaml:"matchingDensity"`

		// Supersampling casts supersampling x supersampling rays per pixel
		Supersampling int `yaml:"supersampling"`
	} `yaml:"processing"`

	// Grid parameters
	Grid struct {
		// Dataset names the preset to load
		Dataset string `yaml:"dataset"`

		// DataDir is the directory holding the raw dumps
		DataDir string `yaml:"dataDir"`

		// Position is the world position of the grid center
		Position []float64 `yaml:"position,flow"`

		// Rotation holds Euler angles in degrees; empty uses the dataset's recommendation
		Rotation []float64 `yaml:"rotation,flow"`

		// Scale is the edge length of the grid box along each axis
		Scale []float64 `yaml:"scale,flow"`

		// ColorTable overrides the dataset's transfer function when set
		ColorTable models.ColorTable `yaml:"colorTable,omitempty"`
	} `yaml:"grid"`

	// Octree parameters
	Octree struct {
		// MaxDepth is the subdivision depth; 0 disables subdivision
		MaxDepth int `yaml:"maxDepth"`

		// Incremental builds the tree in the background
		Incremental bool `yaml:"incremental"`

		// SlicesPerYield is how many pauses a node scan takes over its Z range
		SlicesPerYield int `yaml:"slicesPerYield"`

		// AutomaticBuild rebuilds after changes once the delays have passed
		AutomaticBuild bool `yaml:"automaticBuild"`

		// QuickDelay and NormalDelay are the rebuild delays in seconds
		QuickDelay  float64 `yaml:"quickDelay"`
		NormalDelay float64 `yaml:"normalDelay"`
	} `yaml:"octree"`

	// Camera parameters
	Camera struct {
		// Position is the eye point in world space
		Position []float64 `yaml:"position,flow"`

		// Rotation holds Euler angles in degrees
		Rotation []float64 `yaml:"rotation,flow"`

		// FieldOfView is the vertical opening angle in degrees
		FieldOfView float64 `yaml:"fieldOfView"`

		// ScreenDistance is the distance from the eye to the image plane
		ScreenDistance float64 `yaml:"screenDistance"`

		// Width and Height are the image size in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"camera"`

	// Output parameters
	Output struct {
		// Image is the path of the rendered image; the extension picks PNG or JPEG
		Image string `yaml:"image"`

		// PreviewScale resizes the written image; 1 keeps the rendered size
		PreviewScale float64 `yaml:"previewScale"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.SampleSpacing = 0.1
	cfg.Processing.RayTermination = true
	cfg.Processing.EmptySpaceSkip = false
	cfg.Processing.Compositing = models.Accumulate.String()
	cfg.Processing.OpacityCutoff = 1.0
	cfg.Processing.MatchingDensity = 0.5
	cfg.Processing.Supersampling = 1

	// Set default grid parameters
	cfg.Grid.Dataset = "bucky"
	cfg.Grid.DataDir = "data"
	cfg.Grid.Position = []float64{0, 0, 0}
	cfg.Grid.Scale = []float64{1, 1, 1}

	// Set default octree parameters
	cfg.Octree.MaxDepth = 0
	cfg.Octree.Incremental = false
	cfg.Octree.SlicesPerYield = octree.DefaultSlicesPerYield
	cfg.Octree.AutomaticBuild = true
	cfg.Octree.QuickDelay = 1
	cfg.Octree.NormalDelay = 3

	// Set default camera parameters
	cfg.Camera.Position = []float64{0, 0, -2}
	cfg.Camera.Rotation = []float64{0, 0, 0}
	cfg.Camera.FieldOfView = 60
	cfg.Camera.ScreenDistance = 1
	cfg.Camera.Width = 256
	cfg.Camera.Height = 256

	// Set default output parameters
	cfg.Output.Image = "render.png"
	cfg.Output.PreviewScale = 1
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the values that would otherwise produce an empty or
// undefined render.
func (c *Config) Validate() error {
	p := c.Processing
	if p.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", p.NumCores)
	}
	if p.SampleSpacing <= 0 {
		return fmt.Errorf("sampleSpacing must be positive, got %g", p.SampleSpacing)
	}
	if _, err := models.ParseCompositingMethod(p.Compositing); err != nil {
		return err
	}
	if p.OpacityCutoff <= 0 || p.OpacityCutoff > 1 {
		return fmt.Errorf("opacityCutoff must be in (0, 1], got %g", p.OpacityCutoff)
	}
	if p.Supersampling < 1 {
		return fmt.Errorf("supersampling must be at least 1, got %d", p.Supersampling)
	}

	if _, err := volume.LookupDataset(c.Grid.Dataset); err != nil {
		return err
	}
	for name, v := range map[string][]float64{
		"grid.position":   c.Grid.Position,
		"grid.scale":      c.Grid.Scale,
		"camera.position": c.Camera.Position,
		"camera.rotation": c.Camera.Rotation,
	} {
		if len(v) != 3 {
			return fmt.Errorf("%s needs 3 components, got %d", name, len(v))
		}
	}
	if len(c.Grid.Rotation) != 0 && len(c.Grid.Rotation) != 3 {
		return fmt.Errorf("grid.rotation needs 0 or 3 components, got %d", len(c.Grid.Rotation))
	}
	for _, s := range c.Grid.Scale {
		if s <= 0 {
			return fmt.Errorf("grid.scale must be positive, got %v", c.Grid.Scale)
		}
	}
	if len(c.Grid.ColorTable) > 0 {
		if err := c.Grid.ColorTable.Validate(); err != nil {
			return fmt.Errorf("grid.colorTable: %w", err)
		}
	}

	if c.Octree.MaxDepth < 0 {
		return fmt.Errorf("octree.maxDepth must not be negative, got %d", c.Octree.MaxDepth)
	}
	if c.Octree.QuickDelay < 0 || c.Octree.NormalDelay < 0 {
		return fmt.Errorf("octree delays must not be negative")
	}

	if c.Camera.FieldOfView <= 0 || c.Camera.FieldOfView >= 180 {
		return fmt.Errorf("camera.fieldOfView must be in (0, 180), got %g", c.Camera.FieldOfView)
	}
	if c.Camera.ScreenDistance <= 0 {
		return fmt.Errorf("camera.screenDistance must be positive, got %g", c.Camera.ScreenDistance)
	}
	if c.Camera.Width < 1 || c.Camera.Height < 1 {
		return fmt.Errorf("camera size must be at least 1x1, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Output.PreviewScale <= 0 {
		return fmt.Errorf("output.previewScale must be positive, got %g", c.Output.PreviewScale)
	}
	return nil
}

func vec(v []float64) r3.Vec {
	if len(v) != 3 {
		return r3.Vec{}
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// Table returns the configured transfer function, falling back to the
// dataset's recommendation.
func (c *Config) Table(ds volume.Dataset) models.ColorTable {
	if len(c.Grid.ColorTable) > 0 {
		return c.Grid.ColorTable.Clone()
	}
	return ds.Table.Clone()
}

// Transform returns the world placement of the grid
func (c *Config) Transform(ds volume.Dataset) volume.Transform {
	t := volume.Transform{
		Position: vec(c.Grid.Position),
		Rotation: ds.Rotation,
		Scale:    vec(c.Grid.Scale),
	}
	if len(c.Grid.Rotation) == 3 {
		t.Rotation = vec(c.Grid.Rotation)
	}
	return t
}

// CasterParams converts the processing section into ray casting parameters
func (c *Config) CasterParams(table models.ColorTable) (raycaster.Params, error) {
	method, err := models.ParseCompositingMethod(c.Processing.Compositing)
	if err != nil {
		return raycaster.Params{}, err
	}
	return raycaster.Params{
		Method:          method,
		Table:           table,
		SampleSpacing:   c.Processing.SampleSpacing,
		OpacityCutoff:   c.Processing.OpacityCutoff,
		MatchingDensity: c.Processing.MatchingDensity,
		RayTermination:  c.Processing.RayTermination,
		EmptySpaceSkip:  c.Processing.EmptySpaceSkip,
		NumCores:        c.Processing.NumCores,
	}, nil
}

// CameraSettings converts the camera section into a camera
func (c *Config) CameraSettings() raycaster.Camera {
	return raycaster.Camera{
		Position:       vec(c.Camera.Position),
		Rotation:       vec(c.Camera.Rotation),
		FieldOfView:    c.Camera.FieldOfView,
		ScreenDistance: c.Camera.ScreenDistance,
		Width:          c.Camera.Width,
		Height:         c.Camera.Height,
		Supersampling:  c.Processing.Supersampling,
	}
}

// OctreeOptions converts the octree section into manager options
func (c *Config) OctreeOptions(logger *log.Logger) octree.Options {
	return octree.Options{
		Incremental:    c.Octree.Incremental,
		SlicesPerYield: c.Octree.SlicesPerYield,
		AutomaticBuild: c.Octree.AutomaticBuild,
		QuickDelay:     time.Duration(c.Octree.QuickDelay * float64(time.Second)),
		NormalDelay:    time.Duration(c.Octree.NormalDelay * float64(time.Second)),
		Logger:         logger,
	}
}
