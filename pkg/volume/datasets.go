package volume

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
)

// ErrUnknownDataset is returned for a dataset name that has no preset
var ErrUnknownDataset = errors.New("unknown dataset")

// Dataset describes one of the built-in voxel dumps. Dimensions are not
// stored in the files, so they live here.
type Dataset struct {
	// Name is the lower-case identifier used in configuration
	Name string

	// File is the raw dump file name inside the data directory
	File string

	// SizeX, SizeY, SizeZ are the voxel dimensions of the dump
	SizeX, SizeY, SizeZ int

	// Rotation is the recommended Euler rotation in degrees
	Rotation r3.Vec

	// Table is the recommended transfer function
	Table models.ColorTable
}

var datasets = map[string]Dataset{
	"bucky": {
		Name: "bucky", File: "bucky32x32x32.raw",
		SizeX: 32, SizeY: 32, SizeZ: 32,
		Table: models.ColorTable{
			{Density: 0.2, Color: models.Clear},
			{Density: 0.4, Color: models.NewColor(0, 0, 0, 0.3)},
			{Density: 0.7, Color: models.NewColor(0.5, 0.5, 0.5, 0.3)},
			{Density: 0.9, Color: models.NewColor(1, 1, 1, 0.3)},
			{Density: 1.0, Color: models.NewColor(1, 1, 1, 0.3)},
		},
	},
	"bunny": {
		Name: "bunny", File: "bunny512x512x361.raw",
		SizeX: 512, SizeY: 512, SizeZ: 361,
		// stored upside down
		Rotation: r3.Vec{X: 90, Y: 180, Z: 180},
		Table: models.ColorTable{
			{Density: 0, Color: models.Clear},
			{Density: 0, Color: models.Clear},
			{Density: 0, Color: models.Clear},
			{Density: 0.568, Color: models.NewColor(0, 1, 0, 0.3)},
			{Density: 1.0, Color: models.Clear},
		},
	},
	"engine": {
		Name: "engine", File: "engine256x256x256.raw",
		SizeX: 256, SizeY: 256, SizeZ: 256,
		Table: models.ColorTable{
			{Density: 0, Color: models.Clear},
			{Density: 0, Color: models.Clear},
			{Density: 0.2, Color: models.Clear},
			{Density: 0.556, Color: models.NewColor(1, 0, 0, 0.3)},
			{Density: 1.0, Color: models.NewColor(0, 0, 1, 0.7)},
		},
	},
	"hazelnut": {
		Name: "hazelnut", File: "hnut256_uint.raw",
		SizeX: 256, SizeY: 256, SizeZ: 256,
		Table: models.ColorTable{
			{Density: 0.06, Color: models.Clear},
			{Density: 0.07, Color: models.NewColor(0, 1, 0, 0.3)},
			{Density: 0.32, Color: models.NewColor(0, 1, 0, 0.3)},
			{Density: 0.33, Color: models.NewColor(0, 0, 1, 0.3)},
			{Density: 0.42, Color: models.NewColor(1, 0.55, 0, 0.3)},
		},
	},
}

// LookupDataset returns the preset with the given name (case-insensitive)
func LookupDataset(name string) (Dataset, error) {
	d, ok := datasets[strings.ToLower(name)]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDataset, name, strings.Join(DatasetNames(), ", "))
	}
	d.Table = d.Table.Clone()
	return d, nil
}

// DatasetNames lists the preset names in sorted order
func DatasetNames() []string {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
