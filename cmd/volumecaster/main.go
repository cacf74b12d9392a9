package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"volumecaster/pkg/config"
	"volumecaster/pkg/octree"
	"volumecaster/pkg/raycaster"
	"volumecaster/pkg/visualization"
	"volumecaster/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volumecaster.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	dataset := flag.String("dataset", "", "Dataset preset to render (overrides config)")
	dataDir := flag.String("data-dir", "", "Directory containing the raw dumps (overrides config)")
	outputName := flag.String("output", "", "Output image, .png or .jpg (overrides config)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (overrides config)")
	method := flag.String("method", "", "Compositing method: accumulate, maximum, average, first (overrides config)")
	depth := flag.Int("depth", -1, "Octree depth, 0 disables subdivision (overrides config)")
	skip := flag.Bool("skip", false, "Enable empty-space skipping")
	breakdownX := flag.Int("breakdown-x", -1, "Print the ray calculation breakdown of this pixel column")
	breakdownY := flag.Int("breakdown-y", -1, "Print the ray calculation breakdown of this pixel row")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save density slices along all axes")
	slicesDir := flag.String("slices-dir", "slices", "Directory to save extracted slices")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command line values win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			cfg.Grid.Dataset = *dataset
		case "data-dir":
			cfg.Grid.DataDir = *dataDir
		case "output":
			cfg.Output.Image = *outputName
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "method":
			cfg.Processing.Compositing = *method
		case "depth":
			cfg.Octree.MaxDepth = *depth
		case "skip":
			cfg.Processing.EmptySpaceSkip = *skip
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var logger *log.Logger
	if cfg.Output.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	fmt.Println("================================")
	fmt.Println("VOLUMECASTER: CPU DIRECT VOLUME RAY CASTING")
	fmt.Println("================================")

	// Load the dataset
	ds, err := volume.LookupDataset(cfg.Grid.Dataset)
	if err != nil {
		log.Fatalf("Failed to select dataset: %v", err)
	}
	library := volume.NewLibrary(cfg.Grid.DataDir)
	fmt.Printf("Loading %s (%dx%dx%d) from %s...\n", ds.Name, ds.SizeX, ds.SizeY, ds.SizeZ, cfg.Grid.DataDir)
	startTime := time.Now()
	grid, err := library.Select(ds.Name, func(slice, total int) {
		if cfg.Output.Verbose && (slice == total || slice%max(1, total/10) == 0) {
			fmt.Printf("  read %d/%d slices\n", slice, total)
		}
	})
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	grid = grid.WithTransform(cfg.Transform(ds))
	table := cfg.Table(ds)
	fmt.Printf("Loaded in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Transfer function: %s\n", table)

	// Build the octree
	manager := octree.NewManager(cfg.OctreeOptions(logger))
	defer manager.Close()
	if cfg.Processing.EmptySpaceSkip || cfg.Octree.MaxDepth > 0 {
		fmt.Printf("Building octree (depth %d)...\n", cfg.Octree.MaxDepth)
		startTime = time.Now()
		if _, err := manager.Build(grid, table, cfg.Octree.MaxDepth); err != nil {
			log.Fatalf("Octree build failed: %v", err)
		}
		stats := manager.Stats()
		fmt.Printf("Octree built in %.2f seconds: %d octants, %d occupied, %d skippable (%.1f%%)\n",
			time.Since(startTime).Seconds(), stats.Total, stats.Occupied, stats.Skippable, stats.SkippablePercent)
	}

	// Render
	params, err := cfg.CasterParams(table)
	if err != nil {
		log.Fatalf("Invalid processing parameters: %v", err)
	}
	caster := raycaster.New(grid, manager, params, logger)
	camera := cfg.CameraSettings()

	fmt.Printf("Rendering %dx%d (%s, %d cores)...\n", camera.Width, camera.Height, params.Method, params.NumCores)
	frame, err := caster.Render(context.Background(), camera)
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	fmt.Printf("\nRender completed: %s\n", frame.Stats)
	if frame.Stats.TerminatedPixels > 0 {
		fmt.Printf("- %d pixels terminated early\n", frame.Stats.TerminatedPixels)
	}

	img, err := visualization.ScalePreview(visualization.FrameImage(frame), cfg.Output.PreviewScale)
	if err != nil {
		log.Fatalf("Failed to scale image: %v", err)
	}
	if err := visualization.SaveImage(img, cfg.Output.Image); err != nil {
		log.Fatalf("Failed to save image: %v", err)
	}
	fmt.Printf("Image saved to: %s\n", cfg.Output.Image)

	// Ray calculation breakdown of a single pixel
	if *breakdownX >= 0 && *breakdownY >= 0 {
		if *breakdownX >= camera.Width || *breakdownY >= camera.Height {
			log.Fatalf("Pixel (%d, %d) is outside the %dx%d image", *breakdownX, *breakdownY, camera.Width, camera.Height)
		}
		// Image rows run top to bottom, frame rows bottom to top
		row := camera.Height - 1 - *breakdownY
		for i, vr := range caster.CastPixel(camera, *breakdownX, row) {
			before, in, after := vr.Ray.Distances()
			fmt.Printf("\nRay %d of pixel (%d, %d): %d retained, %d skipped, %d octants\n",
				i, *breakdownX, *breakdownY, vr.Stats.Retained, len(vr.Stats.Skipped), len(vr.Stats.Nodes))
			fmt.Printf("Distances: %.4f before, %.4f inside, %.4f after\n", before, in, after)
			if _, err := vr.Ray.Breakdown().WriteTo(os.Stdout); err != nil {
				log.Fatalf("Failed to write breakdown: %v", err)
			}
			fmt.Printf("Final color: %s\n", vr.Ray.PixelColor())
		}
	}

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting density slices along all axes...")
		viewer := visualization.NewViewer(grid)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		// One transfer-mapped slice through the middle for comparison with the render
		colored, err := viewer.ExtractColorSlice("z", grid.SizeZ/2, table)
		if err == nil {
			err = visualization.SaveImage(colored, filepath.Join(*slicesDir, "transfer_z_mid.png"))
		}
		if err != nil {
			log.Printf("Warning: Failed to save transfer slice: %v", err)
		}
		fmt.Println("Slice extraction completed!")
	}
}
