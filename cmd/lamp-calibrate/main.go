package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/dj-oyu/lamp-monitor/internal/capture"
	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/internal/config"
	"github.com/dj-oyu/lamp-monitor/internal/region"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

func main() {
	imagePath := flag.String("image", "", "Calibration image (PNG or JPEG)")
	configPath := flag.String("config", "", "Take the region from this configuration file")
	lamp := flag.String("region", "orange", "Region to use from -config (orange, green)")
	x1 := flag.Int("x1", -1, "Region left edge (overrides -config)")
	y1 := flag.Int("y1", -1, "Region top edge")
	x2 := flag.Int("x2", -1, "Region right edge (exclusive)")
	y2 := flag.Int("y2", -1, "Region bottom edge (exclusive)")
	save := flag.Bool("save", false, "Write the region back into -config")
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}
	img, err := capture.LoadImage(*imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}

	if *save && *configPath == "" {
		log.Fatal("-save requires -config")
	}

	r := types.Rect{X1: 0, Y1: 0, X2: img.Bounds().Dx(), Y2: img.Bounds().Dy()}
	var cfg *config.Config
	var target *types.Rect
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		switch *lamp {
		case "orange":
			target = &cfg.Coordinates.Orange
		case "green":
			target = &cfg.Coordinates.Green
		default:
			log.Fatalf("Unknown region %q", *lamp)
		}
		r = *target
	}
	if *x1 >= 0 && *y1 >= 0 && *x2 >= 0 && *y2 >= 0 {
		r = types.Rect{X1: *x1, Y1: *y1, X2: *x2, Y2: *y2}
	}

	sub, err := region.Extract(types.Frame{Image: img, Source: *imagePath}, r)
	if err != nil {
		log.Fatalf("Failed to extract region: %v", err)
	}
	brightness, err := classify.Brightness(sub)
	if err != nil {
		log.Fatalf("Failed to measure brightness: %v", err)
	}
	fmt.Printf("Region (%d,%d)-(%d,%d), %d pixels, brightness %.1f\n\n",
		r.X1, r.Y1, r.X2, r.Y2, region.Area(region.Clamp(r, img.Bounds())), brightness)

	results, err := classify.Compare(sub)
	if err != nil {
		log.Fatalf("Failed to classify region: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESET\tPREPROCESS\tORANGE\tGREEN\tORANGE %\tGREEN %")
	for _, c := range results {
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\t%.1f\t%.1f\n",
			c.Preset, c.Preprocess,
			c.Counts.Get(types.Orange), c.Counts.Get(types.Green),
			c.Percentages[types.Orange], c.Percentages[types.Green])
	}
	_ = tw.Flush()

	best, ok := classify.Best(results)
	if ok {
		fmt.Printf("\nBest: %s (preprocess=%v), %d classified pixels\n", best.Preset, best.Preprocess, best.Total)
	} else {
		fmt.Println("\nNo preset detected any lamp color in this region.")
	}

	if *save {
		*target = r
		if err := config.Save(*configPath, *cfg); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Printf("Saved %s region to %s\n", *lamp, *configPath)
	}
}
