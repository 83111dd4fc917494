package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"example/planartrack/features"
	"example/planartrack/imageio"
	"example/planartrack/recognition"
	"example/planartrack/templatedb"
)

const usage = `Usage:
  planartrack train [flags] <template.png> ...
  planartrack track [flags] <frame.png> ...`

// FrameResult is one line of the track output.
type FrameResult struct {
	Frame      string            `json:"frame"`
	Located    bool              `json:"located"`
	State      recognition.State `json:"state"`
	Template   string            `json:"template,omitempty"`
	Homography []float64         `json:"homography,omitempty"`
	Outline    []image.Point     `json:"outline,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Println(usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "train":
		return runTrain(args[1:])
	case "track":
		return runTrack(args[1:])
	default:
		fmt.Println(usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loadConfig(path string) (recognition.Config, error) {
	if path == "" {
		return recognition.DefaultConfig(), nil
	}
	return recognition.LoadConfig(path)
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	outDir := fs.String("out", "templates", "Directory to write template records to.")
	configPath := fs.String("config", "", "Path to a YAML config file.")
	compress := fs.String("compress", "", "Record compression: none, zstd or lz4.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	imagePaths := fs.Args()
	if len(imagePaths) == 0 {
		fs.PrintDefaults()
		return errors.New("at least one template image is required")
	}

	ext := templatedb.RecordExt
	switch *compress {
	case "", "none":
	case "zstd":
		ext = templatedb.RecordExtZstd
	case "lz4":
		ext = templatedb.RecordExtLZ4
	default:
		return fmt.Errorf("unknown compression %q", *compress)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	extractor := cfg.NewExtractor(nil)
	defer extractor.Close()

	for _, path := range imagePaths {
		img, err := imageio.LoadGray(path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		set := features.FromImage(extractor, img, name)
		img.Close()
		if set.Empty() {
			return fmt.Errorf("no features found in %s", path)
		}

		recordPath := filepath.Join(*outDir, strings.TrimSuffix(name, filepath.Ext(name))+ext)
		if err := templatedb.SaveRecord(recordPath, set); err != nil {
			return err
		}
		log.Printf("Saved %d features of %s (%dx%d) to %s", set.Len(), name, set.Width, set.Height, recordPath)
	}
	return nil
}

func runTrack(args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	templateDir := fs.String("templates", "templates", "Directory of template records.")
	configPath := fs.String("config", "", "Path to a YAML config file.")
	frameDir := fs.String("frames", "", "Directory of frames, used when no frames are given as arguments.")
	outputPath := fs.String("output", "results.json", "Path to save the per-frame results.")
	overlayDir := fs.String("overlay", "", "If set, write each frame with the located outline drawn on it here.")
	verbose := fs.Bool("v", false, "Log per-frame failures.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	framePaths := fs.Args()
	if len(framePaths) == 0 && *frameDir != "" {
		var err error
		if framePaths, err = imageio.ListFrames(*frameDir); err != nil {
			return err
		}
	}
	if len(framePaths) == 0 {
		fs.PrintDefaults()
		return errors.New("no frames to process")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	extractor := cfg.NewExtractor(logger)
	defer extractor.Close()
	engine, err := recognition.New(cfg.NewDatabase(logger), extractor,
		recognition.WithConfig(cfg),
		recognition.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.LoadDir(context.Background(), *templateDir)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d templates from %s", n, *templateDir)

	if *overlayDir != "" {
		if err := os.MkdirAll(*overlayDir, 0o755); err != nil {
			return fmt.Errorf("failed to create overlay directory: %w", err)
		}
	}

	results := make([]FrameResult, 0, len(framePaths))
	located := 0
	for _, path := range framePaths {
		res, err := processFrame(engine, cfg, path, *overlayDir)
		if err != nil {
			return err
		}
		if res.Located {
			located++
		}
		results = append(results, res)
	}

	file, err := os.Create(*outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	stats := engine.Stats()
	log.Printf("Located the template in %d of %d frames (%d tracked, %d fallbacks, %.1f matches on average)",
		located, len(results), stats.TrackedFrames, stats.Fallbacks, stats.AverageMatches)
	log.Printf("Results written to %s", *outputPath)
	return nil
}

func processFrame(engine *recognition.Engine, cfg recognition.Config, path, overlayDir string) (FrameResult, error) {
	img, err := imageio.Decode(path)
	if err != nil {
		return FrameResult{}, err
	}
	frame, err := imageio.PrepareFrame(img, cfg.Frame.Width, cfg.Frame.Height)
	if err != nil {
		return FrameResult{}, err
	}
	defer frame.Close()

	res := FrameResult{Frame: filepath.Base(path)}
	r := engine.ProcessFrame(frame)
	res.Located, res.State = r.Located, r.State
	if r.Located {
		res.Homography = r.Homography[:]
		res.Template = r.TemplateName
		if r.Convex {
			res.Outline = r.Outline[:]
		}
	} else if r.Err != nil {
		res.Error = r.Err.Error()
	}

	if overlayDir != "" {
		if err := writeOverlay(engine, frame, filepath.Join(overlayDir, res.Frame)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func writeOverlay(engine *recognition.Engine, frame gocv.Mat, path string) error {
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(frame, &bgr, gocv.ColorGrayToBGR)
	engine.DrawOverlay(&bgr)

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
		path += ".png"
	}
	if !gocv.IMWrite(path, bgr) {
		return fmt.Errorf("failed to write overlay %s", path)
	}
	return nil
}
