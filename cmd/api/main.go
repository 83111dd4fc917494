package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example/planartrack/imageio"
	"example/planartrack/internal/metrics"
	"example/planartrack/recognition"
)

// maximum accepted upload size
const maxFrameBytes = 16 << 20

type FrameResponse struct {
	Located    bool              `json:"located"`
	State      recognition.State `json:"state"`
	Template   string            `json:"template,omitempty"`
	Homography []float64         `json:"homography,omitempty"`
	Outline    []image.Point     `json:"outline,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ReloadRequest names a subdirectory of the template directory to load
// instead of the directory itself.
type ReloadRequest struct {
	Dir string `json:"dir"`
}

type StateResponse struct {
	State     recognition.State `json:"state"`
	Templates int               `json:"templates"`
	Stats     recognition.Stats `json:"stats"`
}

type server struct {
	engine      *recognition.Engine
	cfg         recognition.Config
	templateDir string
	registry    *prometheus.Registry
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/process", s.frameHandler(false))
	mux.HandleFunc("/recognize", s.frameHandler(true))
	mux.HandleFunc("/reload", s.reloadHandler)
	mux.HandleFunc("/state", s.stateHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// frameHandler accepts a PNG or JPEG frame as the request body. Frames of any
// size are reduced to the working resolution.
func (s *server) frameHandler(singleShot bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
			return
		}

		img, _, err := image.Decode(http.MaxBytesReader(w, r.Body, maxFrameBytes))
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to decode frame: %v", err), http.StatusBadRequest)
			return
		}
		frame, err := imageio.PrepareFrame(img, s.cfg.Frame.Width, s.cfg.Frame.Height)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer frame.Close()

		var res recognition.Result
		if singleShot {
			res = s.engine.RecognizeFrame(frame)
		} else {
			res = s.engine.ProcessFrame(frame)
		}
		resp := FrameResponse{Located: res.Located, State: res.State}
		if res.Located {
			resp.Homography = res.Homography[:]
			resp.Template = res.TemplateName
			if res.Convex {
				resp.Outline = res.Outline[:]
			}
		} else if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		writeJSON(w, resp)
	}
}

func (s *server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReloadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	dir := s.templateDir
	if req.Dir != "" {
		if !filepath.IsLocal(req.Dir) {
			http.Error(w, "dir must be relative to the template directory", http.StatusBadRequest)
			return
		}
		dir = filepath.Join(s.templateDir, req.Dir)
	}

	n, err := s.engine.LoadDir(r.Context(), dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("Reloaded %d templates from %s", n, dir)
	writeJSON(w, map[string]int{"templates": n})
}

func (s *server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, StateResponse{
		State:     s.engine.State(),
		Templates: s.engine.TemplateCount(),
		Stats:     s.engine.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func newServer(cfg recognition.Config, templateDir string, logger *slog.Logger) (*server, func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	extractor := cfg.NewExtractor(logger)
	engine, err := recognition.New(cfg.NewDatabase(logger), extractor,
		recognition.WithConfig(cfg),
		recognition.WithLogger(logger),
		recognition.WithObserver(metrics.NewPrometheusObserver(registry)),
	)
	if err != nil {
		extractor.Close()
		return nil, nil, err
	}
	cleanup := func() {
		engine.Close()
		extractor.Close()
	}

	if templateDir != "" {
		n, err := engine.LoadDir(context.Background(), templateDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Printf("Loaded %d templates from %s", n, templateDir)
	}
	return &server{engine: engine, cfg: cfg, templateDir: templateDir, registry: registry}, cleanup, nil
}

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	templateDir := flag.String("templates", "templates", "Directory of template records")
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg := recognition.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = recognition.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv, cleanup, err := newServer(cfg, *templateDir, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Starting server on %s", addr)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal(err)
	}
}
