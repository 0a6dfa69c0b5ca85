package api

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"multicam/internal/capture"
	"multicam/internal/config"
	"multicam/internal/logger"
)

// Server represents the HTTP snapshot server
type Server struct {
	router    *mux.Router
	system    *capture.System
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewServer creates a new snapshot server over a started capture system
func NewServer(system *capture.System, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		system:    system,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		log: *logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera inventory
	api.HandleFunc("/cameras", s.handleGetCameras).Methods("GET")

	// Snapshots
	api.HandleFunc("/snapshot", s.handleBatchSnapshot).Methods("GET")
	api.HandleFunc("/snapshot/{index}", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/snap/ws", s.handleSnapSocket)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info().Str("addr", addr).Msg("Starting snapshot server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler gives tests direct access to the routed handler chain.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// HTTP Handlers

type cameraInfo struct {
	Index  int    `json:"index"`
	Device string `json:"device"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func (s *Server) handleGetCameras(w http.ResponseWriter, r *http.Request) {
	cameras := make([]cameraInfo, len(s.system.Cameras))
	for i, cam := range s.system.Cameras {
		cameras[i] = cameraInfo{
			Index:  i,
			Device: cam.Device,
			Width:  cam.Width,
			Height: cam.Height,
			Format: cam.Format.String(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cameras)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 0 || index >= len(s.system.Cameras) {
		http.Error(w, "unknown camera index", http.StatusNotFound)
		return
	}

	frame, err := s.system.Cameras[index].Read(r.Context())
	if err != nil {
		s.log.Error().Err(err).Int("camera", index).Msg("Snapshot failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.writePNG(w, r, frameToImage(frame))
}

func (s *Server) handleBatchSnapshot(w http.ResponseWriter, r *http.Request) {
	set, err := s.system.BatchRead(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Batch snapshot failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// Stack the frames vertically into one image, in device order.
	combined := image.NewNRGBA(image.Rect(0, 0, set.Width, set.Height*set.Cameras))
	for i := 0; i < set.Cameras; i++ {
		img := frameToImage(set.Frame(i))
		draw.Draw(combined, image.Rect(0, i*set.Height, set.Width, (i+1)*set.Height),
			img, image.Point{}, draw.Src)
	}

	s.writePNG(w, r, combined)
}

// snapHeader precedes every binary frame set sent over the socket.
type snapHeader struct {
	Cameras int    `json:"cameras"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Error   string `json:"error,omitempty"`
}

// handleSnapSocket serves one batch snapshot per client request
// message: the client sends any text message, the server answers with
// a JSON header followed by the raw RGB frame set as a single binary
// message.
func (s *Server) handleSnapSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		set, err := s.system.BatchRead(context.Background())
		if err != nil {
			if werr := conn.WriteJSON(snapHeader{Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		header := snapHeader{Cameras: set.Cameras, Width: set.Width, Height: set.Height}
		if err := conn.WriteJSON(header); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, set.Data); err != nil {
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"cameras": len(s.system.Cameras),
	})
}

// writePNG encodes img, downscaling first when the request carries a
// width query parameter smaller than the image.
func (s *Server) writePNG(w http.ResponseWriter, r *http.Request, img *image.NRGBA) {
	if q := r.URL.Query().Get("width"); q != "" {
		width, err := strconv.Atoi(q)
		if err != nil || width <= 0 {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		if width < img.Bounds().Dx() {
			bounds := img.Bounds()
			height := bounds.Dy() * width / bounds.Dx()
			scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
			draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
			img = scaled
		}
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		s.log.Error().Err(err).Msg("PNG encode failed")
	}
}

// frameToImage copies a packed RGB frame into an NRGBA image.
func frameToImage(f capture.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j+0] = f.Data[i+0]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
