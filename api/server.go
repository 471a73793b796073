// Package api - HTTP surface for the inference orchestrator.
package api

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/config"
	"github.com/accel-lab/go-accel/fusion"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference"
	"github.com/accel-lab/go-accel/tracker"
)

// Server serves the /ai endpoints over an orchestrator.
type Server struct {
	orch    *inference.Orchestrator
	probe   inference.SnapshotSource
	cfg     *config.Config
	started time.Time
	debug   bool
}

// New builds the HTTP server facade. Setting DEBUG in the environment turns
// on per-request timing logs.
func New(orch *inference.Orchestrator, probe inference.SnapshotSource, cfg *config.Config) *Server {
	return &Server{
		orch:    orch,
		probe:   probe,
		cfg:     cfg,
		started: time.Now(),
		debug:   os.Getenv("DEBUG") != "",
	}
}

// Router returns the configured route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ai/infer", s.handleInfer).Methods(http.MethodPost)
	r.HandleFunc("/ai/hardware", s.handleHardware).Methods(http.MethodGet)
	r.HandleFunc("/ai/engines", s.handleEngines).Methods(http.MethodGet)
	r.HandleFunc("/ai/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// inferRequest is the wire form of an inference call. Pointer fields
// distinguish "omitted" from zero so configured defaults can fill in.
type inferRequest struct {
	// Image is the base64-encoded JPEG or PNG. A data URI prefix is
	// tolerated and stripped.
	Image      string   `json:"image"`
	Engine     string   `json:"engine,omitempty"`
	Threshold  *float32 `json:"threshold,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Timeout    *float64 `json:"timeout,omitempty"`
	MaxResults *int     `json:"max_results,omitempty"`
}

type inferResponse struct {
	Success       bool                                `json:"success"`
	Detections    []common.Detection                  `json:"detections"`
	EngineUsed    hardware.Kind                       `json:"engine_used"`
	EnginesUsed   []hardware.Kind                     `json:"engines_used"`
	Fused         bool                                `json:"fused"`
	InferenceTime float64                             `json:"inference_time"`
	Performance   map[hardware.Kind]enginePerformance `json:"performance_metrics,omitempty"`
}

// enginePerformance reports one engine's contribution to a request, in
// seconds, alongside its recent rolling mean.
type enginePerformance struct {
	Latency     float64 `json:"latency"`
	MeanLatency float64 `json:"recent_mean_latency"`
}

type errorResponse struct {
	Success bool                `json:"success"`
	Kind    inference.ErrorKind `json:"error_kind"`
	Message string              `json:"message"`
	Engines []hardware.Kind     `json:"engines,omitempty"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var wire inferRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, &inference.Error{
			Kind:    inference.ErrKindInvalidRequest,
			Message: "malformed JSON body: " + err.Error(),
		})
		return
	}

	req, err := s.buildRequest(&wire)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, ierr := s.orch.Infer(r.Context(), req)
	if ierr != nil {
		writeError(w, ierr)
		return
	}

	performance := make(map[hardware.Kind]enginePerformance, len(resp.EngineLatency))
	for kind, latency := range resp.EngineLatency {
		performance[kind] = enginePerformance{
			Latency:     latency.Seconds(),
			MeanLatency: s.orch.Tracker().MeanLatency(kind).Seconds(),
		}
	}
	if s.debug {
		log.Printf("[api] infer strategy=%s engines=%v took %s", req.Strategy, resp.EnginesUsed, resp.InferenceTime)
	}

	writeJSON(w, http.StatusOK, inferResponse{
		Success:       true,
		Detections:    resp.Detections,
		EngineUsed:    resp.EngineUsed,
		EnginesUsed:   resp.EnginesUsed,
		Fused:         resp.Fused,
		InferenceTime: resp.InferenceTime.Seconds(),
		Performance:   performance,
	})
}

// buildRequest decodes the image and layers configured defaults under the
// caller's fields. Validation proper happens in the orchestrator.
func (s *Server) buildRequest(wire *inferRequest) (*inference.Request, error) {
	if wire.Image == "" {
		return nil, &inference.Error{Kind: inference.ErrKindInvalidRequest, Message: "image is required"}
	}

	raw := wire.Image
	if i := strings.Index(raw, ";base64,"); i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &inference.Error{
			Kind:    inference.ErrKindInvalidRequest,
			Message: "image is not valid base64",
			Cause:   err,
		}
	}

	img, err := images.Decode(data)
	if err != nil {
		return nil, &inference.Error{
			Kind:    inference.ErrKindInvalidRequest,
			Message: "image could not be decoded",
			Cause:   err,
		}
	}
	pixels, err := images.ToTensor(img, s.cfg.Input)
	if err != nil {
		return nil, &inference.Error{
			Kind:    inference.ErrKindInvalidRequest,
			Message: "image could not be preprocessed",
			Cause:   err,
		}
	}

	req := &inference.Request{
		Image:      pixels,
		Strategy:   inference.StrategyAuto,
		Threshold:  s.cfg.Defaults.Threshold,
		Priority:   fusion.Priority(wire.Priority),
		MaxResults: s.cfg.Defaults.MaxResults,
		Timeout:    s.cfg.Defaults.Timeout.Std(),
	}
	if wire.Engine != "" {
		req.Strategy = inference.Strategy(wire.Engine)
	}
	if wire.Threshold != nil {
		req.Threshold = *wire.Threshold
	}
	if wire.Timeout != nil {
		req.Timeout = time.Duration(*wire.Timeout * float64(time.Second))
	}
	if wire.MaxResults != nil {
		req.MaxResults = *wire.MaxResults
	}
	return req, nil
}

type hardwareResponse struct {
	Devices    []hardware.Device `json:"devices"`
	DualEngine bool              `json:"dual_engine"`
	Taken      time.Time         `json:"taken"`
}

func (s *Server) handleHardware(w http.ResponseWriter, r *http.Request) {
	snap := s.probe.Snapshot()
	writeJSON(w, http.StatusOK, hardwareResponse{
		Devices:    snap.Devices,
		DualEngine: snap.Available(hardware.KindHailo) && snap.Available(hardware.KindNVIDIA),
		Taken:      snap.Taken,
	})
}

type engineInfo struct {
	Name        inference.Strategy `json:"name"`
	Description string             `json:"description"`
	Available   bool               `json:"available"`
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	snap := s.probe.Snapshot()
	hailoUp := snap.Available(hardware.KindHailo)
	nvidiaUp := snap.Available(hardware.KindNVIDIA)

	infos := make([]engineInfo, 0, len(inference.Strategies))
	for _, strategy := range inference.Strategies {
		var available bool
		switch strategy {
		case inference.StrategyAuto:
			available = hailoUp || nvidiaUp
		case inference.StrategyHailo:
			available = hailoUp
		case inference.StrategyNVIDIA:
			available = nvidiaUp
		default:
			// Compound strategies need both engines.
			available = hailoUp && nvidiaUp
		}
		infos = append(infos, engineInfo{
			Name:        strategy,
			Description: strategy.Description(),
			Available:   available,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"engines": infos})
}

type engineHealth struct {
	Available bool          `json:"available"`
	Stats     tracker.Stats `json:"stats"`
}

type healthResponse struct {
	Status  string                         `json:"status"`
	Uptime  float64                        `json:"uptime"`
	Engines map[hardware.Kind]engineHealth `json:"engines"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.probe.Snapshot()

	engines := make(map[hardware.Kind]engineHealth, len(hardware.Kinds))
	available := 0
	for _, kind := range hardware.Kinds {
		up := snap.Available(kind)
		if up {
			available++
		}
		engines[kind] = engineHealth{
			Available: up,
			Stats:     s.orch.Tracker().StatsFor(kind),
		}
	}

	status := "ok"
	code := http.StatusOK
	switch available {
	case 0:
		status = "unavailable"
		code = http.StatusServiceUnavailable
	case 1:
		status = "degraded"
	}

	writeJSON(w, code, healthResponse{
		Status:  status,
		Uptime:  time.Since(s.started).Seconds(),
		Engines: engines,
	})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(kind inference.ErrorKind) int {
	switch kind {
	case inference.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case inference.ErrKindNoHardware, inference.ErrKindBackendUnavailable, inference.ErrKindDeviceBusy:
		return http.StatusServiceUnavailable
	case inference.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Kind: inference.ErrKindInference, Message: err.Error()}
	if e, ok := err.(*inference.Error); ok {
		resp.Kind = e.Kind
		resp.Engines = e.Engines
	}
	writeJSON(w, statusFor(resp.Kind), resp)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] writing response: %v", err)
	}
}
