// Package api exposes the stroke classifier over HTTP.
package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nvr-ai/scan4stroke/images"
	"github.com/nvr-ai/scan4stroke/inference"
	"github.com/nvr-ai/scan4stroke/profiler"
)

// DefaultMaxUploadBytes bounds the size of an uploaded scan.
const DefaultMaxUploadBytes = 10 << 20

// ImageField is the multipart field carrying the scan.
const ImageField = "image"

// ClassifierService serves /health, /predict and /stats from an inference
// service.
type ClassifierService struct {
	service        *inference.Service
	profiler       *profiler.RuntimeProfiler
	maxUploadBytes int64
}

// NewClassifierService creates the HTTP handlers around svc.
//
// Arguments:
//   - svc: The inference service, ready or unavailable.
//   - prof: Receives request timings and outcomes; nil creates a private one.
//   - maxUploadBytes: The upload limit; non-positive selects DefaultMaxUploadBytes.
//
// Returns:
//   - *ClassifierService: The handlers.
func NewClassifierService(svc *inference.Service, prof *profiler.RuntimeProfiler, maxUploadBytes int64) *ClassifierService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if prof == nil {
		prof = profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	}
	return &ClassifierService{service: svc, profiler: prof, maxUploadBytes: maxUploadBytes}
}

// AddRoutes registers the endpoints on r.
func (s *ClassifierService) AddRoutes(r chi.Router) {
	r.Get("/health", s.Health)
	r.Post("/predict", RestHandler(s.Predict))
	r.Get("/stats", RestHandler(s.Stats))
}

// Stats reports request timings and outcome counters.
func (s *ClassifierService) Stats(r *http.Request) (any, error) {
	return s.profiler.Snapshot(), nil
}

// HealthResponse reports whether the classifier can serve predictions.
type HealthResponse struct {
	Status       string                `json:"status"`
	Model        string                `json:"model,omitempty"`
	FeatureCount int                   `json:"feature_count,omitempty"`
	Resolution   *inference.Resolution `json:"resolution,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Assets       []inference.AssetRef  `json:"assets,omitempty"`
}

// Health answers 200 when the service is ready and 503, with the failure and
// the required assets, when it is not.
func (s *ClassifierService) Health(w http.ResponseWriter, r *http.Request) {
	if !s.service.Ready() {
		res := HealthResponse{Status: "unavailable", Assets: s.service.Assets()}
		if err := s.service.Err(); err != nil {
			res.Reason = err.Error()
		}
		WriteJsonResponse(w, http.StatusServiceUnavailable, res)
		return
	}

	c := s.service.Context()
	cfg := c.Preprocessor().Config()
	WriteJsonResponse(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Model:        c.ModelName(),
		FeatureCount: c.Mask().Len(),
		Resolution:   &inference.Resolution{Width: cfg.Width, Height: cfg.Height},
	})
}

// Predict classifies the uploaded scan. The scan is either the multipart
// field "image" or the raw request body.
func (s *ClassifierService) Predict(r *http.Request) (any, error) {
	if !s.service.Ready() {
		s.profiler.Increment("error.unavailable")
		return nil, CodedError(http.StatusServiceUnavailable, inference.ErrUnavailable)
	}

	data, err := s.readScan(r)
	if err != nil {
		s.profiler.Increment("error.request")
		return nil, err
	}

	done := s.profiler.StartOperation("predict")
	result, err := s.service.Infer(r.Context(), data)
	done()
	if err != nil {
		code := statusFor(err)
		if code == http.StatusBadRequest {
			s.profiler.Increment("error.image")
		} else {
			s.profiler.Increment("error.prediction")
		}
		return nil, CodedError(code, err)
	}

	s.profiler.Increment("label." + string(result.Label))
	return result, nil
}

func (s *ClassifierService) readScan(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.readMultipart(r)
	}

	switch mediaType {
	case "", "application/octet-stream", "image/jpeg", "image/png":
	default:
		return nil, CodedErrorf(http.StatusUnsupportedMediaType, "unsupported content type %q", mediaType)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, s.bodyError(err)
	}
	if len(data) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no image provided")
	}
	return data, nil
}

func (s *ClassifierService) readMultipart(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, s.bodyError(err)
	}

	file, header, err := r.FormFile(ImageField)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "no image provided in field %q", ImageField)
	}
	defer file.Close()

	if _, ok := images.FormatFromFilename(header.Filename); !ok {
		return nil, CodedErrorf(http.StatusBadRequest,
			"unsupported file type %q: only jpg, jpeg and png are accepted", header.Filename)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, s.bodyError(err)
	}
	if len(data) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "uploaded image is empty")
	}
	return data, nil
}

// bodyError maps a read failure to 413 or 400. mime/multipart does not wrap
// *http.MaxBytesError, so the message is matched as well.
func (s *ClassifierService) bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return CodedErrorf(http.StatusRequestEntityTooLarge, "image exceeds %d bytes", s.maxUploadBytes)
	}
	return CodedErrorf(http.StatusBadRequest, "unable to read request body: %v", err)
}

// statusFor maps inference failures to HTTP statuses.
func statusFor(err error) int {
	var imageErr *inference.ImageProcessingError
	switch {
	case errors.Is(err, inference.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &imageErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
