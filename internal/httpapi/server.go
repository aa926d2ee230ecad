package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/archive"
	"inferd/internal/serving"
	"inferd/pkg/types"
	"inferd/pkg/wire"
)

// Service defines the serving-core methods required by the HTTP layer.
type Service interface {
	Infer(ctx context.Context, req []byte) ([]byte, error)
	Status() types.StatusResponse
	Ready() bool
}

// Updater accepts an uploaded model archive and swaps it in.
type Updater interface {
	Update(ctx context.Context, blob []byte, device string) error
}

// NewMux builds the router: binary /infer and multipart /update_model,
// plus JSON status and the usual health and metrics endpoints.
func NewMux(svc Service, up Updater) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Binary payloads are never sniffed.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/octet-stream") {
			writeWireError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/octet-stream")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeWireError(w, http.StatusBadRequest, "cannot read request body")
			return
		}

		start := time.Now()
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Infer(joinedCtx, body)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := http.StatusInternalServerError
			switch {
			case wire.IsCodecError(err):
				status = http.StatusBadRequest
			case serving.IsNotReady(err):
				status = http.StatusServiceUnavailable
			case serving.IsInferenceError(err):
				status = http.StatusInternalServerError
			}
			// Inference failures come with their envelope already encoded.
			if len(resp) > 0 {
				w.Header().Set("Content-Type", "application/octet-stream")
				w.WriteHeader(status)
				w.Write(resp)
			} else {
				writeWireError(w, status, err.Error())
			}
			logRequest(r, "infer", status, time.Since(start), err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(resp)
		logRequest(r, "infer", http.StatusOK, time.Since(start), nil)
	})

	r.Post("/update_model", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := r.ParseMultipartForm(maxArchiveBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "no file part")
			return
		}
		defer f.Close()
		if fh.Filename == "" {
			writeJSONError(w, http.StatusBadRequest, "no selected file")
			return
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".tar") {
			writeJSONError(w, http.StatusBadRequest, "only .tar (uncompressed archive) is allowed")
			return
		}
		blob, err := io.ReadAll(io.LimitReader(f, maxArchiveBytes+1))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "cannot read uploaded file")
			return
		}
		if int64(len(blob)) > maxArchiveBytes {
			writeJSONError(w, http.StatusBadRequest, "archive exceeds size limit")
			return
		}
		device := strings.TrimSpace(r.FormValue("device"))
		if device == "" {
			// Keep serving on whatever device the active model uses.
			device = svc.Status().Device
		}

		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := up.Update(joinedCtx, blob, device); err != nil {
			status := http.StatusInternalServerError
			switch {
			case archive.IsPathTraversal(err), archive.IsArchiveTooLarge(err), archive.IsInvalidArchive(err):
				status = http.StatusBadRequest
			case serving.IsBusy(err):
				status = http.StatusTooManyRequests
				IncrementBusy("swap_in_progress")
			case serving.IsNotReady(err):
				status = http.StatusServiceUnavailable
			}
			writeJSONError(w, status, err.Error())
			logRequest(r, "update_model", status, time.Since(start), err)
			return
		}
		writeJSON(w, http.StatusOK, types.UpdateResponse{Message: "model updated successfully"})
		logRequest(r, "update_model", http.StatusOK, time.Since(start), nil)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// writeWireError sends a binary status:"error" envelope; /infer clients
// speak the wire codec, not JSON.
func writeWireError(w http.ResponseWriter, status int, msg string) {
	b, err := wire.Encode(wire.NewMap().
		Set("status", wire.String("error")).
		Set("message", wire.String(msg)))
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	w.Write(b)
}
