package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/cluster"
	"github.com/dreamware/graphps/internal/consistency"
	"github.com/dreamware/graphps/internal/shard"
)

// MaxRequestBytes caps a single request blob.
const MaxRequestBytes = 1 << 30

// NewHandler serves table requests for backend:
//
//	POST /table/{id}/get   Get and DotProd
//	POST /table/{id}/add   Add and Adjust
//	POST /finish           end of training for the requesting worker
//
// The worker is named by the X-Worker-ID header.
func NewHandler(backend Backend, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "transport").Logger()
	mux := http.NewServeMux()

	serve := func(op func(ctx context.Context, worker, table int, req blob.Blob) (blob.Blob, error)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			worker, ok := workerID(w, r)
			if !ok {
				return
			}
			table, err := strconv.Atoi(r.PathValue("id"))
			if err != nil {
				http.Error(w, "invalid table id", http.StatusBadRequest)
				return
			}
			req, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}

			reply, err := op(r.Context(), worker, table, req)
			if err != nil {
				code := statusFor(err)
				if code >= http.StatusInternalServerError {
					log.Error().Err(err).Int("worker", worker).Int("table", table).Msg("request failed")
				}
				http.Error(w, err.Error(), code)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			if _, err := w.Write(reply); err != nil {
				log.Warn().Err(err).Int("worker", worker).Msg("error writing reply")
			}
		}
	}

	mux.HandleFunc("POST /table/{id}/get", serve(backend.Get))
	mux.HandleFunc("POST /table/{id}/add", serve(backend.Add))
	mux.HandleFunc("POST /finish", func(w http.ResponseWriter, r *http.Request) {
		worker, ok := workerID(w, r)
		if !ok {
			return
		}
		if err := backend.Finish(r.Context(), worker); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		log.Info().Int("worker", worker).Msg("worker finished")
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func workerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	worker, err := strconv.Atoi(r.Header.Get(cluster.WorkerHeader))
	if err != nil {
		http.Error(w, "missing or invalid "+cluster.WorkerHeader, http.StatusBadRequest)
		return 0, false
	}
	return worker, true
}

// statusFor maps request errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, blob.ErrMalformed),
		errors.Is(err, blob.ErrUnexpectedOp),
		errors.Is(err, shard.ErrKeyOutOfRange),
		errors.Is(err, shard.ErrUnsupportedOp),
		errors.Is(err, consistency.ErrUnknownWorker):
		return http.StatusBadRequest
	case errors.Is(err, consistency.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, consistency.ErrFinished):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
