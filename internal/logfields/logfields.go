package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyPhase      = "phase"
	KeyDocumentID = "document_id"
	KeyFileID     = "file_id"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyHash       = "content_hash"
	KeyCount      = "count"
	KeyWorker     = "worker"
	KeyDurationMS = "duration_ms"
	KeyModel      = "model"
	KeyAttempt    = "attempt"
	KeyBatchID    = "batch_id"
	KeyChain      = "chain_name"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func Phase(name string) slog.Attr     { return slog.String(KeyPhase, name) }
func DocumentID(id int64) slog.Attr   { return slog.Int64(KeyDocumentID, id) }
func FileID(id string) slog.Attr      { return slog.String(KeyFileID, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func Hash(h string) slog.Attr         { return slog.String(KeyHash, h) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Worker(w int) slog.Attr          { return slog.Int(KeyWorker, w) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Model(m string) slog.Attr        { return slog.String(KeyModel, m) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func BatchID(id string) slog.Attr     { return slog.String(KeyBatchID, id) }
func Chain(name string) slog.Attr     { return slog.String(KeyChain, name) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
