package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/logging"
	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/web/templates"
)

// maxJSONBody bounds translate and apply request bodies.
const maxJSONBody = 1 << 20

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// translateRequest asks for a candidate operation.
type translateRequest struct {
	VersionID   int64  `json:"version_id" validate:"required,gt=0"`
	Instruction string `json:"instruction" validate:"required,max=2000"`
	Kind        string `json:"kind" validate:"omitempty,oneof=substitute filter compute regex replace math"`
}

// applyRequest applies an operation to a version. The nested form is used
// by /api/apply; the kind-specific routes also accept the operation fields
// at the top level.
type applyRequest struct {
	VersionID int64                `json:"version_id" validate:"required,gt=0"`
	Operation *operation.Operation `json:"operation"`

	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Column      string `json:"column"`
	Expression  string `json:"expression"`
}

// resolve returns the operation to apply. A fixed kind overrides an empty
// kind and rejects a different one.
func (req applyRequest) resolve(fixed operation.Kind) (operation.Operation, error) {
	var op operation.Operation
	switch {
	case req.Operation != nil:
		op = *req.Operation
	case fixed != "":
		op = operation.Operation{
			Pattern:     req.Pattern,
			Replacement: req.Replacement,
			Column:      req.Column,
			Expression:  req.Expression,
		}
	default:
		return op, badRequest("operation is required")
	}

	if op.Kind == "" {
		op.Kind = fixed
	}
	kind, err := operation.ParseKind(string(op.Kind))
	if err != nil {
		return op, fault.Wrap(fault.InvalidExpression, "apply", err)
	}
	if fixed != "" && kind != fixed {
		return op, badRequest(fmt.Sprintf("this route applies %s operations, got %s", fixed, kind))
	}
	op.Kind = kind
	return op, nil
}

// handleUpload stores an uploaded csv or spreadsheet as a new root version.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.Upload.MaxFileSize {
		s.respondError(w, r, errFileTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	if err := r.ParseMultipartForm(min(s.cfg.Upload.MaxFileSize, multipartMemory)); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondError(w, r, errFileTooLarge)
			return
		}
		s.respondError(w, r, badRequest("expected a multipart form with a file field"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.Upload(ctx, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if isHTMX(r) {
		s.renderPreview(w, r, http.StatusCreated, func(ctx context.Context, w io.Writer) error {
			caption := fmt.Sprintf("Uploaded %s (%d rows)", res.Filename, res.TotalRows)
			return templates.PreviewTable(res.Preview, caption, res.VersionID).Render(ctx, w)
		})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleTranslate returns a candidate operation for an instruction. A
// non-empty kind fixes the operation kind for the kind-specific routes.
func (s *Server) handleTranslate(kind operation.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}

		want := kind
		if want == "" && req.Kind != "" {
			parsed, err := operation.ParseKind(req.Kind)
			if err != nil {
				s.respondError(w, r, badRequest(err.Error()))
				return
			}
			want = parsed
		}

		ctx := WithRequestMetadata(r.Context(), r)
		res, err := s.service.Translate(ctx, req.VersionID, req.Instruction, want)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleApply validates and applies an operation, creating a child version.
func (s *Server) handleApply(kind operation.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		op, err := req.resolve(kind)
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		ctx := WithRequestMetadata(r.Context(), r)
		res, err := s.service.Apply(ctx, req.VersionID, op)
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		if isHTMX(r) {
			s.renderPreview(w, r, http.StatusCreated, func(ctx context.Context, w io.Writer) error {
				return templates.PreviewTable(res.Preview, res.Message, res.NewVersionID).Render(ctx, w)
			})
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleVersion returns a version's metadata and preview.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	id, err := versionParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	view, err := s.service.Version(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleLineage returns the chain of versions from the root to {id}.
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	id, err := versionParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	chain, err := s.service.Lineage(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version_id": id, "versions": chain})
}

// handleDownload serves a version's exact stored bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := versionParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	dl, err := s.service.Download(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dl.Data); err != nil {
		logging.FromContext(r.Context()).Warn("download interrupted", "version_id", id, "error", err)
	}
}

// handleHealth pings the version store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := map[string]any{"transforms": s.service.Limiter().Status()}
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(ctx).Error("health check failed", "error", err)
		body["status"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ok"
	writeJSON(w, http.StatusOK, body)
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return badRequest("body is not valid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest(describeValidation(err))
	}
	return nil
}

// describeValidation turns validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", jsonName(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

var jsonNames = map[string]string{
	"VersionID":   "version_id",
	"Instruction": "instruction",
	"Kind":        "kind",
}

func jsonName(field string) string {
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

func versionParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("version id must be a positive integer")
	}
	return id, nil
}

// renderPreview writes an HTML fragment for HTMX clients.
func (s *Server) renderPreview(w http.ResponseWriter, r *http.Request, status int, render func(context.Context, io.Writer) error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render preview", "error", err)
	}
}
