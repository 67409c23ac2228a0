package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/tabula/internal/codec"
	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/executor"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/logging"
	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/preview"
	"github.com/JonMunkholm/tabula/internal/translator"
	"github.com/JonMunkholm/tabula/internal/version"
)

// DefaultSampleRows is how many rows a translator sees unless configured.
const DefaultSampleRows = 3

// loadTimeout bounds a shared version load, which outlives the caller that
// started it.
const loadTimeout = 30 * time.Second

// Options tune a Service. Zero values fall back to the defaults.
type Options struct {
	InitialRows int // preview rows after upload and on inspection
	ResultRows  int // preview rows after an operation
	SampleRows  int // rows shown to the translator, capped at translator.MaxSampleRows
}

func (o Options) withDefaults() Options {
	if o.InitialRows <= 0 {
		o.InitialRows = preview.InitialRows
	}
	if o.ResultRows <= 0 {
		o.ResultRows = preview.ResultRows
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	return o
}

// Service ties the codec, validator, executor, version store and translator
// together. It holds no per-request state; everything durable lives in the
// store.
type Service struct {
	store      version.Store
	translator translator.Translator
	limiter    *Limiter
	opts       Options

	loads singleflight.Group
}

// NewService creates a Service. A nil translator disables translation and a
// nil limiter gets the defaults.
func NewService(store version.Store, tr translator.Translator, limiter *Limiter, opts Options) *Service {
	if tr == nil {
		tr = translator.Unavailable
	}
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrent, DefaultMaxWaitTime)
	}
	return &Service{
		store:      store,
		translator: tr,
		limiter:    limiter,
		opts:       opts.withDefaults(),
	}
}

// Limiter exposes the transform limiter for draining on shutdown.
func (s *Service) Limiter() *Limiter { return s.limiter }

// UploadResult is the response to an upload.
type UploadResult struct {
	VersionID int64  `json:"version_id"`
	Filename  string `json:"filename"`
	preview.Preview
}

// Upload decodes data, stores it as the root of a new lineage and returns a
// preview. Nothing is stored unless the file decodes.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "core.Upload", trace.WithAttributes(
		attribute.String("file.name", filename),
		attribute.Int("file.size", len(data)),
	))
	defer span.End()

	var res *UploadResult
	err := s.limiter.Do(ctx, func() error {
		var err error
		res, err = s.upload(ctx, filename, data)
		return err
	})
	recordSpan(span, err)
	return res, err
}

func (s *Service) upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	format, err := codec.FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}
	d, err := codec.Decode(data, format)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filename)
	v, err := s.store.CreateRoot(ctx, version.Document{
		Data:     data,
		Format:   format,
		Filename: name,
		Label:    version.RootLabel,
	})
	if err != nil {
		return nil, err
	}
	versionsCreated.WithLabelValues(v.Label).Inc()

	s.logger(ctx, "version_id", v.ID, "lineage_id", v.LineageID).Info("document uploaded",
		"filename", name,
		"format", format.String(),
		"rows", d.Len(),
		"columns", d.Width(),
		"size", v.Size,
	)

	return &UploadResult{
		VersionID: v.ID,
		Filename:  name,
		Preview:   preview.Project(d, s.opts.InitialRows),
	}, nil
}

// TranslateResult carries a candidate operation. The candidate is not
// applied; Warning is set when it would not validate against the version.
type TranslateResult struct {
	VersionID int64 `json:"version_id"`
	operation.Operation
	Warning string `json:"warning,omitempty"`
}

// Translate asks the translator for an operation that carries out
// instruction on version id. A non-empty kind restricts the candidate.
func (s *Service) Translate(ctx context.Context, id int64, instruction string, kind operation.Kind) (*TranslateResult, error) {
	ctx, span := tracer.Start(ctx, "core.Translate", trace.WithAttributes(
		attribute.Int64("version.id", id),
		attribute.String("operation.kind", string(kind)),
	))
	defer span.End()

	snap, err := s.load(ctx, id)
	if err != nil {
		recordSpan(span, err)
		return nil, err
	}

	op, err := s.translator.Translate(ctx, translator.Request{
		Instruction: instruction,
		Kind:        kind,
		Sample:      translator.NewSample(snap.data, s.opts.SampleRows),
	})
	translationsTotal.WithLabelValues(status(err)).Inc()
	if err != nil {
		if fault.KindOf(err) == fault.Unknown {
			err = fault.Wrap(fault.TranslationFailure, "translate", err)
		}
		recordSpan(span, err)
		s.logger(ctx, "version_id", id).Warn("translation failed", "error", err)
		return nil, err
	}

	res := &TranslateResult{VersionID: id, Operation: op}
	if _, verr := operation.Validate(op, snap.data); verr != nil {
		res.Warning = verr.Error()
	}
	s.logger(ctx, "version_id", id).Info("instruction translated", "operation", op.Describe())
	return res, nil
}

// ApplyResult is the response to a successful operation.
type ApplyResult struct {
	NewVersionID    int64               `json:"new_version_id"`
	ParentVersionID int64               `json:"parent_version_id"`
	Label           string              `json:"label"`
	Message         string              `json:"message"`
	Operation       operation.Operation `json:"operation"`
	Stats           executor.Stats      `json:"stats"`
	preview.Preview
}

// Apply validates op against version id, executes it, stores the result as
// a child in the parent's format and returns a preview. On any error no
// version is created.
func (s *Service) Apply(ctx context.Context, id int64, op operation.Operation) (*ApplyResult, error) {
	kind := kindLabel(op.Kind)
	ctx, span := tracer.Start(ctx, "core.Apply", trace.WithAttributes(
		attribute.Int64("version.id", id),
		attribute.String("operation.kind", kind),
	))
	defer span.End()

	start := time.Now()
	var res *ApplyResult
	err := s.limiter.Do(ctx, func() error {
		var err error
		res, err = s.apply(ctx, id, op)
		return err
	})
	operationsTotal.WithLabelValues(kind, status(err)).Inc()
	operationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	recordSpan(span, err)

	log := s.logger(ctx, "version_id", id, "kind", kind)
	if err != nil {
		log.Warn("operation failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	log.Info("operation applied",
		"new_version_id", res.NewVersionID,
		"message", res.Message,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) apply(ctx context.Context, id int64, op operation.Operation) (*ApplyResult, error) {
	parent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	validated, err := operation.Validate(op, parent.data)
	if err != nil {
		return nil, err
	}
	out, err := executor.Apply(validated, parent.data)
	if err != nil {
		return nil, err
	}

	data, err := codec.Encode(out.Dataset, parent.version.Format)
	if err != nil {
		return nil, err
	}
	// The preview shows the child as it will read back from storage, with
	// cell kinds re-typed by the format.
	stored, err := codec.Decode(data, parent.version.Format)
	if err != nil {
		return nil, fault.Wrap(fault.StorageFailure, "apply", fmt.Errorf("encoded result is unreadable: %w", err))
	}
	child, err := s.store.CreateChild(ctx, parent.version.ID, version.Document{
		Data:     data,
		Format:   parent.version.Format,
		Filename: parent.version.Filename,
		Label:    out.Label,
		Message:  out.Message,
	})
	if err != nil {
		return nil, err
	}
	versionsCreated.WithLabelValues(child.Label).Inc()

	return &ApplyResult{
		NewVersionID:    child.ID,
		ParentVersionID: parent.version.ID,
		Label:           child.Label,
		Message:         out.Message,
		Operation:       op,
		Stats:           out.Stats,
		Preview:         preview.Project(stored, s.opts.ResultRows),
	}, nil
}

// VersionView is a version's metadata with a preview of its contents.
type VersionView struct {
	Version version.Version `json:"version"`
	preview.Preview
}

// Version returns the metadata and a preview of version id.
func (s *Service) Version(ctx context.Context, id int64) (*VersionView, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &VersionView{Version: snap.version, Preview: preview.Project(snap.data, s.opts.InitialRows)}, nil
}

// Lineage returns the chain of versions from the root down to id.
func (s *Service) Lineage(ctx context.Context, id int64) ([]version.Version, error) {
	return s.store.Lineage(ctx, id)
}

// Download is a version's exact stored bytes with serving metadata.
type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Download returns the stored bytes of version id.
func (s *Service) Download(ctx context.Context, id int64) (*Download, error) {
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Bytes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Download{Data: data, ContentType: v.Format.ContentType(), Filename: v.DownloadName()}, nil
}

// Ping checks the version store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type snapshot struct {
	version version.Version
	data    *dataset.Dataset
}

// load reads and decodes a version. Concurrent loads of the same id share
// one read; the shared dataset is never mutated by its users. The read runs
// detached from any single caller so one cancelled request does not fail the
// others waiting on it.
func (s *Service) load(ctx context.Context, id int64) (*snapshot, error) {
	ch := s.loads.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		v, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		data, err := s.store.Bytes(ctx, id)
		if err != nil {
			return nil, err
		}
		d, err := codec.Decode(data, v.Format)
		if err != nil {
			return nil, fault.Wrap(fault.StorageFailure, "load", fmt.Errorf("stored version %d is unreadable: %w", id, err))
		}
		return &snapshot{version: v, data: d}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load version %d: %w", id, ctx.Err())
	}
}

func (s *Service) logger(ctx context.Context, args ...any) *slog.Logger {
	if ip, ua := ClientFromContext(ctx); ip != "" {
		args = append(args, "client_ip", ip, "user_agent", ua)
	}
	return logging.WithFields(ctx, args...)
}

func kindLabel(k operation.Kind) string {
	switch k {
	case operation.KindSubstitute, operation.KindFilter, operation.KindCompute:
		return string(k)
	default:
		return "unknown"
	}
}

func recordSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, fault.KindOf(err).String())
}
