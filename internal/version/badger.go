package version

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/JonMunkholm/tabula/internal/fault"
)

// BadgerConfig holds settings for an embedded Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// Key layout.
var (
	keySeq         = []byte("seq")
	prefixVersion  = []byte("v/")
	prefixPayload  = []byte("d/")
	prefixBlobKey  = []byte("b/")
	prefixChildren = []byte("c/")
)

const maxTxnRetries = 64

// BadgerStore keeps versions in an embedded Badger database. The id counter
// is read and advanced in the same transaction as the insert, so a failed
// create never consumes an id.
type BadgerStore struct {
	db   *badger.DB
	opts Options
	gc   *gcRunner
}

// OpenBadgerStore opens or creates a Badger store.
func OpenBadgerStore(cfg BadgerConfig, opts Options) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, opts: opts}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.gc = newGCRunner(db, cfg.GCInterval, ratio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

func idKey(prefix []byte, id int64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(id))
	return k
}

func (s *BadgerStore) CreateRoot(ctx context.Context, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	blobKey, err := s.stage(ctx, doc)
	if err != nil {
		return Version{}, err
	}
	return s.create(ctx, doc, blobKey, func(*badger.Txn) (uuid.UUID, *int64, error) {
		return uuid.New(), nil, nil
	})
}

func (s *BadgerStore) CreateChild(ctx context.Context, parentID int64, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	blobKey, err := s.stage(ctx, doc)
	if err != nil {
		return Version{}, err
	}
	return s.create(ctx, doc, blobKey, func(txn *badger.Txn) (uuid.UUID, *int64, error) {
		parent, err := getVersion(txn, parentID)
		if err != nil {
			return uuid.UUID{}, nil, err
		}
		if s.opts.Policy == Linear {
			_, err := txn.Get(idKey(prefixChildren, parentID))
			if err == nil {
				return uuid.UUID{}, nil, branchConflict(parentID)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return uuid.UUID{}, nil, storageFailure("create child", err)
			}
		}
		return parent.LineageID, ptr(parentID), nil
	})
}

func (s *BadgerStore) stage(ctx context.Context, doc Document) (string, error) {
	if s.opts.Blobs == nil {
		return "", nil
	}
	key := Checksum(doc.Data)
	if err := s.opts.Blobs.Put(ctx, key, doc.Data, doc.Format.ContentType()); err != nil {
		return "", storageFailure("store payload", err)
	}
	return key, nil
}

// create runs one insert transaction, retrying on optimistic-concurrency
// conflicts. resolve picks the lineage and parent inside the transaction.
func (s *BadgerStore) create(ctx context.Context, doc Document, blobKey string,
	resolve func(*badger.Txn) (uuid.UUID, *int64, error)) (Version, error) {

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Version{}, storageFailure("create version", err)
		}

		var v Version
		err := s.db.Update(func(txn *badger.Txn) error {
			lineage, parent, err := resolve(txn)
			if err != nil {
				return err
			}

			id, err := nextID(txn)
			if err != nil {
				return err
			}
			v = Version{
				ID:        id,
				LineageID: lineage,
				ParentID:  parent,
				Format:    doc.Format,
				Filename:  doc.Filename,
				Label:     doc.Label,
				Message:   doc.Message,
				Size:      int64(len(doc.Data)),
				Checksum:  Checksum(doc.Data),
				CreatedAt: s.opts.now(),
			}
			meta, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := txn.Set(idKey(prefixVersion, id), meta); err != nil {
				return err
			}
			if blobKey != "" {
				err = txn.Set(idKey(prefixBlobKey, id), []byte(blobKey))
			} else {
				err = txn.Set(idKey(prefixPayload, id), doc.Data)
			}
			if err != nil {
				return err
			}
			if parent != nil {
				ck := idKey(prefixChildren, *parent)
				if _, err := txn.Get(ck); errors.Is(err, badger.ErrKeyNotFound) {
					return txn.Set(ck, idKey(nil, id))
				} else if err != nil {
					return err
				}
			}
			return nil
		})

		switch {
		case err == nil:
			return v, nil
		case errors.Is(err, badger.ErrConflict) && attempt < maxTxnRetries:
			continue
		default:
			if fault.KindOf(err) != fault.Unknown {
				return Version{}, err
			}
			return Version{}, storageFailure("create version", err)
		}
	}
}

func nextID(txn *badger.Txn) (int64, error) {
	var last uint64
	item, err := txn.Get(keySeq)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence value of %d bytes", len(val))
			}
			last = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, err
	}

	next := last + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := txn.Set(keySeq, buf); err != nil {
		return 0, err
	}
	return int64(next), nil
}

func getVersion(txn *badger.Txn, id int64) (Version, error) {
	item, err := txn.Get(idKey(prefixVersion, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Version{}, notFound(id)
	}
	if err != nil {
		return Version{}, storageFailure("get version", err)
	}
	var v Version
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	}); err != nil {
		return Version{}, storageFailure("get version", fmt.Errorf("decode version %d: %w", id, err))
	}
	return v, nil
}

func (s *BadgerStore) Get(_ context.Context, id int64) (Version, error) {
	var v Version
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		v, err = getVersion(txn, id)
		return err
	})
	return v, err
}

func (s *BadgerStore) Bytes(ctx context.Context, id int64) ([]byte, error) {
	var (
		data    []byte
		blobKey string
	)
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getVersion(txn, id); err != nil {
			return err
		}
		item, err := txn.Get(idKey(prefixPayload, id))
		if err == nil {
			data, err = item.ValueCopy(nil)
			if err != nil {
				return storageFailure("read payload", err)
			}
			if data == nil {
				data = []byte{}
			}
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageFailure("read payload", err)
		}
		item, err = txn.Get(idKey(prefixBlobKey, id))
		if err != nil {
			return storageFailure("read payload", fmt.Errorf("version %d has no payload: %w", id, err))
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return storageFailure("read payload", err)
		}
		blobKey = string(key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blobKey == "" {
		return data, nil
	}
	if s.opts.Blobs == nil {
		return nil, storageFailure("read payload", fmt.Errorf("version %d is stored in a blob store that is not configured", id))
	}
	data, err = s.opts.Blobs.Get(ctx, blobKey)
	if err != nil {
		return nil, storageFailure("read payload", err)
	}
	return data, nil
}

func (s *BadgerStore) Lineage(_ context.Context, id int64) ([]Version, error) {
	var chain []Version
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := getVersion(txn, id)
		if err != nil {
			return err
		}
		chain = append(chain, v)
		for v.ParentID != nil {
			v, err = getVersion(txn, *v.ParentID)
			if err != nil {
				return err
			}
			chain = append(chain, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(chain)
	return chain, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return storageFailure("ping", errors.New("badger database is closed"))
	}
	return nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner runs value-log garbage collection periodically.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}
