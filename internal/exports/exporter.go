package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"crm_saas_backend/internal/adapters/storage"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	contentTypeCSV    = "text/csv"
	fileTimeLayout    = "20060102T150405Z"
	msgStorageOffline = "file storage is not configured"
)

type rowSource interface {
	Stream(ctx context.Context, tenantID uuid.UUID, spec entitySpec, fn func([]string) error) error
}

// Exporter writes tenant records as CSV, either to a stream or to the exports bucket.
type Exporter struct {
	rows   rowSource
	store  storage.ObjectStore
	bucket string
	log    *logger.Logger
	now    func() time.Time
}

// NewExporter builds an exporter. A nil store disables stored exports.
func NewExporter(rows rowSource, store storage.ObjectStore, bucket string, log *logger.Logger) *Exporter {
	return &Exporter{rows: rows, store: store, bucket: bucket, log: log, now: time.Now}
}

// StoredExport is the result of a stored export.
type StoredExport struct {
	Entity    string    `json:"entity"`
	FileKey   string    `json:"fileKey"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Rows      int       `json:"rows"`
}

func lookup(entity string) (entitySpec, error) {
	spec, ok := entities[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return entitySpec{}, apperr.BadRequest(fmt.Sprintf("unsupported export entity %q", entity))
	}
	return spec, nil
}

// WriteCSV writes the header and every row to w and returns the row count.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, tenantID uuid.UUID, entity string) (int, error) {
	spec, err := lookup(entity)
	if err != nil {
		return 0, err
	}
	return e.write(ctx, w, tenantID, spec)
}

func (e *Exporter) write(ctx context.Context, w io.Writer, tenantID uuid.UUID, spec entitySpec) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(spec.headers()); err != nil {
		return 0, err
	}
	n := 0
	err := e.rows.Stream(ctx, tenantID, spec, func(record []string) error {
		n++
		return cw.Write(neutralize(record))
	})
	if err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

// Store renders the export into the exports bucket under
// <tenant>/<entity>-<timestamp>.csv and presigns a download.
func (e *Exporter) Store(ctx context.Context, tenantID uuid.UUID, entity string) (StoredExport, error) {
	if e.store == nil {
		return StoredExport{}, apperr.Unavailable(msgStorageOffline)
	}
	spec, err := lookup(entity)
	if err != nil {
		return StoredExport{}, err
	}

	var buf bytes.Buffer
	n, err := e.write(ctx, &buf, tenantID, spec)
	if err != nil {
		return StoredExport{}, err
	}
	name := spec.Table + "-" + e.now().UTC().Format(fileTimeLayout) + ".csv"
	key := tenantID.String() + "/" + name
	if err := e.store.PutObject(ctx, e.bucket, key, contentTypeCSV, &buf, int64(buf.Len())); err != nil {
		return StoredExport{}, err
	}
	url, err := e.store.PresignDownload(ctx, e.bucket, key, name)
	if err != nil {
		return StoredExport{}, err
	}
	e.log.WithContext(ctx).Info("export stored", "entity", spec.Table, "rows", n, "key", key)
	return StoredExport{Entity: spec.Table, FileKey: key, URL: url.URL, ExpiresAt: url.ExpiresAt, Rows: n}, nil
}

// neutralize stops spreadsheet apps from evaluating cells as formulas.
func neutralize(record []string) []string {
	for i, v := range record {
		if v == "" {
			continue
		}
		switch v[0] {
		case '=', '+', '@', '\t', '\r':
			record[i] = "'" + v
		}
	}
	return record
}
