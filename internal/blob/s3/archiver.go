package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// MatchArchiveStore provides read access to finished matches for archival.
type MatchArchiveStore interface {
	// ListFinishedBefore returns finished matches last touched strictly
	// before the cutoff.
	ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.Match, error)
}

// WagerArchiveStore provides read access to settled wagers for archival.
type WagerArchiveStore interface {
	// ListSettledBefore returns wagers settled strictly before the cutoff.
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error)
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver serializes cold records to JSONL and uploads them to object
// storage, partitioned by the year-month of the cutoff.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type Archiver struct {
	writer  *Writer
	matches MatchArchiveStore
	wagers  WagerArchiveStore
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(writer *Writer, matches MatchArchiveStore, wagers WagerArchiveStore) *Archiver {
	return &Archiver{
		writer:  writer,
		matches: matches,
		wagers:  wagers,
	}
}

// ArchiveMatches uploads finished matches older than the cutoff to
// archive/matches/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveMatches(ctx context.Context, before time.Time) (int64, error) {
	matches, err := a.matches.ListFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive matches query: %w", err)
	}
	if len(matches) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(matches)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive matches marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("matches", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive matches upload: %w", err)
	}
	return int64(len(matches)), nil
}

// ArchiveWagers uploads settled wagers older than the cutoff to
// archive/wagers/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveWagers(ctx context.Context, before time.Time) (int64, error) {
	wagers, err := a.wagers.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers query: %w", err)
	}
	if len(wagers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(wagers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("wagers", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers upload: %w", err)
	}
	return int64(len(wagers)), nil
}

// multipartThreshold is the payload size above which upload switches to the
// multipart manager instead of a single PutObject.
const multipartThreshold = 16 * 1024 * 1024

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/matches/2026-08.jsonl
//	archive/wagers/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
