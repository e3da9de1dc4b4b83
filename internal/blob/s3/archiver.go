package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	ledgerPrefix     = "archive/transactions"
)

// Archiver implements domain.Archiver. Ledger rows older than the cutoff
// are grouped by calendar month of their trade time and written as one JSONL
// object per month:
//
//	archive/transactions/2025-01.jsonl
//
// The ledger itself is append-only, so rows are copied, never removed. A
// month whose object already holds every row is skipped; otherwise it is
// overwritten with the superset of its rows.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	ledger   domain.LedgerStore
	audit    domain.AuditStore
	logger   *slog.Logger
	partSize int64
}

// NewArchiver creates an Archiver. Objects larger than partSize are uploaded
// in parts; zero uses the S3 minimum.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, ledger domain.LedgerStore, audit domain.AuditStore, partSize int64, logger *slog.Logger) *Archiver {
	if partSize <= 0 {
		partSize = minPartSize
	}
	return &Archiver{
		writer:   writer,
		reader:   reader,
		ledger:   ledger,
		audit:    audit,
		partSize: partSize,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveLedger copies every ledger row traded before the cutoff and
// returns how many rows were written. Months already complete in the
// archive are not uploaded again.
func (a *Archiver) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.ledger.Query(ctx, domain.TxFilter{Until: &before, Ascending: true})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(rows) == 0 {
		a.logger.InfoContext(ctx, "nothing to archive", slog.Time("before", before))
		return 0, nil
	}

	var total int64
	for _, m := range byMonth(rows) {
		path := archivePath(m.month)
		done, err := a.complete(ctx, m)
		if err != nil {
			return total, err
		}
		if done {
			a.logger.DebugContext(ctx, "ledger month already archived", slog.String("path", path))
			continue
		}
		buf, err := marshalJSONL(m.rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
		}
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: archive ledger upload: %w", err)
		}
		total += int64(len(m.rows))
		a.logger.InfoContext(ctx, "ledger month archived",
			slog.String("path", path),
			slog.Int("rows", len(m.rows)),
		)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.transactions", map[string]any{
			"count":  total,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive ledger audit: %w", err)
		}
	}
	return total, nil
}

// complete reports whether the archived object of m holds every row of m.
func (a *Archiver) complete(ctx context.Context, m monthRows) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	ok, err := a.reader.Exists(ctx, archivePath(m.month))
	if err != nil || !ok {
		return false, err
	}
	stored, err := ReadLedgerArchive(ctx, a.reader, m.month)
	if err != nil {
		return false, err
	}
	have := make(map[string]struct{}, len(stored))
	for _, tx := range stored {
		have[tx.ID] = struct{}{}
	}
	for _, tx := range m.rows {
		if _, ok := have[tx.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Months lists the archived months, oldest first.
func (a *Archiver) Months(ctx context.Context) ([]time.Time, error) {
	if a.reader == nil {
		return nil, nil
	}
	infos, err := a.reader.List(ctx, ledgerPrefix+"/")
	if err != nil {
		return nil, err
	}
	var months []time.Time
	for _, info := range infos {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Path, ledgerPrefix+"/"), ".jsonl")
		m, err := time.Parse("2006-01", name)
		if err != nil {
			continue
		}
		months = append(months, m)
	}
	slices.SortFunc(months, func(x, y time.Time) int { return x.Compare(y) })
	return months, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > a.partSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
}

type monthRows struct {
	month time.Time
	rows  []domain.Transaction
}

// byMonth splits rows, already in ascending trade time, into UTC months.
func byMonth(rows []domain.Transaction) []monthRows {
	var out []monthRows
	for _, tx := range rows {
		t := tx.TradeTime.UTC()
		m := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		if len(out) == 0 || !out[len(out)-1].month.Equal(m) {
			out = append(out, monthRows{month: m})
		}
		out[len(out)-1].rows = append(out[len(out)-1].rows, tx)
	}
	return out
}

func archivePath(month time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", ledgerPrefix, month.Format("2006-01"))
}

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

// ReadLedgerArchive loads the rows of one archived month.
func ReadLedgerArchive(ctx context.Context, r domain.BlobReader, month time.Time) ([]domain.Transaction, error) {
	body, err := r.Get(ctx, archivePath(month))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var rows []domain.Transaction
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var tx domain.Transaction
		if err := json.Unmarshal(line, &tx); err != nil {
			return nil, fmt.Errorf("s3blob: decode archive row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, tx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	return rows, nil
}

var _ domain.Archiver = (*Archiver)(nil)
