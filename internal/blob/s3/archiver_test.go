package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/store/memory"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      int
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.puts++
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, contentTypeJSONL)
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seedLedger(t *testing.T, times ...time.Time) *memory.LedgerStore {
	t.Helper()
	ledger := memory.NewLedgerStore()
	for i, ts := range times {
		code, side := domain.TxOpen, domain.TradeBuy
		if i%2 == 1 {
			code, side = domain.TxClose, domain.TradeSell
		}
		tx := domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameRSI, side, 1, 100+float64(i),
			code, domain.FillInfo{FilledAt: ts})
		require.NoError(t, ledger.Append(context.Background(), tx))
	}
	return ledger
}

func TestArchiveLedgerPartitionsByMonth(t *testing.T) {
	ctx := context.Background()
	jan := time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 2, 12, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	ledger := seedLedger(t, jan, jan.Add(time.Hour), feb, mar)
	blobs := newMemBlobs()
	audit := memory.NewAuditStore()

	a := NewArchiver(blobs, blobs, ledger, audit, 0, discardLogger())
	n, err := a.ArchiveLedger(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	infos, err := blobs.List(ctx, ledgerPrefix)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	janRows, err := ReadLedgerArchive(ctx, blobs, jan)
	require.NoError(t, err)
	require.Len(t, janRows, 2)
	require.Equal(t, domain.TxOpen, janRows[0].Code)
	require.Equal(t, domain.TxClose, janRows[1].Code)
	require.Equal(t, -1.0, janRows[1].Quantity)

	_, err = ReadLedgerArchive(ctx, blobs, mar)
	require.ErrorIs(t, err, domain.ErrNotFound)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "archive.transactions", entries[0].Event)
	require.Equal(t, 4, ledger.Len(), "archiving never removes rows")
}

func TestArchiveLedgerSkipsCompleteMonths(t *testing.T) {
	ctx := context.Background()
	jan := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := seedLedger(t, jan, jan.Add(time.Hour), feb)
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, ledger, nil, 0, discardLogger())

	n, err := a.ArchiveLedger(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, 2, blobs.puts)

	n, err = a.ArchiveLedger(ctx, cutoff)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 2, blobs.puts, "nothing re-uploaded")

	late := domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameRSI, domain.TradeBuy, 1, 120,
		domain.TxOpen, domain.FillInfo{FilledAt: jan.Add(48 * time.Hour)})
	require.NoError(t, ledger.Append(ctx, late))

	n, err = a.ArchiveLedger(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 3, n, "only January is rewritten")
	require.Equal(t, 3, blobs.puts)
	rows, err := ReadLedgerArchive(ctx, blobs, jan)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	months, err := a.Months(ctx)
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}, months)
}

func TestArchiveLedgerEmpty(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, memory.NewLedgerStore(), nil, 0, discardLogger())
	n, err := a.ArchiveLedger(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, blobs.objects)
}

func TestArchiveLedgerUsesMultipartForLargeMonths(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := seedLedger(t, ts, ts.Add(time.Minute), ts.Add(2*time.Minute))
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, ledger, nil, 64, discardLogger())

	n, err := a.ArchiveLedger(context.Background(), ts.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, 1, blobs.multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}

func TestArchivePath(t *testing.T) {
	require.Equal(t, "archive/transactions/2025-07.jsonl", archivePath(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
}
