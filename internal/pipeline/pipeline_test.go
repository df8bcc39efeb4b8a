package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehull/douclip/internal/extract"
	"github.com/shanehull/douclip/internal/filter"
	"github.com/shanehull/douclip/internal/history"
	"github.com/shanehull/douclip/internal/inlabs"
	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/types"
)

var (
	jan5 = time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	jan7 = time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	mu       sync.Mutex
	loginErr error
	logins   int
	listings map[string][]string
	listErrs map[string]error
	files    map[string][]byte
	fetchErr map[string]error
	fetched  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: map[string][]string{},
		listErrs: map[string]error{},
		files:    map[string][]byte{},
		fetchErr: map[string]error{},
	}
}

func (f *fakeSource) Login(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeSource) ListCandidates(ctx context.Context, date time.Time) ([]string, error) {
	day := date.Format(types.DateLayout)
	if err := f.listErrs[day]; err != nil {
		return nil, err
	}
	return f.listings[day], nil
}

func (f *fakeSource) Fetch(ctx context.Context, date time.Time, name string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, name)
	f.mu.Unlock()

	if err := f.fetchErr[name]; err != nil {
		return nil, err
	}
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, inlabs.ErrNotFound)
	}
	return data, nil
}

func (f *fakeSource) fetchedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.fetched...)
	sort.Strings(out)
	return out
}

// publish lists name on date with the given content.
func (f *fakeSource) publish(date time.Time, name string, data []byte) {
	day := date.Format(types.DateLayout)
	f.listings[day] = append(f.listings[day], name)
	if data != nil {
		f.files[name] = data
	}
}

// documentExtractor stands in for the PDF extractor: the document bytes are
// the text.
type documentExtractor struct{}

func (documentExtractor) Extract(data []byte, filename string) (*extract.Result, error) {
	return &extract.Result{Records: []types.Record{{SourceFile: filename, Title: filename, Text: string(data)}}}, nil
}

func archive(t *testing.T, articles ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, a := range articles {
		w, err := zw.Create(fmt.Sprintf("%d.xml", i))
		require.NoError(t, err)
		_, err = w.Write([]byte(a))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func article(org, text string) string {
	return fmt.Sprintf(`<xml><article artCategory=%q pdfPage="http://in.gov.br/x"><body><Identifica>PORTARIA</Identifica><Texto>%s</Texto></body></article></xml>`, org, text)
}

type harness struct {
	source *fakeSource
	store  *history.Store
	orch   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "douclip.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	filters, err := filter.Compile([]filter.Descriptor{{
		Name:         "sufer",
		Organization: filter.OrgSpec{Match: "contains", Value: "ANTT/SUFER"},
		Keywords:     []string{"autorização"},
	}})
	require.NoError(t, err)

	log := logger.NewNop()
	extractors := extract.NewSet(log)
	extractors[types.KindDocument] = documentExtractor{}

	source := newFakeSource()
	orch := New(source, store, extractors, filter.NewEngine(filters, 0),
		Options{LookbackDays: 2, Concurrency: 2}, log)
	return &harness{source: source, store: store, orch: orch}
}

func (h *harness) daily(t *testing.T, target time.Time) (*Result, error) {
	t.Helper()
	return h.orch.Run(context.Background(), Request{Mode: types.ModeDaily, Start: target, End: target})
}

func (h *harness) processed(t *testing.T, name string) bool {
	t.Helper()
	ok, err := h.store.HasProcessed(context.Background(), name)
	require.NoError(t, err)
	return ok
}

func TestRun_DailyArchiveMatch(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t,
		article("Ministério dos Transportes/ANTT/SUFER", "Concede autorização ferroviária."),
		article("Ministério da Saúde", "autorização sanitária"),
	))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusOK, res.Run.Status)
	assert.True(t, jan5.Equal(res.Run.StartDate))
	assert.True(t, jan7.Equal(res.Run.EndDate))
	assert.Equal(t, 1, res.Run.MatchCount)
	assert.Equal(t, 1, res.Run.FilesProcessed)
	require.Len(t, res.Reports, 3)

	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	assert.Equal(t, "sufer", m.FilterName)
	assert.Equal(t, "2025-01-07-DO1.zip", m.SourceFile)
	assert.Equal(t, "autorização", m.KeywordHit)
	assert.Equal(t, "Ministério dos Transportes/ANTT/SUFER", m.Organization)
	assert.Equal(t, "2025-01-07", m.PubDate)
	assert.Equal(t, res.Run.ID, m.RunID)

	assert.True(t, h.processed(t, "2025-01-07-DO1.zip"))
	assert.Equal(t, 1, h.source.logins)
}

func TestRun_LedgeredFileNeverFetched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))

	require.NoError(t, h.store.Commit(ctx, types.ProcessedFile{
		Filename: "2025-01-07-DO1.zip", Kind: types.KindArchive, PubDate: jan7,
	}, nil))
	before, err := h.store.ProcessedCount(ctx)
	require.NoError(t, err)

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	assert.Empty(t, h.source.fetchedNames())
	assert.Zero(t, res.Run.MatchCount)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 1, res.Run.FilesSkipped)

	after, err := h.store.ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))

	first, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Run.MatchCount)

	second, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Zero(t, second.Run.MatchCount)
	assert.Equal(t, []string{"2025-01-07-DO1.zip"}, h.source.fetchedNames())
}

func TestRun_FetchFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))
	h.source.publish(jan7, "2025_01_07_ASSINADO_do1.pdf", []byte("autorização no pdf"))
	h.source.publish(jan7, "2025-01-07-DO1E.zip", archive(t, article("ANTT/SUFER", "nova autorização")))
	h.source.fetchErr["2025-01-07-DO1.zip"] = errors.New("context deadline exceeded")

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Run.FilesFailed)
	assert.Equal(t, 1, res.Run.FilesProcessed)
	assert.Equal(t, 1, res.Run.MatchCount)
	assert.Equal(t, "2025-01-07-DO1E.zip", res.Matches[0].SourceFile)

	assert.False(t, h.processed(t, "2025-01-07-DO1.zip"), "failed fetch stays unmarked")
	assert.NotContains(t, h.source.fetchedNames(), "2025_01_07_ASSINADO_do1.pdf",
		"transient archive failure does not fall back")
}

func TestRun_DocumentFallback(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025_01_07_ASSINADO_do1.pdf", []byte("Extrato: autorização concedida"))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, "2025_01_07_ASSINADO_do1.pdf", res.Matches[0].SourceFile)
	assert.Empty(t, res.Matches[0].Organization)
	assert.True(t, h.processed(t, "2025_01_07_ASSINADO_do1.pdf"))
}

func TestRun_ListedArchiveMissingFallsBack(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", nil)
	h.source.files["2025_01_07_ASSINADO_do1.pdf"] = []byte("autorização")

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Run.MatchCount)
	assert.True(t, h.processed(t, "2025_01_07_ASSINADO_do1.pdf"))
	assert.False(t, h.processed(t, "2025-01-07-DO1.zip"))
}

func TestRun_ArchiveSupersedesDocument(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))
	h.source.publish(jan7, "2025_01_07_ASSINADO_do1.pdf", []byte("autorização"))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01-07-DO1.zip"}, h.source.fetchedNames())
	assert.Equal(t, 1, res.Run.MatchCount)
	assert.False(t, h.processed(t, "2025_01_07_ASSINADO_do1.pdf"))
}

func TestRun_EditionSkippedWhenDocumentLedgered(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Commit(context.Background(), types.ProcessedFile{
		Filename: "2025_01_07_ASSINADO_do1.pdf", Kind: types.KindDocument, PubDate: jan7,
	}, nil))
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))

	_, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Empty(t, h.source.fetchedNames())
}

func TestRun_LetteredExtras(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1E_A.zip", archive(t, article("ANTT/SUFER", "autorização A")))
	h.source.publish(jan7, "2025_01_07_ASSINADO_do1_extra_B.pdf", []byte("autorização B"))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	require.Len(t, res.Matches, 2)
	assert.Equal(t, "2025-01-07-DO1E_A.zip", res.Matches[0].SourceFile)
	assert.Equal(t, "2025_01_07_ASSINADO_do1_extra_B.pdf", res.Matches[1].SourceFile)
}

func TestRun_ExtractionFailureLeavesFileUnmarked(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", []byte("not a zip"))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.FilesFailed)
	assert.False(t, h.processed(t, "2025-01-07-DO1.zip"))
}

func TestRun_MalformedRecordsCounted(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t,
		article("ANTT/SUFER", "autorização"),
		"<xml><article>",
	))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.RecordsSkipped)
	assert.Equal(t, 1, res.Run.MatchCount)
	assert.True(t, h.processed(t, "2025-01-07-DO1.zip"))
}

func TestRun_LoginFailureRecordsErrorRun(t *testing.T) {
	h := newHarness(t)
	h.source.loginErr = fmt.Errorf("bad credentials: %w", inlabs.ErrAuth)

	res, err := h.daily(t, jan7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, inlabs.ErrAuth))

	require.NotNil(t, res.Run)
	assert.Equal(t, types.RunStatusError, res.Run.Status)
	assert.Zero(t, res.Run.MatchCount)

	runs, err := h.store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.RunStatusError, runs[0].Status)
	assert.Contains(t, runs[0].Notes, "bad credentials")
}

func TestRun_SessionExpiredIsFatal(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan5, "2025-01-05-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))
	h.source.listErrs["2025-01-06"] = fmt.Errorf("login form: %w", inlabs.ErrAuth)

	res, err := h.daily(t, jan7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, inlabs.ErrAuth))
	assert.Equal(t, types.RunStatusError, res.Run.Status)

	// The first date was committed; its matches wait for the next good run.
	assert.True(t, h.processed(t, "2025-01-05-DO1.zip"))
	pending, err := h.store.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestRun_ListingFailureSkipsDate(t *testing.T) {
	h := newHarness(t)
	h.source.listErrs["2025-01-06"] = errors.New("status 502")
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t, article("ANTT/SUFER", "autorização")))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.FilesFailed)
	assert.Equal(t, 1, res.Run.MatchCount)
	assert.Contains(t, res.Run.Notes, "listing failed for 2025-01-06")
	assert.True(t, res.Reports[1].ListingFailed)
}

func TestRun_EmptyBackfill(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), Request{Mode: types.ModeBackfill, Start: jan7, End: jan5})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusOK, res.Run.Status)
	assert.Equal(t, "empty date window", res.Run.Notes)
	assert.Zero(t, h.source.logins, "empty window skips login")
	assert.Empty(t, res.Reports)
}

func TestRun_BackfillCoversRange(t *testing.T) {
	h := newHarness(t)
	for _, d := range []time.Time{jan5, jan7} {
		name := inlabs.ArchiveName(d, "DO1", inlabs.VariantMain)
		h.source.publish(d, name, archive(t, article("ANTT/SUFER", "autorização")))
	}

	res, err := h.orch.Run(context.Background(), Request{Mode: types.ModeBackfill, Start: jan5, End: jan7})
	require.NoError(t, err)
	require.Len(t, res.Reports, 3)
	assert.Equal(t, 2, res.Run.MatchCount)
	assert.Equal(t, "2025-01-05-DO1.zip", res.Matches[0].SourceFile, "dates processed in order")
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx, Request{Mode: types.ModeDaily, Start: jan7, End: jan7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, types.RunStatusError, res.Run.Status, "failure recorded despite cancellation")
}

// The recorded match count equals the match rows stored for the run.
func TestRun_MatchCountEqualsRows(t *testing.T) {
	h := newHarness(t)
	h.source.publish(jan7, "2025-01-07-DO1.zip", archive(t,
		article("ANTT/SUFER", "autorização um"),
		article("ANTT/SUFER", "autorização dois"),
		article("ANTT/SUFER", "nada"),
	))
	h.source.publish(jan7, "2025-01-07-DO1E.zip", archive(t, article("ANTT/SUFER", "autorização três")))

	res, err := h.daily(t, jan7)
	require.NoError(t, err)

	stored, err := h.store.Matches(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Run.MatchCount)
	assert.Len(t, stored, res.Run.MatchCount)
}
