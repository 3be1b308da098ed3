package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tessera/artifact"
	"tessera/pkg/embedding"
	"tessera/pkg/qdrantdb"
	"tessera/pkg/sqlitedb"
)

// VectorIndex is the slice of the vector store the reconciler needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, vectorSize uint64) error
	Upsert(ctx context.Context, points []qdrantdb.Point) error
	DeleteByDocID(ctx context.Context, docID string) error
	CountByDoc(ctx context.Context, docID string) (uint64, error)
}

// Summary is the per-run accounting of reconcile decisions.
type Summary struct {
	Scanned        int            `json:"scanned"`
	Ingested       int            `json:"ingested"`
	Skipped        int            `json:"skipped"`
	Repaired       int            `json:"repaired"`
	Refreshed      int            `json:"refreshed"`
	OrphansDeleted int            `json:"orphans_deleted"`
	EmptySkipped   int            `json:"empty_skipped"`
	ChunksFiltered map[string]int `json:"chunks_filtered"`
}

// Reconciler drives the artifact store, catalog, and vector index to
// convergence. It trusts the artifact store as the source of truth:
// whatever state the catalog or index is in, a run ends with the index
// matching what is on disk.
type Reconciler struct {
	store  *artifact.Store
	db     *sqlitedb.DB
	index  VectorIndex
	embed  embedding.Client
	filter *ChunkFilter
	logger *zap.Logger

	embedBatchSize   int
	embedConcurrency int
	paths            []string

	// report receives human-readable progress lines for the job event
	// stream. May be nil.
	report func(string)
	// begin receives the artifact count once the scan is done. May be
	// nil.
	begin func(int)
	// stop is polled between documents; when it returns true the run
	// winds down after the document in flight. May be nil.
	stop func() bool
}

type ReconcilerOptions struct {
	EmbedBatchSize   int
	EmbedConcurrency int
	// Paths restricts the run to these artifact doc ids. Empty means
	// reconcile everything on disk.
	Paths  []string
	Report func(string)
	Begin  func(int)
	Stop   func() bool
}

func NewReconciler(
	store *artifact.Store,
	db *sqlitedb.DB,
	index VectorIndex,
	embed embedding.Client,
	filter *ChunkFilter,
	opts ReconcilerOptions,
	logger *zap.Logger,
) *Reconciler {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 16
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 4
	}
	return &Reconciler{
		store:            store,
		db:               db,
		index:            index,
		embed:            embed,
		filter:           filter,
		logger:           logger,
		embedBatchSize:   opts.EmbedBatchSize,
		embedConcurrency: opts.EmbedConcurrency,
		paths:            opts.Paths,
		report:           opts.Report,
		begin:            opts.Begin,
		stop:             opts.Stop,
	}
}

func (r *Reconciler) progress(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.logger.Info(line)
	if r.report != nil {
		r.report(line)
	}
}

// Run reconciles the whole corpus once.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	summary := Summary{ChunksFiltered: map[string]int{}}

	// Size the collection from the model itself so a model swap is
	// caught before any vectors are written.
	r.progress("measuring embedding dimension")
	sample, err := r.embed.GetEmbeddings(ctx, []string{"dimension check"})
	if err != nil {
		return summary, fmt.Errorf("measure embedding dimension: %w", err)
	}
	if len(sample) == 0 || len(sample[0]) == 0 {
		return summary, fmt.Errorf("embedding model returned an empty vector")
	}
	vectorSize := uint64(len(sample[0]))
	r.progress("vector size: %d", vectorSize)
	if err := r.index.EnsureCollection(ctx, vectorSize); err != nil {
		return summary, fmt.Errorf("ensure collection: %w", err)
	}

	if err := r.cleanOrphans(ctx, &summary); err != nil {
		return summary, err
	}

	diskIDs, err := r.store.Scan()
	if err != nil {
		return summary, fmt.Errorf("scan artifacts: %w", err)
	}
	diskIDs = r.selectDocs(diskIDs)
	sort.Strings(diskIDs)
	summary.Scanned = len(diskIDs)
	if r.begin != nil {
		r.begin(len(diskIDs))
	}
	r.progress("found %d artifact(s)", len(diskIDs))

	for i, docID := range diskIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if r.stop != nil && r.stop() {
			r.progress("stop requested, finished %d of %d artifact(s)", i, len(diskIDs))
			return summary, nil
		}
		if err := r.reconcileDoc(ctx, docID, &summary); err != nil {
			return summary, fmt.Errorf("reconcile %s: %w", docID, err)
		}
	}

	r.progress("reconcile complete: %d ingested, %d skipped, %d repaired, %d orphans removed",
		summary.Ingested, summary.Skipped, summary.Repaired, summary.OrphansDeleted)
	return summary, nil
}

// selectDocs narrows the scan to the requested doc ids. Requested
// docs missing from disk are reported and dropped, not errors, so one
// stale path cannot sink the whole job.
func (r *Reconciler) selectDocs(diskIDs []string) []string {
	if len(r.paths) == 0 {
		return diskIDs
	}
	onDisk := make(map[string]bool, len(diskIDs))
	for _, id := range diskIDs {
		onDisk[id] = true
	}
	selected := make([]string, 0, len(r.paths))
	seen := map[string]bool{}
	for _, id := range r.paths {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !onDisk[id] {
			r.progress("requested artifact %s not on disk, skipping", id)
			continue
		}
		selected = append(selected, id)
	}
	return selected
}

// cleanOrphans removes catalog rows and vectors for documents whose
// artifacts are gone from disk. This runs before any ingest so a
// removed page cannot survive in search results.
func (r *Reconciler) cleanOrphans(ctx context.Context, summary *Summary) error {
	stored, err := r.db.ListDocIDs(ctx)
	if err != nil {
		return fmt.Errorf("list cataloged documents: %w", err)
	}
	for _, docID := range stored {
		if r.store.Exists(docID) {
			continue
		}
		if err := r.index.DeleteByDocID(ctx, docID); err != nil {
			return fmt.Errorf("delete orphan vectors: %w", err)
		}
		if err := r.db.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("delete orphan catalog row: %w", err)
		}
		summary.OrphansDeleted++
		r.progress("deleted vectors for missing doc %s", docID)
	}
	return nil
}

func (r *Reconciler) reconcileDoc(ctx context.Context, docID string, summary *Summary) error {
	manifest, err := r.store.LoadManifest(docID)
	if err != nil {
		return err
	}
	row, err := r.db.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if row != nil && row.ContentHash == manifest.ContentHash {
		count, err := r.index.CountByDoc(ctx, docID)
		if err != nil {
			return err
		}
		if row.ChunkCount > 0 && count >= uint64(row.ChunkCount) {
			summary.Skipped++
			return nil
		}
		// Catalog says ingested but the index holds fewer vectors than
		// the catalog recorded: a previous run died between upsert and
		// record, or the index lost points.
		r.progress("repairing partial ingest for %s (chunk_count=%d, indexed=%d)",
			docID, row.ChunkCount, count)
		if err := r.dropDoc(ctx, docID); err != nil {
			return err
		}
		summary.Repaired++
		row = nil
	}

	if row != nil {
		r.progress("content changed, refreshing vectors for %s", docID)
		if err := r.dropDoc(ctx, docID); err != nil {
			return err
		}
		summary.Refreshed++
	}

	chunks, err := r.store.LoadChunks(docID)
	if err != nil {
		return err
	}
	kept := make([]artifact.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		ok, reason := r.filter.Keep(chunk.Text)
		if !ok {
			summary.ChunksFiltered[reason]++
			continue
		}
		kept = append(kept, chunk)
	}
	if len(kept) == 0 {
		summary.EmptySkipped++
		r.progress("skipping %s (no embeddable chunks)", docID)
		return nil
	}

	texts := make([]string, len(kept))
	for i, chunk := range kept {
		texts[i] = chunk.Text
	}
	vectors, err := r.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	points := make([]qdrantdb.Point, len(kept))
	chunkRows := make([]sqlitedb.ChunkRow, len(kept))
	for i, chunk := range kept {
		vectorID := VectorID(chunk.ChunkID)
		points[i] = qdrantdb.Point{
			ID:     vectorID,
			Vector: vectors[i],
			Payload: map[string]any{
				"doc_id":   docID,
				"chunk_id": chunk.ChunkID,
				"url":      manifest.URL,
				"title":    manifest.Title,
				"text":     chunk.Text,
			},
		}
		chunkRows[i] = sqlitedb.ChunkRow{
			ChunkID:    chunk.ChunkID,
			DocID:      docID,
			ChunkIndex: chunk.ChunkIndex,
			VectorID:   vectorID,
		}
	}

	// Vectors first, catalog second. A crash between the two leaves a
	// repairable partial ingest, never a catalog row with no vectors
	// that a later run would wrongly skip.
	if err := r.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	err = r.db.RecordDocument(ctx, sqlitedb.DocumentRow{
		DocID:       docID,
		URL:         manifest.URL,
		ContentHash: manifest.ContentHash,
		IngestedAt:  time.Now().UTC(),
		ChunkCount:  len(kept),
	}, chunkRows)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	summary.Ingested++
	r.progress("ingested %s (%d chunks)", docID, len(kept))
	return nil
}

func (r *Reconciler) dropDoc(ctx context.Context, docID string) error {
	if err := r.index.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := r.db.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete catalog row: %w", err)
	}
	return nil
}

// embedAll embeds texts in batches with bounded concurrency, returning
// vectors in input order.
func (r *Reconciler) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.embedConcurrency)

	for start := 0; start < len(texts); start += r.embedBatchSize {
		end := start + r.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			batch, err := r.embed.GetEmbeddings(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedding count mismatch: got %d for %d texts", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
