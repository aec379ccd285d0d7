// Package packager consolidates one service day of OCS log fragments into a
// single published archive.
//
// A run resolves the service day before its trigger and refuses to replace
// an existing archive unless asked to. It optionally replays failed delivery
// records back into the fragment namespace. It then merges every fragment of
// the day in key order into one text file laid out as
// root/persistent-state/<YYYYMMDD>.txt and streams that tree to
// <output prefix>/<YYYYMMDD>.tar.gz. Any failure aborts the run before the
// archive upload completes, so a failed run never changes the published
// artifact and can simply be re-triggered.
package packager

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ocssaver/internal/servicetime"
	"ocssaver/internal/types"
)

const (
	// DefaultFetchConcurrency bounds parallel fragment downloads.
	DefaultFetchConcurrency = 4
	// DefaultRecoveredContentType is applied to republished fragments.
	DefaultRecoveredContentType = "text/plain"

	archiveDir = "archive"
	partsDir   = "parts"
	recoverDir = "recovered"
)

// Store is the object-store contract the packager consumes.
type Store interface {
	Keys(ctx context.Context, prefix string) iter.Seq2[string, error]
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Publisher archives a directory to an object key.
type Publisher interface {
	Publish(ctx context.Context, dir string, paths []string, key string) error
}

// Config holds the static settings of a Consolidator.
type Config struct {
	SourcePrefix         string
	OutputPrefix         string
	FetchConcurrency     int
	ScratchDir           string // empty means os.TempDir()
	RecoveredContentType string
	// RequireFragments fails a run that finds no fragments instead of
	// publishing an archive with an empty day file.
	RequireFragments bool
}

// RunOptions are the per-trigger inputs.
type RunOptions struct {
	// Trigger is the instant the schedule fired. The run consolidates the
	// service day of Trigger minus one day.
	Trigger   time.Time
	Overwrite bool
	Recover   bool
}

// RunSummary describes a completed run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	ServiceDay string `json:"service_day"`
	OutputKey  string `json:"output_key"`
	Fragments  int    `json:"fragments"`
	Recovered  int    `json:"recovered"`
	Bytes      int64  `json:"bytes"`
}

// Consolidator runs daily consolidations.
type Consolidator struct {
	store     Store
	publisher Publisher
	replayer  *Replayer
	cfg       Config
	logger    *slog.Logger
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(store Store, publisher Publisher, cfg Config, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.RecoveredContentType == "" {
		cfg.RecoveredContentType = DefaultRecoveredContentType
	}
	return &Consolidator{
		store:     store,
		publisher: publisher,
		replayer:  NewReplayer(store, cfg.SourcePrefix, cfg.OutputPrefix, cfg.RecoveredContentType, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// OutputKey returns the archive key for a service day.
func OutputKey(outputPrefix, serviceDay string) string {
	return path.Join(outputPrefix, servicetime.Compact(serviceDay)+".tar.gz")
}

// DayFile is the archive-relative path of the consolidated text file.
func DayFile(serviceDay string) string {
	return filepath.Join("root", "persistent-state", servicetime.Compact(serviceDay)+".txt")
}

// Consolidate performs one run. The steps are strictly ordered: existence
// guard, recovery replay, ordered merge, publish.
func (c *Consolidator) Consolidate(ctx context.Context, opts RunOptions) (RunSummary, error) {
	local := opts.Trigger.In(servicetime.Location())
	day := servicetime.PreviousDay(local)
	summary := RunSummary{
		RunID:      uuid.New().String(),
		ServiceDay: day,
		OutputKey:  OutputKey(c.cfg.OutputPrefix, day),
	}
	logger := c.logger.With(
		"run_id", summary.RunID,
		"service_day", day,
		"output_key", summary.OutputKey,
	)
	logger.InfoContext(ctx, "consolidation started",
		"trigger", opts.Trigger.UTC().Format(time.RFC3339),
		"overwrite", opts.Overwrite,
		"recover", opts.Recover,
	)

	if !opts.Overwrite && !opts.Recover {
		exists, err := c.store.Exists(ctx, summary.OutputKey)
		if err != nil {
			return summary, err
		}
		if exists {
			return summary, types.NewAppErrorWithDetails(types.ErrCodeOutputKeyExists,
				summary.OutputKey, nil, map[string]any{"service_day": day})
		}
	}

	scratch, err := os.MkdirTemp(c.cfg.ScratchDir, "ocs-saver-"+summary.RunID+"-")
	if err != nil {
		return summary, scratchErr("creating scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	if opts.Recover {
		n, err := c.replayer.Replay(ctx, filepath.Join(scratch, recoverDir), day)
		summary.Recovered = n
		if err != nil {
			return summary, err
		}
		logger.InfoContext(ctx, "recovery complete", "recovered", n)
	}

	sourcePrefix := path.Join(c.cfg.SourcePrefix, day)
	keys, err := c.sortedKeys(ctx, sourcePrefix)
	if err != nil {
		return summary, err
	}
	if len(keys) == 0 {
		logger.WarnContext(ctx, "no fragments for service day", "prefix", sourcePrefix)
	}
	if len(keys) == 0 && c.cfg.RequireFragments {
		return summary, types.NewAppErrorWithDetails(types.ErrCodeNoFragments,
			fmt.Sprintf("no fragments under %s", sourcePrefix), nil,
			map[string]any{"prefix": sourcePrefix})
	}
	summary.Fragments = len(keys)

	root := filepath.Join(scratch, archiveDir)
	n, err := c.merge(ctx, keys, filepath.Join(scratch, partsDir), filepath.Join(root, DayFile(day)))
	if err != nil {
		return summary, err
	}
	summary.Bytes = n
	logger.InfoContext(ctx, "fragments merged",
		"fragment_count", len(keys),
		"bytes", n,
	)

	if err := c.publisher.Publish(ctx, root, []string{"."}, summary.OutputKey); err != nil {
		return summary, err
	}

	logger.InfoContext(ctx, "consolidation complete",
		"fragment_count", summary.Fragments,
		"recovered", summary.Recovered,
		"bytes", summary.Bytes,
	)
	return summary, nil
}

// sortedKeys drains the listing and sorts it by byte order, which for UTF-8
// keys is codepoint order.
func (c *Consolidator) sortedKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for key, err := range c.store.Keys(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// merge downloads keys concurrently into numbered part files, then
// concatenates the parts in key order into out, following each fragment
// with one newline. Fetch order never affects the output.
func (c *Consolidator) merge(ctx context.Context, keys []string, parts, out string) (int64, error) {
	if err := os.MkdirAll(parts, 0o755); err != nil {
		return 0, scratchErr("creating parts dir", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, scratchErr("creating archive dir", err)
	}

	partPath := func(i int) string {
		return filepath.Join(parts, fmt.Sprintf("%08d", i))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			return c.fetch(gctx, key, partPath(i))
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, scratchErr("creating day file", err)
	}
	total, err := concatParts(f, len(keys), partPath)
	if err != nil {
		f.Close()
		return total, err
	}
	if err := f.Close(); err != nil {
		return total, scratchErr("closing day file", err)
	}
	return total, nil
}

// concatParts writes parts 0..n-1 to w in order, each followed by one
// newline.
func concatParts(w io.Writer, n int, partPath func(int) string) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for i := range n {
		written, err := appendPart(bw, partPath(i))
		total += written
		if err != nil {
			return total, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return total, scratchErr("writing day file", err)
		}
		total++
	}
	if err := bw.Flush(); err != nil {
		return total, scratchErr("writing day file", err)
	}
	return total, nil
}

func (c *Consolidator) fetch(ctx context.Context, key, dest string) error {
	body, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return scratchErr("creating part file", err)
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return types.NewAppError(types.ErrCodeBadFetch, fmt.Sprintf("reading %s", key), err)
	}
	if err := f.Close(); err != nil {
		return scratchErr("closing part file", err)
	}
	return nil
}

// appendPart copies a part file into w and removes it.
func appendPart(w io.Writer, part string) (int64, error) {
	f, err := os.Open(part)
	if err != nil {
		return 0, scratchErr("opening part file", err)
	}
	n, err := io.Copy(w, f)
	f.Close()
	if err != nil {
		return n, scratchErr("copying part file", err)
	}
	os.Remove(part)
	return n, nil
}
