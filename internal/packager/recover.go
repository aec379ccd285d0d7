package packager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"ocssaver/internal/ocs"
	"ocssaver/internal/types"
)

// RecoveryPrefix is where the delivery stream writes records that failed
// transformation for one service day.
func RecoveryPrefix(outputPrefix, serviceDay string) string {
	return path.Join("failed", outputPrefix, "processing-failed",
		fmt.Sprintf("ocs-saver-%s-1-%s", outputPrefix, serviceDay))
}

// Replayer re-renders failed delivery records and republishes them into the
// normal fragment namespace.
type Replayer struct {
	store        Store
	sourcePrefix string
	outputPrefix string
	contentType  string
	logger       *slog.Logger
}

// NewReplayer creates a Replayer. contentType is applied to republished
// fragments.
func NewReplayer(store Store, sourcePrefix, outputPrefix, contentType string, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if contentType == "" {
		contentType = DefaultRecoveredContentType
	}
	return &Replayer{
		store:        store,
		sourcePrefix: sourcePrefix,
		outputPrefix: outputPrefix,
		contentType:  contentType,
		logger:       logger,
	}
}

// Replay recovers every failure object for serviceDay. Each object becomes
// one fragment at <sourcePrefix>/<serviceDay>/<object base name>. Every
// upload has completed when Replay returns, so a subsequent listing of the
// day sees the recovered fragments. Scratch files are written under
// scratchDir. It returns the number of fragments published.
func (r *Replayer) Replay(ctx context.Context, scratchDir, serviceDay string) (int, error) {
	prefix := RecoveryPrefix(r.outputPrefix, serviceDay)

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return 0, scratchErr("creating recovery dir", err)
	}

	published := 0
	for key, err := range r.store.Keys(ctx, prefix) {
		if err != nil {
			return published, err
		}

		local := filepath.Join(scratchDir, fmt.Sprintf("%06d", published))
		lines, err := r.recoverObject(ctx, key, local)
		if err != nil {
			return published, err
		}

		target := path.Join(r.sourcePrefix, serviceDay, path.Base(key))
		if err := r.upload(ctx, local, target); err != nil {
			return published, err
		}
		published++

		r.logger.InfoContext(ctx, "recovered fragment",
			"service_day", serviceDay,
			"failed_key", key,
			"recovered_key", target,
			"lines", lines,
		)
	}

	return published, nil
}

// recoverObject renders the failure records of key into the file at local.
func (r *Replayer) recoverObject(ctx context.Context, key, local string) (int, error) {
	body, err := r.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := os.Create(local)
	if err != nil {
		return 0, scratchErr("creating recovery file", err)
	}
	count, err := renderLines(out, body, key)
	if err != nil {
		out.Close()
		return count, err
	}
	if err := out.Close(); err != nil {
		return count, scratchErr("closing recovery file", err)
	}
	return count, nil
}

// renderLines writes the recovered form of every failure record in body to
// w. Blank lines are skipped.
func renderLines(w io.Writer, body io.Reader, key string) (int, error) {
	bw := bufio.NewWriter(w)
	rd := bufio.NewReader(body)
	count := 0
	for lineNo := 1; ; lineNo++ {
		line, readErr := rd.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return count, types.NewAppError(types.ErrCodeBadFetch,
				fmt.Sprintf("reading %s", key), readErr)
		}

		if line != "" {
			rendered, err := ocs.RecoverLine(line)
			if err != nil {
				return count, annotateLine(err, key, lineNo)
			}
			if rendered != "" {
				if _, err := bw.WriteString(rendered); err != nil {
					return count, scratchErr("writing recovery file", err)
				}
				count++
			}
		}

		if readErr != nil {
			break
		}
	}

	if err := bw.Flush(); err != nil {
		return count, scratchErr("writing recovery file", err)
	}
	return count, nil
}

func (r *Replayer) upload(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return scratchErr("opening recovery file", err)
	}
	defer f.Close()

	return r.store.Upload(ctx, key, f, r.contentType)
}

// annotateLine adds the object key and line number to a bad_recovery_line
// error so the offending record can be found.
func annotateLine(err error, key string, lineNo int) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppErrorWithDetails(appErr.Code,
			fmt.Sprintf("%s line %d: %s", key, lineNo, appErr.Message), appErr.Err,
			map[string]any{"key": key, "line": lineNo})
	}
	return types.NewAppError(types.ErrCodeBadRecoveryLine,
		fmt.Sprintf("%s line %d", key, lineNo), err)
}

func scratchErr(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalScratch, msg, err)
}
