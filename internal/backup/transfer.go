package backup

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sitevault/sitevault/internal/atomicfile"
	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/pkg/quickxorhash"
)

// Item-level retry bounds. This wraps the transport's request-level
// retry: a connection dropped mid-stream restarts the whole download
// from scratch rather than resuming mid-stream.
const (
	transferMaxRetries      = 2 // 3 attempts total
	transferInitialInterval = 2 * time.Second
)

// TransferResult is the outcome of one item's transfer attempt.
// Ephemeral — it exists within one run and aggregates into the manifest.
type TransferResult struct {
	Item       graph.Item
	Success    bool
	RelPath    string
	Hash       string // sha256, hex
	RemoteHash string // QuickXorHash computed over the downloaded bytes, base64
	Bytes      int64
	Err        error
}

// transferItem downloads one item to its destination path with item-level
// retry. Terminal failures (4xx, local write errors) are not retried.
func (e *Engine) transferItem(ctx context.Context, item graph.Item) TransferResult {
	relPath := DestRelPath(item.Path)
	if relPath == "" {
		relPath = SanitizeSegment(item.Name)
	}

	result := TransferResult{Item: item, RelPath: relPath}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInterval

	attempt := 0
	operation := func() error {
		attempt++

		hash, remoteHash, n, err := e.downloadOnce(ctx, item, relPath)
		if err != nil {
			if isItemTerminal(err) {
				return backoff.Permanent(err)
			}

			e.logger.Warn("transfer attempt failed",
				slog.String("path", relPath),
				slog.Int("attempt", attempt),
				slog.String("error", graph.Sanitize(err.Error())),
			)

			return err
		}

		result.Hash = hash
		result.RemoteHash = remoteHash
		result.Bytes = n

		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, transferMaxRetries), ctx))
	if err != nil {
		result.Err = fmt.Errorf("transferring %s: %s", relPath, graph.Sanitize(err.Error()))
		return result
	}

	result.Success = true

	e.logger.Info("item transferred",
		slog.String("path", relPath),
		slog.String("item_id", item.ID),
		slog.Int64("bytes", result.Bytes),
		slog.Int("attempts", attempt),
	)

	return result
}

// downloadOnce performs a single full download: stream into a temporary
// sibling, hash the bytes in flight, atomically rename into place. Any
// failure removes the temp file so nothing partial survives.
func (e *Engine) downloadOnce(ctx context.Context, item graph.Item, relPath string) (hash, remoteHash string, n int64, err error) {
	finalPath := filepath.Join(e.opts.DestRoot, relPath)

	f, err := atomicfile.CreateTemp(finalPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: %s", errLocalWrite, err)
	}

	sha := sha256.New()
	qx := quickxorhash.New()

	n, err = e.remote.Download(ctx, item.DriveID, item.ID, io.MultiWriter(f, sha, qx))
	if err != nil {
		atomicfile.Discard(f, finalPath)
		return "", "", 0, err
	}

	if err := atomicfile.Commit(f, finalPath); err != nil {
		return "", "", 0, fmt.Errorf("%w: %s", errLocalWrite, err)
	}

	return hex.EncodeToString(sha.Sum(nil)),
		base64.StdEncoding.EncodeToString(qx.Sum(nil)),
		n, nil
}

// errLocalWrite marks destination filesystem failures. Terminal for the
// item: retrying a full disk or a permission problem cannot help.
var errLocalWrite = errors.New("backup: local write failed")

// isItemTerminal reports whether an error can never succeed on retry at
// the item level. The transport has already retried transient conditions;
// what remains terminal here is any 4xx classification or a local
// filesystem failure.
func isItemTerminal(err error) bool {
	if errors.Is(err, errLocalWrite) || errors.Is(err, graph.ErrNoDownloadURL) {
		return true
	}

	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		switch {
		case errors.Is(err, graph.ErrNetwork),
			errors.Is(err, graph.ErrThrottled),
			errors.Is(err, graph.ErrServerError):
			return false
		default:
			return true
		}
	}

	// Stream interruptions after a 2xx arrive as plain errors — retryable.
	return false
}

// quickXorOf computes the base64 QuickXorHash of a reader's content.
func quickXorOf(r io.Reader) (string, error) {
	h := quickxorhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
