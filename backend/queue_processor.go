package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// processItem downloads a single queue item. Called by worker goroutines.
func (q *Queue) processItem(id string) {
	itemCtx, cancel := context.WithCancel(q.ctx)
	defer cancel()

	q.mutex.Lock()
	var item *QueueItem
	for i := range q.items {
		if q.items[i].ID == id {
			if q.items[i].Status != StatusPending {
				break
			}
			q.items[i].cancelFunc = cancel
			q.items[i].Status = StatusDownloading
			q.items[i].StartedAt = time.Now()
			cp := q.items[i]
			item = &cp
			break
		}
	}
	q.mutex.Unlock()

	if item == nil {
		return
	}
	q.emit(QueueEvent{Type: "updated", ItemID: id, Item: item, Status: StatusDownloading})

	outputPath, err := q.download(itemCtx, item)
	if err != nil {
		// CancelItem or RemoveFromQueue already recorded the outcome
		if current := q.GetItem(id); current == nil || current.Status == StatusCancelled {
			Logger.Info("download cancelled", "id", id, "title", item.Title)
			return
		}
		Logger.Error("download failed", "id", id, "title", item.Title, "error", err)
		q.SetItemError(id, err)
		return
	}

	var completed *QueueItem
	q.updateItem(id, func(it *QueueItem) {
		if it.Status != StatusDownloading {
			return
		}
		it.Status = StatusComplete
		it.Progress = 100
		it.OutputPath = outputPath
		it.CompletedAt = time.Now()
		it.cancelFunc = nil
		cp := *it
		completed = &cp
	})
	if completed == nil {
		return
	}
	Logger.Info("download completed", "id", id, "path", outputPath)
	q.emit(QueueEvent{Type: "completed", ItemID: id, Item: completed, Progress: 100, Status: StatusComplete})
}

// download streams the item's URL into the output directory. The body is
// written to a per-item .part file first so a failed transfer never leaves
// a truncated track behind.
func (q *Queue) download(ctx context.Context, item *QueueItem) (string, error) {
	if err := os.MkdirAll(q.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", err
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("Download failed: %d", resp.StatusCode)
	}

	outputPath := DownloadPath(q.outputDir, item.Title)

	// A unique temp name per item keeps concurrent downloads of the same
	// title from sharing one partial file.
	f, err := os.CreateTemp(q.outputDir, SanitizeTitle(item.Title)+".*.part")
	if err != nil {
		return "", err
	}
	partPath := f.Name()

	pw := &progressWriter{
		total: resp.ContentLength,
		report: func(done, total int64, percent int) {
			q.updateItem(item.ID, func(it *QueueItem) {
				it.BytesDone = done
				if total > 0 {
					it.BytesTotal = total
					it.Progress = percent
				}
			})
		},
	}

	_, copyErr := io.Copy(f, io.TeeReader(resp.Body, pw))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(partPath)
		return "", err
	}

	if err := q.finalizeDownload(item.ID, partPath, outputPath); err != nil {
		return "", err
	}
	return filepath.Clean(outputPath), nil
}

// finalizeDownload moves the partial file into place unless the item was
// cancelled or removed meanwhile. Holding the queue lock makes the status
// check and the rename atomic with respect to CancelItem.
func (q *Queue) finalizeDownload(id, partPath, outputPath string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	active := false
	for i := range q.items {
		if q.items[i].ID == id {
			active = q.items[i].Status == StatusDownloading
			break
		}
	}
	if !active {
		os.Remove(partPath)
		return context.Canceled
	}

	// CreateTemp makes the file owner-only
	os.Chmod(partPath, 0644)
	if err := os.Rename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return err
	}
	return nil
}

// progressWriter counts bytes and reports when the whole percentage
// changes, or every 256 KiB when the total size is unknown.
type progressWriter struct {
	total    int64
	done     int64
	lastPct  int
	lastDone int64
	report   func(done, total int64, percent int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))

	if p.total > 0 {
		pct := int(p.done * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.report(p.done, p.total, pct)
		}
	} else if p.done-p.lastDone >= 256<<10 {
		p.lastDone = p.done
		p.report(p.done, 0, 0)
	}
	return len(b), nil
}
