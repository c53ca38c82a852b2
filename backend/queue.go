package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Download queue management

type QueueStatus string

const (
	StatusPending     QueueStatus = "pending"
	StatusDownloading QueueStatus = "downloading"
	StatusComplete    QueueStatus = "complete"
	StatusError       QueueStatus = "error"
	StatusCancelled   QueueStatus = "cancelled"
)

// QueueItem represents a single download in the queue
type QueueItem struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Source      string      `json:"source,omitempty"` // "saavn", "direct"
	Status      QueueStatus `json:"status"`
	Progress    int         `json:"progress"` // 0-100, only when the size is known
	BytesDone   int64       `json:"bytesDone"`
	BytesTotal  int64       `json:"bytesTotal,omitempty"` // 0 when the server sent no length
	Error       string      `json:"error,omitempty"`
	OutputPath  string      `json:"outputPath,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   time.Time   `json:"startedAt,omitempty"`
	CompletedAt time.Time   `json:"completedAt,omitempty"`

	dispatched bool
	cancelFunc context.CancelFunc
}

// DownloadRequest is the input for adding items to queue
type DownloadRequest struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// QueueEvent is pushed to listeners for progress updates
type QueueEvent struct {
	Type     string      `json:"type"` // "added", "updated", "removed", "completed", "error"
	ItemID   string      `json:"itemId"`
	Item     *QueueItem  `json:"item,omitempty"`
	Progress int         `json:"progress,omitempty"`
	Status   QueueStatus `json:"status,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// QueueProgressCallback is called when progress updates occur
type QueueProgressCallback func(event QueueEvent)

// Queue manages the download queue with concurrent workers
type Queue struct {
	items        []QueueItem
	mutex        sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	maxConc      int
	onProgress   QueueProgressCallback
	workerWG     sync.WaitGroup
	jobChan      chan string // item IDs to process
	wake         chan struct{}
	processing   bool
	processMutex sync.Mutex

	outputDir string
	client    *http.Client
}

// NewQueue creates a download queue writing into outputDir.
func NewQueue(ctx context.Context, maxConcurrent int, outputDir string, client *http.Client) *Queue {
	ctx, cancel := context.WithCancel(ctx)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Queue{
		items:     make([]QueueItem, 0),
		ctx:       ctx,
		cancel:    cancel,
		maxConc:   maxConcurrent,
		jobChan:   make(chan string, 100),
		wake:      make(chan struct{}, 1),
		outputDir: outputDir,
		client:    client,
	}
}

// SetProgressCallback sets the callback for progress events
func (q *Queue) SetProgressCallback(cb QueueProgressCallback) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.onProgress = cb
}

// OutputDir returns the directory downloads are written to.
func (q *Queue) OutputDir() string {
	return q.outputDir
}

func (q *Queue) emit(event QueueEvent) {
	q.mutex.RLock()
	cb := q.onProgress
	q.mutex.RUnlock()

	if cb != nil {
		cb(event)
	}
}

// AddToQueue validates and enqueues a download.
func (q *Queue) AddToQueue(request DownloadRequest) (string, error) {
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	if err := ValidateDownloadURL(request.URL); err != nil {
		return "", err
	}

	item := QueueItem{
		ID:        uuid.New().String(),
		Title:     title,
		URL:       request.URL,
		Source:    request.Source,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	q.mutex.Lock()
	q.items = append(q.items, item)
	q.mutex.Unlock()

	Logger.Info("download queued", "id", item.ID, "title", title, "source", request.Source)
	go q.emit(QueueEvent{Type: "added", ItemID: item.ID, Item: &item})
	q.signal()

	return item.ID, nil
}

// GetQueue returns a copy of all queue items
func (q *Queue) GetQueue() []QueueItem {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	result := make([]QueueItem, len(q.items))
	copy(result, q.items)
	return result
}

// GetItem returns a copy of a queue item, or nil
func (q *Queue) GetItem(id string) *QueueItem {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	for i := range q.items {
		if q.items[i].ID == id {
			item := q.items[i]
			return &item
		}
	}
	return nil
}

// GetActiveCount returns the number of items currently downloading
func (q *Queue) GetActiveCount() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	count := 0
	for _, item := range q.items {
		if item.Status == StatusDownloading {
			count++
		}
	}
	return count
}

// updateItem applies updater under the lock and emits an "updated" event.
func (q *Queue) updateItem(id string, updater func(*QueueItem)) {
	q.mutex.Lock()

	var updated *QueueItem
	for i := range q.items {
		if q.items[i].ID == id {
			updater(&q.items[i])
			item := q.items[i]
			updated = &item
			break
		}
	}

	q.mutex.Unlock()

	if updated != nil {
		q.emit(QueueEvent{
			Type:     "updated",
			ItemID:   id,
			Item:     updated,
			Progress: updated.Progress,
			Status:   updated.Status,
		})
	}
}

// SetItemError marks an item failed
func (q *Queue) SetItemError(id string, err error) {
	q.updateItem(id, func(item *QueueItem) {
		item.Status = StatusError
		item.Error = err.Error()
		item.CompletedAt = time.Now()
		item.cancelFunc = nil
	})

	q.emit(QueueEvent{Type: "error", ItemID: id, Status: StatusError, Error: err.Error()})
}

// CancelItem stops a pending or running download.
func (q *Queue) CancelItem(id string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		switch q.items[i].Status {
		case StatusPending, StatusDownloading:
		default:
			return fmt.Errorf("item %s is not active (%s)", id, q.items[i].Status)
		}
		if q.items[i].cancelFunc != nil {
			q.items[i].cancelFunc()
		}
		q.items[i].Status = StatusCancelled
		q.items[i].CompletedAt = time.Now()
		item := q.items[i]
		go q.emit(QueueEvent{Type: "updated", ItemID: id, Item: &item, Status: StatusCancelled})
		return nil
	}
	return fmt.Errorf("item not found: %s", id)
}

// RemoveFromQueue cancels and removes an item
func (q *Queue) RemoveFromQueue(id string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for i, item := range q.items {
		if item.ID == id {
			if item.cancelFunc != nil {
				item.cancelFunc()
			}
			q.items = append(q.items[:i], q.items[i+1:]...)
			go q.emit(QueueEvent{Type: "removed", ItemID: id})
			return nil
		}
	}
	return fmt.Errorf("item not found: %s", id)
}

// ClearCompleted removes finished items and returns how many were dropped.
func (q *Queue) ClearCompleted() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	filtered := make([]QueueItem, 0, len(q.items))
	removed := 0
	for _, item := range q.items {
		switch item.Status {
		case StatusComplete, StatusError, StatusCancelled:
			removed++
		default:
			filtered = append(filtered, item)
		}
	}
	q.items = filtered
	return removed
}

// RetryFailed resets all failed items to pending
func (q *Queue) RetryFailed() int {
	q.mutex.Lock()

	retried := 0
	for i := range q.items {
		if q.items[i].Status == StatusError {
			q.items[i].Status = StatusPending
			q.items[i].Progress = 0
			q.items[i].BytesDone = 0
			q.items[i].Error = ""
			q.items[i].dispatched = false
			retried++

			item := q.items[i]
			go q.emit(QueueEvent{Type: "updated", ItemID: item.ID, Item: &item})
		}
	}
	q.mutex.Unlock()

	if retried > 0 {
		q.signal()
	}
	return retried
}

// =============================================================================
// Queue Processing (Worker Pool)
// =============================================================================

// StartProcessing starts the worker pool
func (q *Queue) StartProcessing() {
	q.processMutex.Lock()
	if q.processing {
		q.processMutex.Unlock()
		return
	}
	q.processing = true
	q.processMutex.Unlock()

	for i := 0; i < q.maxConc; i++ {
		q.workerWG.Add(1)
		go q.worker()
	}

	go q.dispatcher()
}

// StopProcessing cancels running downloads and waits for the workers.
func (q *Queue) StopProcessing() {
	q.processMutex.Lock()
	if !q.processing {
		q.processMutex.Unlock()
		q.cancel()
		return
	}
	q.processMutex.Unlock()

	q.cancel()
	q.workerWG.Wait()

	q.processMutex.Lock()
	q.processing = false
	q.processMutex.Unlock()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatcher hands pending items to workers, on demand and on a ticker.
func (q *Queue) dispatcher() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.dispatchPending()
	}
}

func (q *Queue) dispatchPending() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for i := range q.items {
		if q.items[i].Status != StatusPending || q.items[i].dispatched {
			continue
		}
		select {
		case q.jobChan <- q.items[i].ID:
			q.items[i].dispatched = true
		default:
			return // channel full, next tick
		}
	}
}

func (q *Queue) worker() {
	defer q.workerWG.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case itemID := <-q.jobChan:
			q.processItem(itemID)
		}
	}
}
