package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/hoodly/hoodlysync/internal/remote"
)

// TargetKind names the entity an uploaded asset attaches to.
type TargetKind string

const (
	TargetPost  TargetKind = "post"
	TargetStory TargetKind = "story"
)

// bindTimeout bounds the attachment write after an upload completes.
const bindTimeout = 5 * time.Second

var errUploaderClosed = errors.New("media uploader closed")

// Binder attaches uploaded media locations to their owning records.
type Binder interface {
	BindPostMedia(ctx context.Context, postID string, urls []string) error
	BindStoryMedia(ctx context.Context, storyID, url string) error
}

// StoreBinder implements Binder on top of the remote post and story stores.
type StoreBinder struct {
	Posts   remote.PostStore
	Stories remote.StoryStore
}

func (b StoreBinder) BindPostMedia(ctx context.Context, postID string, urls []string) error {
	return b.Posts.AttachMedia(ctx, postID, urls)
}

func (b StoreBinder) BindStoryMedia(ctx context.Context, storyID, url string) error {
	return b.Stories.SetMedia(ctx, storyID, url)
}

var _ Binder = StoreBinder{}

// UploadJob is one media asset awaiting upload and attachment.
type UploadJob struct {
	Kind     TargetKind
	TargetID string
	Name     string
	Content  []byte
}

// UploaderConfig controls the concurrency characteristics of the uploader.
type UploaderConfig struct {
	QueueSize int
	Workers   int
}

// Uploader asynchronously pushes media to object storage and binds the
// resulting location to the owning post or story.
type Uploader struct {
	storage ObjectStorage
	binder  Binder
	logger  *slog.Logger

	jobs chan UploadJob
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// NewUploader constructs a background worker pool persisting media assets.
func NewUploader(storage ObjectStorage, binder Binder, cfg UploaderConfig, logger *slog.Logger) *Uploader {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Uploader{
		storage: storage,
		binder:  binder,
		logger:  logger,
		jobs:    make(chan UploadJob, cfg.QueueSize),
	}

	u.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go u.worker()
	}

	return u
}

// Enqueue schedules one upload. Blocks while the queue is full.
func (u *Uploader) Enqueue(ctx context.Context, job UploadJob) error {
	if job.TargetID == "" || job.Name == "" {
		return fmt.Errorf("media uploader: target id and name are required")
	}

	// The lock spans the send so Shutdown cannot close the channel between
	// the closed check and the send.
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return errUploaderClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case u.jobs <- job:
		return nil
	}
}

// Shutdown waits for the worker pool to drain outstanding jobs.
func (u *Uploader) Shutdown(ctx context.Context) error {
	u.once.Do(func() {
		u.mu.Lock()
		u.closed = true
		close(u.jobs)
		u.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (u *Uploader) worker() {
	defer u.wg.Done()

	for job := range u.jobs {
		u.handleJob(job)
	}
}

func (u *Uploader) handleJob(job UploadJob) {
	if u.storage == nil || u.binder == nil {
		u.logger.Error("media uploader missing dependencies", "hasStorage", u.storage != nil, "hasBinder", u.binder != nil)
		return
	}

	uploadCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	key := path.Join(string(job.Kind)+"s", job.TargetID, job.Name)
	location, err := u.storage.Save(uploadCtx, key, bytes.NewReader(job.Content))
	if err != nil {
		u.logger.Error("media upload failed", "kind", job.Kind, "targetId", job.TargetID, "error", err)
		return
	}

	bindCtx, cancel := context.WithTimeout(context.Background(), bindTimeout)
	defer cancel()

	switch job.Kind {
	case TargetPost:
		err = u.binder.BindPostMedia(bindCtx, job.TargetID, []string{location})
	case TargetStory:
		err = u.binder.BindStoryMedia(bindCtx, job.TargetID, location)
	default:
		u.logger.Error("unknown media target kind", "kind", job.Kind)
		return
	}
	if err != nil {
		u.logger.Error("bind media location", "kind", job.Kind, "targetId", job.TargetID, "error", err)
	}
}
