package naming

import (
	"context"
	"sync"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/resize"

	"github.com/sirupsen/logrus"
)

// Coordinator suggests display names for records. Failures never touch
// record status or error info.
type Coordinator struct {
	registry *batch.Registry
	client   Client
	logger   *logrus.Logger

	mutex    sync.Mutex
	renaming string
}

// NewCoordinator returns a Coordinator using client.
func NewCoordinator(registry *batch.Registry, client Client, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// Renaming returns the ID of the record whose name is being suggested, or
// an empty string.
func (c *Coordinator) Renaming() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.renaming
}

// SuggestName asks the naming service for a name for the record and
// applies it. It returns the new display name and true on success. The
// thumbnail is built from the original source bytes.
func (c *Coordinator) SuggestName(ctx context.Context, id string) (string, bool) {
	entry := logger.WithRecordOperation(c.logger, id, "suggest_name")

	rec, ok := c.registry.Get(id)
	if !ok {
		entry.Warn("Record not found")
		return "", false
	}
	if !c.acquire(id) {
		entry.Debug("Name suggestion already in flight")
		return "", false
	}
	defer c.release(id)

	payload := resize.Thumbnail(rec.Source, rec.SourceType)
	suggestion, err := c.client.Suggest(ctx, payload)
	if err != nil {
		entry.WithError(err).Warn("Name suggestion failed")
		return "", false
	}

	// Re-read: the pipeline may have assigned a name during the call.
	current, ok := c.registry.Get(id)
	if !ok {
		entry.Debug("Record removed during name suggestion")
		return "", false
	}
	name := WithExtension(Slugify(suggestion), c.extension(current))
	if !c.registry.Rename(id, name) {
		return "", false
	}

	entry.WithField("name", name).Info("Name suggested")
	return name, true
}

// extension keeps whatever extension the record's display name already
// carries, else the one the configured target format produces.
func (c *Coordinator) extension(rec batch.Record) string {
	if ext := extensionOf(rec.DisplayName); ext != "" {
		return ext
	}
	return c.registry.Settings().OutputExtension(rec.SourceName, rec.SourceType)
}

func (c *Coordinator) acquire(id string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.renaming == id {
		return false
	}
	c.renaming = id
	return true
}

func (c *Coordinator) release(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.renaming == id {
		c.renaming = ""
	}
}
