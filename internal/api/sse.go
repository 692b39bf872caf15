package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// jobEvent is sent whenever a job changes status or progress.
type jobEvent struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	ProjectID   string  `json:"project_id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
}

// jobCursor tracks how far the stream has read. Several changes can share
// one updated_at, so the changes already sent at the cursor are remembered
// and the next poll, which re-reads that timestamp, skips them.
type jobCursor struct {
	since time.Time
	sent  map[string]bool
}

func newJobCursor(since time.Time) *jobCursor {
	return &jobCursor{since: since, sent: make(map[string]bool)}
}

// advance reports whether j is a change not yet sent and moves the cursor.
func (c *jobCursor) advance(j *models.Job) bool {
	if j.UpdatedAt.Before(c.since) {
		return false
	}
	key := fmt.Sprintf("%s|%s|%g|%s", j.ID, j.Status, j.Progress, j.Error)
	if j.UpdatedAt.After(c.since) {
		c.since = j.UpdatedAt
		c.sent = make(map[string]bool)
	} else if c.sent[key] {
		return false
	}
	c.sent[key] = true
	return true
}

// events streams job changes by polling the queue. ?workspace= filters the
// stream; ?once=1 sends the backlog since ?since= and returns.
func (h *handlers) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	wsFilter := c.Query("workspace")
	since := time.Now()
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			since = t
		}
	}
	cursor := newJobCursor(since)

	db := h.db.WithContext(c.Request.Context())
	poll := func() {
		jobs, err := queue.UpdatedSince(db, cursor.since)
		if err != nil {
			h.log.Warn("sse poll failed", zap.Error(err))
			return
		}
		wrote := false
		for i := range jobs {
			j := &jobs[i]
			if !cursor.advance(j) {
				continue
			}
			if wsFilter != "" && j.WorkspaceID != wsFilter {
				continue
			}
			writeSSE(c.Writer, "job", jobEvent{
				ID:          j.ID,
				WorkspaceID: j.WorkspaceID,
				ProjectID:   j.ProjectID,
				Type:        string(j.Type),
				Status:      string(j.Status),
				Progress:    j.Progress,
				Error:       j.Error,
			})
			wrote = true
		}
		if wrote {
			c.Writer.Flush()
		}
	}

	if c.Query("once") != "" {
		poll()
		return
	}

	interval := h.ssePoll
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx := c.Request.Context()
	ticker := time.NewTicker(interval)
	heartbeat := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			poll()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
