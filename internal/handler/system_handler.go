package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/response"
)

const pingTimeout = 2 * time.Second

// Pinger checks one dependency.
type Pinger func(ctx context.Context) error

// LiveCounter reports how many sessions this instance hosts.
type LiveCounter interface {
	LiveCount() int
}

// SystemHandler exposes readiness and runtime status.
type SystemHandler struct {
	rdb       *redis.Client
	live      LiveCounter
	pingers   map[string]Pinger
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. pingers are run by Ready.
func NewSystemHandler(rdb *redis.Client, live LiveCounter, pingers map[string]Pinger, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		live:      live,
		pingers:   pingers,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Ready godoc
// GET /health/ready
// 503 when any dependency fails its ping.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.pingers))
	healthy := true
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, gin.H{"ready": healthy, "checks": checks})
}

type systemStatus struct {
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
	Goroutines   int    `json:"goroutines"`
	HeapAlloc    uint64 `json:"heap_alloc"`
	NumGC        uint32 `json:"num_gc"`
	LiveSessions int    `json:"live_sessions"`

	// Worker Queues
	QueueViolations int64 `json:"queue_violations"`
	QueueAnswers    int64 `json:"queue_answers"`
	QueueAttempts   int64 `json:"queue_attempts"`
}

// Status godoc
// GET /health/status
func (h *SystemHandler) Status(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := systemStatus{
		Uptime:       time.Since(h.startTime).Truncate(time.Second).String(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		NumGC:        ms.NumGC,
		LiveSessions: h.live.LiveCount(),
	}

	// ── Worker Queues (pipelined LLEN) ──
	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		pipe := h.rdb.Pipeline()
		violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
		answersCmd := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
		attemptsCmd := pipe.LLen(ctx, config.WorkerKey.PersistAttemptsQueue)
		if _, err := pipe.Exec(ctx); err == nil {
			s.QueueViolations, _ = violationsCmd.Result()
			s.QueueAnswers, _ = answersCmd.Result()
			s.QueueAttempts, _ = attemptsCmd.Result()
		} else {
			h.log.Debug().Err(err).Msg("Queue depth read failed")
		}
	}

	response.Success(c, http.StatusOK, s)
}
