package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vkozlov/cryptofolio/internal/database"
	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	sessionsDB  *database.DB
	trader      *scheduler.Service
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, sessionsDB *database.DB, trader *scheduler.Service) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now().UTC(),
		sessionsDB:  sessionsDB,
		trader:      trader,
	}
}

// HandleStatus returns process health: uptime, CPU/RAM usage and database
// reachability.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	dbOK := true
	if err := h.sessionsDB.Conn().PingContext(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Sessions database ping failed")
		dbOK = false
	}

	hostname, _ := os.Hostname()

	payload := map[string]interface{}{
		"status":          "ok",
		"hostname":        hostname,
		"uptime_seconds":  int(time.Since(h.startupTime).Seconds()),
		"cpu_percent":     cpuPercent,
		"ram_percent":     ramPercent,
		"database_ok":     dbOK,
		"active_sessions": h.trader.ActiveSessions(),
		"data_dir":        h.dataDir,
	}
	if !dbOK {
		payload["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a 100ms sampling interval to keep the endpoint responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
