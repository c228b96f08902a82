package observability

import (
	"sync"
	"time"
)

// SystemStatus is a process-wide snapshot shown by the status command.
type SystemStatus struct {
	StartedAt     time.Time
	LastHeartbeat time.Time
	LastSweep     time.Time
	LastTarget    string
	LastMatches   int
	LastSent      int
	LastFailed    int
	LastError     string
	Sweeps        int
}

var (
	statusMu     sync.RWMutex
	globalStatus = SystemStatus{StartedAt: time.Now(), LastHeartbeat: time.Now()}
)

// RecordSweep stores the outcome of the latest sweep.
func RecordSweep(target string, matches, sent, failed int, err error) {
	statusMu.Lock()
	defer statusMu.Unlock()
	globalStatus.LastSweep = time.Now()
	globalStatus.LastTarget = target
	globalStatus.LastMatches = matches
	globalStatus.LastSent = sent
	globalStatus.LastFailed = failed
	globalStatus.LastError = ""
	if err != nil {
		globalStatus.LastError = err.Error()
	}
	globalStatus.Sweeps++
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() SystemStatus {
	statusMu.RLock()
	defer statusMu.RUnlock()
	return globalStatus
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	statusMu.Lock()
	defer statusMu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// Uptime is the time since the process started.
func Uptime() time.Duration {
	return time.Since(GetStatus().StartedAt).Round(time.Second)
}
