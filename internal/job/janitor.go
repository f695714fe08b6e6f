package job

import (
	"os"
	"time"

	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/metrics"
)

func (m *Manager) janitor(interval time.Duration) {
	defer close(m.janitorDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.janitorStop:
			return
		case now := <-ticker.C:
			if n := m.Reclaim(now); n > 0 {
				logger.Info("reclaimed job artifacts", "jobs", n)
			}
		}
	}
}

// Reclaim removes the staged input, output directory and archive of every
// terminal job that finished more than the retention window before now and
// is not being read. Reclaimed jobs stay in the registry. It returns the
// number of jobs reclaimed.
func (m *Manager) Reclaim(now time.Time) int {
	if m.cfg.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.Retention)

	var expired []*Job
	m.mu.Lock()
	for _, job := range m.jobs {
		if !job.Status.Terminal() || job.Reclaimed || job.readers > 0 {
			continue
		}
		if job.CompletedAt.After(cutoff) {
			continue
		}
		job.Reclaimed = true
		job.UpdatedAt = now
		expired = append(expired, job)
	}
	m.mu.Unlock()

	for _, job := range expired {
		paths := []string{job.InputPath, job.OutputDir}
		if job.ResultRef != "" {
			paths = append(paths, m.ArchivePath(job.ResultRef))
		} else {
			paths = append(paths, job.OutputDir+".zip")
		}
		for _, p := range paths {
			if err := os.RemoveAll(p); err != nil {
				logger.Warn("failed to reclaim artifact", "job_id", job.ID, "path", p, "error", err)
			}
		}
	}

	metrics.JobsReclaimed(len(expired))
	return len(expired)
}
