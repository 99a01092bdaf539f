// Package admin exposes synchronous read and clear operations over the
// identity registry and the channel store for operational inspection.
// No operation here streams or mutates anything beyond the explicit
// purges.
package admin

import (
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"relay-lab/domain"
	"relay-lab/repositories"
)

type Status struct {
	Status        string  `json:"status"`
	IdentityCount int     `json:"identityCount"`
	ChannelCount  int     `json:"channelCount"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	RSSMb         float64 `json:"rssMb,omitempty"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
}

type PurgeReport struct {
	Identities int `json:"identities"`
	Channels   int `json:"channels"`
}

type Facade struct {
	registry repositories.IIdentityRegistry
	store    repositories.IChannelStore
	started  time.Time
	proc     *process.Process
	log      *slog.Logger
}

func NewFacade(registry repositories.IIdentityRegistry, store repositories.IChannelStore,
	log *slog.Logger) *Facade {
	// Self-stats are best effort; a failed handle just leaves the
	// process fields at zero.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Self process handle unavailable", "err", err)
		proc = nil
	}
	return &Facade{
		registry: registry,
		store:    store,
		started:  time.Now(),
		proc:     proc,
		log:      log,
	}
}

func (f *Facade) Status() Status {
	st := Status{
		Status:        "ok",
		IdentityCount: f.registry.Count(),
		ChannelCount:  f.store.Count(),
		UptimeSeconds: time.Since(f.started).Seconds(),
	}
	if f.proc != nil {
		if mem, err := f.proc.MemoryInfo(); err == nil {
			st.RSSMb = float64(mem.RSS) / (1024 * 1024)
		}
		if cpu, err := f.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
	}
	return st
}

// Dump returns every public identity summary, insertion order.
func (f *Facade) Dump() []domain.Summary {
	return f.registry.ListAll()
}

func (f *Facade) IdentityByPhone(phone string) (domain.Summary, bool) {
	return f.registry.LookupByPhone(phone)
}

// PurgeAll clears both stores and reports the prior counts.
func (f *Facade) PurgeAll() PurgeReport {
	report := PurgeReport{
		Identities: f.registry.ClearAll(),
		Channels:   f.store.ClearAll(),
	}
	f.log.Info("Purge all", "identities", report.Identities, "channels", report.Channels)
	return report
}

// PurgeIdentities clears the registry only, channel histories stay.
func (f *Facade) PurgeIdentities() int {
	dropped := f.registry.ClearAll()
	f.log.Info("Purge identities", "identities", dropped)
	return dropped
}
