package metrics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/fg-server/internal/logging"
)

// ProcessSampler периодически снимает RSS и загрузку CPU процесса
type ProcessSampler struct {
	startTime time.Time
	proc      *process.Process

	rss        prometheus.Gauge
	cpu        prometheus.Gauge
	goroutines prometheus.Gauge

	mu       sync.RWMutex
	last     ProcessStats
	stopOnce sync.Once
	quit     chan struct{}
}

// ProcessStats последний снимок
type ProcessStats struct {
	RSSMB      float64 `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

// NewProcessSampler регистрирует gauge процесса в reg
func NewProcessSampler(reg prometheus.Registerer) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("gopsutil: %w", err)
	}
	ps := &ProcessSampler{
		startTime: time.Now(),
		proc:      proc,
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Резидентная память процесса.",
		}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Загрузка CPU процессом в процентах.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Число горутин.",
		}),
		quit: make(chan struct{}),
	}
	reg.MustRegister(ps.rss, ps.cpu, ps.goroutines)
	return ps, nil
}

// Start запускает опрос раз в interval
func (ps *ProcessSampler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ps.Sample()
			case <-ps.quit:
				return
			}
		}
	}()
}

// Stop останавливает опрос
func (ps *ProcessSampler) Stop() {
	ps.stopOnce.Do(func() { close(ps.quit) })
}

// Sample снимает показатели немедленно
func (ps *ProcessSampler) Sample() ProcessStats {
	st := ProcessStats{Goroutines: runtime.NumGoroutine(), Uptime: ps.Uptime()}
	if mem, err := ps.proc.MemoryInfo(); err == nil {
		st.RSSMB = float64(mem.RSS) / 1024 / 1024
		ps.rss.Set(float64(mem.RSS))
	} else {
		logging.Debug("gopsutil MemoryInfo: %v", err)
	}
	if pct, err := ps.proc.CPUPercent(); err == nil {
		st.CPUPercent = pct
		ps.cpu.Set(pct)
	}
	ps.goroutines.Set(float64(st.Goroutines))

	ps.mu.Lock()
	ps.last = st
	ps.mu.Unlock()
	return st
}

// Last возвращает последний снимок
func (ps *ProcessSampler) Last() ProcessStats {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	st := ps.last
	st.Uptime = ps.Uptime()
	return st
}

// Uptime время работы в виде "1д 2ч 3м 4с"
func (ps *ProcessSampler) Uptime() string {
	return formatUptime(time.Since(ps.startTime))
}

func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
