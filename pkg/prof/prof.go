package prof

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrActive indicates a session is already running.
	ErrActive = errors.New("profiling session already active")

	// ErrUnknownProfile indicates a profile name unknown to the runtime.
	ErrUnknownProfile = errors.New("unknown profile")
)

// Snapshot profile names.
const (
	ProfileHeap      = "heap"
	ProfileAllocs    = "allocs"
	ProfileGoroutine = "goroutine"
	ProfileBlock     = "block"
	ProfileMutex     = "mutex"
)

// Config names the output file of each profile. Empty paths disable the
// profile.
type Config struct {
	CPU   string
	Heap  string
	Block string
	Mutex string
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.CPU != "" || c.Heap != "" || c.Block != "" || c.Mutex != ""
}

// Session is a running set of profiles.
type Session struct {
	cfg  Config
	cpu  *os.File
	once sync.Once
	err  error
}

var (
	activeMu sync.Mutex
	active   bool
)

// Start begins the profiles requested by cfg. A zero Config returns a
// session whose Stop does nothing.
func Start(cfg Config) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active {
		return nil, ErrActive
	}

	s := &Session{cfg: cfg}
	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpu = f
	}
	if cfg.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	active = true
	return s, nil
}

// Stop ends the CPU profile, writes the snapshot profiles and disables
// sampling. Later calls return the result of the first.
func (s *Session) Stop() error {
	s.once.Do(func() {
		var errs []error
		if s.cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, s.cpu.Close())
		}
		errs = append(errs,
			writeFile(ProfileHeap, s.cfg.Heap),
			writeFile(ProfileBlock, s.cfg.Block),
			writeFile(ProfileMutex, s.cfg.Mutex))
		if s.cfg.Block != "" {
			runtime.SetBlockProfileRate(0)
		}
		if s.cfg.Mutex != "" {
			runtime.SetMutexProfileFraction(0)
		}
		s.err = errors.Join(errs...)

		activeMu.Lock()
		active = false
		activeMu.Unlock()
	})
	return s.err
}

func writeFile(name, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(name, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTo writes the named snapshot profile to w. Debug level 0 is the
// protobuf format read by go tool pprof; 1 is text.
func WriteTo(name string, w io.Writer, debug int) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p.WriteTo(w, debug)
}
