package shell

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

var (
	tzMu     sync.Mutex
	tzPinned string

	tzOnce sync.Once
	tzName string
	tzLoc  *time.Location
)

// SetLocalTimezone pins the process timezone to name instead of detecting it.
// It only has an effect when called before the first LocalTimezone call.
func SetLocalTimezone(name string) {
	tzMu.Lock()
	defer tzMu.Unlock()
	tzPinned = name
}

func loadTimezone() {
	tzMu.Lock()
	pinned := tzPinned
	tzMu.Unlock()

	tzName = detectTimezone(pinned)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		tzName, loc = "UTC", time.UTC
	}
	tzLoc = loc
}

// LocalTimezone returns the IANA name of the process timezone. It is detected
// on first use and never changes afterwards.
func LocalTimezone() string {
	tzOnce.Do(loadTimezone)
	return tzName
}

// LocalLocation is the *time.Location named by LocalTimezone.
func LocalLocation() *time.Location {
	tzOnce.Do(loadTimezone)
	return tzLoc
}

func detectTimezone(pinned string) string {
	candidates := []string{pinned, strings.TrimPrefix(os.Getenv("TZ"), ":"), zoneinfoLink("/etc/localtime")}
	if name := time.Local.String(); name != "Local" {
		candidates = append(candidates, name)
	}
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	return "UTC"
}

// zoneinfoLink resolves a /etc/localtime style symlink into a zone name,
// e.g. /usr/share/zoneinfo/Europe/Paris -> Europe/Paris.
func zoneinfoLink(path string) string {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	const marker = "zoneinfo/"
	idx := strings.LastIndex(target, marker)
	if idx < 0 {
		return ""
	}
	return target[idx+len(marker):]
}
