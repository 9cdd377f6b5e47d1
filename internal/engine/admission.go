package engine

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// Decision is the verdict of the admission gate. Reason names the check
// that denied the URL.
type Decision struct {
	Allowed bool
	Reason  types.FailureReason
}

// Admission decides whether a URL may be fetched. It is a pure predicate
// over the target domain, the extension denylist and the robots rules
// loaded at startup.
type Admission struct {
	domain string
	skip   map[string]struct{}
	robots *RobotsPolicy
}

// NewAdmission builds the gate for baseURL's domain.
func NewAdmission(baseURL string, skipExtensions []string, robots *RobotsPolicy) (*Admission, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidURL, baseURL)
	}

	skip := make(map[string]struct{}, len(skipExtensions))
	for _, ext := range skipExtensions {
		skip[strings.ToLower(ext)] = struct{}{}
	}
	if robots == nil {
		robots = AllowAllRobots()
	}

	return &Admission{
		domain: bareHost(u.Host),
		skip:   skip,
		robots: robots,
	}, nil
}

// Admit runs the domain, extension and robots checks in that order.
func (a *Admission) Admit(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Decision{Reason: types.ReasonInvalidURL}
	}
	if !a.inDomain(u) {
		return Decision{Reason: types.ReasonOutOfDomain}
	}
	if a.skipped(u) {
		return Decision{Reason: types.ReasonSkippedExtension}
	}
	if !a.robots.Allowed(rawURL) {
		return Decision{Reason: types.ReasonBlockedByRobots}
	}
	return Decision{Allowed: true}
}

// InScope applies only the domain and extension checks. Used while
// harvesting links; robots is enforced when the URL is dequeued.
func (a *Admission) InScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return a.inDomain(u) && !a.skipped(u)
}

// SetRobots swaps the robots rules.
func (a *Admission) SetRobots(robots *RobotsPolicy) {
	if robots == nil {
		robots = AllowAllRobots()
	}
	a.robots = robots
}

// Domain returns the target host without any www. prefix.
func (a *Admission) Domain() string {
	return a.domain
}

func (a *Admission) inDomain(u *url.URL) bool {
	return u.Host != "" && bareHost(u.Host) == a.domain
}

func (a *Admission) skipped(u *url.URL) bool {
	ext := path.Ext(strings.ToLower(u.Path))
	if ext == "" {
		return false
	}
	_, ok := a.skip[ext]
	return ok
}

func bareHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
