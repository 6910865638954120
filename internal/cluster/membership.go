package cluster

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Kubernetes-style discovery labels (spec.md §6, "Cluster labels
// (published)"). A pod advertising itself to the cluster sets these so a
// label-selector based SeedNodeDiscovery can find it.
const (
	LabelCluster    = "cluster.proto.actor/cluster"
	LabelMemberID   = "cluster.proto.actor/member-id"
	LabelPort       = "cluster.proto.actor/port"
	LabelHost       = "cluster.proto.actor/host"
	LabelHostPrefix = "cluster.proto.actor/host-prefix"
	LabelKinds      = "cluster.proto.actor/kinds"
)

// SeedNodeDiscovery is the injected capability a Gossip participant
// rendezvouses through (spec.md §4.I): "the core consumes only
// [MemberJoined/MemberLeft] events; concrete discovery mechanisms are
// external collaborators." Discover is called once at startup and again
// whenever the caller wants to refresh against a changed source (e.g. a
// DNS TTL expiry or a seed-file edit); it always returns the full current
// set rather than an incremental delta, per spec.md §9's resolved open
// question ("full snapshot on change").
type SeedNodeDiscovery interface {
	Discover(ctx context.Context) ([]string, error)
}

// StaticSeedDiscovery returns a fixed, caller-supplied address list. This
// is the degenerate case spec.md §4.I calls out first ("plug-ins: static
// list, DNS, Kubernetes labels").
type StaticSeedDiscovery struct {
	Addresses []string
}

func (s StaticSeedDiscovery) Discover(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.Addresses))
	copy(out, s.Addresses)
	return out, nil
}

// DNSSeedDiscovery resolves a headless-service-style DNS name to the set
// of A/AAAA records behind it, appending Port to each. This is the
// idiomatic Kubernetes headless-service discovery pattern: no Kubernetes
// API client dependency needed, just net.Resolver, matching the teacher's
// preference for standard-library networking primitives wherever the
// stdlib already covers the concern cleanly.
type DNSSeedDiscovery struct {
	Host     string
	Port     int
	Resolver *net.Resolver
}

func (d DNSSeedDiscovery) Discover(ctx context.Context) ([]string, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ips, err := resolver.LookupIPAddr(ctx, d.Host)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip.String(), strconv.Itoa(d.Port)))
	}
	return out, nil
}

// KubernetesLabelSeedDiscovery discovers peers from a pre-fetched set of
// pod label maps, the shape a caller gets back from a Kubernetes informer
// or the `kubectl get pods -l ... -o json` label projection. Keeping the
// Kubernetes API client itself out of this package matches spec.md §4.I:
// "concrete discovery mechanisms are external collaborators" — this type
// only knows how to turn LabelHost/LabelHostPrefix/LabelPort annotations
// into dial addresses, not how to talk to the API server.
type KubernetesLabelSeedDiscovery struct {
	// Fetch returns the label set of every pod currently matching the
	// cluster's selector. Supplied by the caller so this package never
	// imports a Kubernetes client library.
	Fetch func(ctx context.Context) ([]map[string]string, error)
}

func (k KubernetesLabelSeedDiscovery) Discover(ctx context.Context) ([]string, error) {
	pods, err := k.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pods))
	for _, labels := range pods {
		host := labels[LabelHost]
		if prefix, ok := labels[LabelHostPrefix]; ok && host == "" {
			host = prefix + labels[LabelMemberID]
		}
		port := labels[LabelPort]
		if host == "" || port == "" {
			continue
		}
		out = append(out, net.JoinHostPort(host, port))
	}
	return out, nil
}

// FileSeedDiscovery reads a newline-separated seed list from a file and,
// via Watch, hot-reloads it on edit using fsnotify.
type FileSeedDiscovery struct {
	Path string
}

func (f FileSeedDiscovery) Discover(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// CachingSeedDiscovery wraps another SeedNodeDiscovery with a
// last-known-good cache (adapted from the teacher's participant lookups:
// an LRU keyed by identity). Every Discover call asks Inner; a successful
// result is cached for TTL, and when Inner fails the cached set is returned
// instead, so a transient DNS or Kubernetes API failure does not leave the
// caller with no seeds. The cache does not reduce how often Inner is
// called.
type CachingSeedDiscovery struct {
	Inner SeedNodeDiscovery
	// Key identifies this discovery's cache entry. Callers running more
	// than one Kind/cluster through the same process should give each a
	// distinct Key so their seed lists don't collide in the shared cache.
	Key string
	TTL time.Duration

	cache *expirable.LRU[string, []string]
}

// NewCachingSeedDiscovery builds a CachingSeedDiscovery with its backing
// LRU sized for a handful of concurrently-discovered clusters/kinds.
func NewCachingSeedDiscovery(inner SeedNodeDiscovery, key string, ttl time.Duration) *CachingSeedDiscovery {
	return &CachingSeedDiscovery{
		Inner: inner,
		Key:   key,
		TTL:   ttl,
		cache: expirable.NewLRU[string, []string](32, nil, ttl),
	}
}

func (c *CachingSeedDiscovery) Discover(ctx context.Context) ([]string, error) {
	seeds, err := c.Inner.Discover(ctx)
	if err != nil {
		if cached, ok := c.cache.Get(c.Key); ok {
			return cached, nil
		}
		return nil, err
	}
	c.cache.Add(c.Key, seeds)
	return seeds, nil
}

// Watch starts watching Path for writes and creates and invokes onChange
// with the freshly re-read seed list each time. The returned func stops the
// watch; callers should defer it. Watcher errors and failed re-reads are
// ignored and the loop keeps running until ctx is done or the watcher is
// closed; the caller keeps whichever seed list it last received.
func (f FileSeedDiscovery) Watch(ctx context.Context, onChange func([]string)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				seeds, err := f.Discover(ctx)
				if err != nil {
					continue
				}
				onChange(seeds)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
