package sambung

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// StaticRegistry serves instances from an in-memory table. It is meant for
// fixed topologies and tests.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]ServiceInstance
}

// NewStaticRegistry creates an empty static registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{services: make(map[string][]ServiceInstance)}
}

// Add registers instances under their ServiceName, in call order.
func (r *StaticRegistry) Add(instances ...ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range instances {
		r.services[in.ServiceName] = append(r.services[in.ServiceName], in)
	}
}

// Remove drops the instance with the given address from a service.
func (r *StaticRegistry) Remove(serviceName, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.services[serviceName]
	for i, in := range list {
		if in.Address == address {
			r.services[serviceName] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// SetHealthy flips the health flag of one registered instance.
func (r *StaticRegistry) SetHealthy(serviceName, address string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.services[serviceName]
	for i := range list {
		if list[i].Address == address {
			list[i].Healthy = healthy
			return
		}
	}
}

// GetInstances returns the registered instances of serviceName after applying
// the discovery filters. Namespace and group options are ignored; the static
// table has no such dimensions.
func (r *StaticRegistry) GetInstances(_ context.Context, serviceName string, opts DiscoveryOptions) ([]ServiceInstance, error) {
	r.mu.RLock()
	list := r.services[serviceName]
	out := make([]ServiceInstance, len(list))
	copy(out, list)
	r.mu.RUnlock()

	return filterInstances(out, opts), nil
}

// instanceSpec is the wire shape of one instance in registry files and HTTP
// discovery responses. Healthy is a pointer so an absent field defaults to
// healthy.
type instanceSpec struct {
	Address  string            `yaml:"address" json:"address"`
	Weight   int               `yaml:"weight" json:"weight"`
	Healthy  *bool             `yaml:"healthy" json:"healthy"`
	Cluster  string            `yaml:"cluster" json:"cluster"`
	Metadata map[string]string `yaml:"metadata" json:"metadata"`
}

func (s instanceSpec) toInstance(serviceName string) ServiceInstance {
	healthy := true
	if s.Healthy != nil {
		healthy = *s.Healthy
	}
	weight := s.Weight
	if weight <= 0 {
		weight = 1
	}
	return ServiceInstance{
		ServiceName: serviceName,
		Address:     s.Address,
		Weight:      weight,
		Healthy:     healthy,
		Cluster:     s.Cluster,
		Metadata:    s.Metadata,
	}
}

type registryFile struct {
	Services map[string][]instanceSpec `yaml:"services" json:"services"`
}

// FileRegistry reads instances from a YAML or JSON file on every lookup, so
// edits to the file take effect on the next call without a watcher.
type FileRegistry struct {
	path string
}

// NewFileRegistry creates a registry reading from path. The format follows
// the file extension: .json is JSON, everything else YAML.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// GetInstances loads the file and returns the instances of serviceName after
// applying the discovery filters.
func (r *FileRegistry) GetInstances(_ context.Context, serviceName string, opts DiscoveryOptions) ([]ServiceInstance, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("sambung: read registry file: %w", err)
	}

	var file registryFile
	if strings.EqualFold(filepath.Ext(r.path), ".json") {
		err = json.Unmarshal(raw, &file)
	} else {
		err = yaml.Unmarshal(raw, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("sambung: parse registry file %s: %w", r.path, err)
	}

	specs := file.Services[serviceName]
	out := make([]ServiceInstance, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.toInstance(serviceName))
	}
	return filterInstances(out, opts), nil
}

// HTTPRegistryConfig configures HTTP-based discovery.
type HTTPRegistryConfig struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

// HTTPRegistry fetches instances from a discovery endpoint:
// GET {endpoint}?service=<name> with the discovery options as extra query
// parameters, returning a JSON array of instances. Every lookup hits the
// endpoint; concurrent identical lookups are coalesced into one request, but
// results are never reused across time.
type HTTPRegistry struct {
	endpoint string
	client   *http.Client
	group    singleflight.Group
}

// NewHTTPRegistry creates an HTTP discovery client.
func NewHTTPRegistry(config HTTPRegistryConfig) *HTTPRegistry {
	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPRegistry{
		endpoint: config.Endpoint,
		client:   client,
	}
}

// GetInstances queries the discovery endpoint for serviceName.
func (r *HTTPRegistry) GetInstances(ctx context.Context, serviceName string, opts DiscoveryOptions) ([]ServiceInstance, error) {
	lookupURL, err := r.lookupURL(serviceName, opts)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(lookupURL, func() (interface{}, error) {
		return r.fetch(ctx, serviceName, lookupURL)
	})
	if err != nil {
		return nil, err
	}

	instances := v.([]ServiceInstance)
	out := make([]ServiceInstance, len(instances))
	copy(out, instances)
	return filterInstances(out, opts), nil
}

func (r *HTTPRegistry) lookupURL(serviceName string, opts DiscoveryOptions) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("sambung: discovery endpoint: %w", err)
	}

	q := u.Query()
	q.Set("service", serviceName)
	if opts.NamespaceID != "" {
		q.Set("namespaceId", opts.NamespaceID)
	}
	if opts.GroupName != "" {
		q.Set("groupName", opts.GroupName)
	}
	if opts.ClusterName != "" {
		q.Set("clusterName", opts.ClusterName)
	}
	if opts.HealthyOnly {
		q.Set("healthyOnly", strconv.FormatBool(opts.HealthyOnly))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *HTTPRegistry) fetch(ctx context.Context, serviceName, lookupURL string) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("sambung: discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sambung-registry/"+Version)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sambung: discovery lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sambung: discovery lookup for %s returned status %d", serviceName, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("sambung: discovery lookup returned unsupported content type %q", ct)
	}

	var specs []instanceSpec
	if err := json.NewDecoder(resp.Body).Decode(&specs); err != nil {
		return nil, fmt.Errorf("sambung: decode discovery response: %w", err)
	}

	instances := make([]ServiceInstance, 0, len(specs))
	for _, spec := range specs {
		instances = append(instances, spec.toInstance(serviceName))
	}
	return instances, nil
}

// filterInstances applies the health and cluster filters of a lookup.
func filterInstances(instances []ServiceInstance, opts DiscoveryOptions) []ServiceInstance {
	if !opts.HealthyOnly && opts.ClusterName == "" {
		return instances
	}
	out := instances[:0]
	for _, in := range instances {
		if opts.HealthyOnly && !in.Healthy {
			continue
		}
		if opts.ClusterName != "" && in.Cluster != opts.ClusterName {
			continue
		}
		out = append(out, in)
	}
	return out
}
