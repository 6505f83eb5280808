package sambung

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStaticRegistryAddAndGet(t *testing.T) {
	r := NewStaticRegistry()
	r.Add(
		ServiceInstance{ServiceName: "users", Address: "10.0.0.1:8080", Weight: 2, Healthy: true},
		ServiceInstance{ServiceName: "users", Address: "10.0.0.2:8080", Weight: 1, Healthy: true},
		ServiceInstance{ServiceName: "orders", Address: "10.0.1.1:8080", Weight: 1, Healthy: true},
	)

	instances, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if err != nil {
		t.Fatalf("GetInstances failed: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Expected 2 users instances, got %d", len(instances))
	}
	if instances[0].Address != "10.0.0.1:8080" || instances[1].Address != "10.0.0.2:8080" {
		t.Errorf("Expected instances in registration order, got %s,%s", instances[0].Address, instances[1].Address)
	}
}

func TestStaticRegistryUnknownService(t *testing.T) {
	r := NewStaticRegistry()

	instances, err := r.GetInstances(context.Background(), "ghost", DiscoveryOptions{})
	if err != nil {
		t.Fatalf("GetInstances failed: %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("Expected no instances for unknown service, got %d", len(instances))
	}
}

func TestStaticRegistryRemove(t *testing.T) {
	r := NewStaticRegistry()
	r.Add(
		ServiceInstance{ServiceName: "users", Address: "a", Healthy: true},
		ServiceInstance{ServiceName: "users", Address: "b", Healthy: true},
	)

	r.Remove("users", "a")

	instances, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if len(instances) != 1 || instances[0].Address != "b" {
		t.Errorf("Expected only instance b after removal, got %v", instances)
	}
}

func TestStaticRegistryHealthFilter(t *testing.T) {
	r := NewStaticRegistry()
	r.Add(
		ServiceInstance{ServiceName: "users", Address: "a", Healthy: true},
		ServiceInstance{ServiceName: "users", Address: "b", Healthy: true},
	)

	r.SetHealthy("users", "b", false)

	all, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if len(all) != 2 {
		t.Errorf("Expected unfiltered lookup to keep both instances, got %d", len(all))
	}

	healthy, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{HealthyOnly: true})
	if len(healthy) != 1 || healthy[0].Address != "a" {
		t.Errorf("Expected only healthy instance a, got %v", healthy)
	}
}

func TestStaticRegistryClusterFilter(t *testing.T) {
	r := NewStaticRegistry()
	r.Add(
		ServiceInstance{ServiceName: "users", Address: "a", Healthy: true, Cluster: "east"},
		ServiceInstance{ServiceName: "users", Address: "b", Healthy: true, Cluster: "west"},
	)

	instances, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{ClusterName: "west"})
	if len(instances) != 1 || instances[0].Address != "b" {
		t.Errorf("Expected only west instance b, got %v", instances)
	}
}

func TestStaticRegistryReturnsCopies(t *testing.T) {
	r := NewStaticRegistry()
	r.Add(ServiceInstance{ServiceName: "users", Address: "a", Weight: 1, Healthy: true})

	instances, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	instances[0].Weight = 99

	again, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if again[0].Weight != 1 {
		t.Error("Expected registry state isolated from caller mutation")
	}
}

func TestFileRegistryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `services:
  users:
    - address: 10.0.0.1:8080
      weight: 3
    - address: 10.0.0.2:8080
      healthy: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry file: %v", err)
	}

	r := NewFileRegistry(path)
	instances, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if err != nil {
		t.Fatalf("GetInstances failed: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Expected 2 instances, got %d", len(instances))
	}

	if instances[0].Weight != 3 {
		t.Errorf("Expected weight 3 preserved, got %d", instances[0].Weight)
	}
	if !instances[0].Healthy {
		t.Error("Expected omitted healthy field to default to true")
	}
	if instances[1].Healthy {
		t.Error("Expected explicit healthy: false preserved")
	}
	if instances[1].Weight != 1 {
		t.Errorf("Expected omitted weight to default to 1, got %d", instances[1].Weight)
	}
	if instances[0].ServiceName != "users" {
		t.Errorf("Expected service name stamped onto instances, got %q", instances[0].ServiceName)
	}
}

func TestFileRegistryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	content := `{"services":{"orders":[{"address":"10.0.1.1:9090","weight":2,"cluster":"east"}]}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry file: %v", err)
	}

	r := NewFileRegistry(path)
	instances, err := r.GetInstances(context.Background(), "orders", DiscoveryOptions{})
	if err != nil {
		t.Fatalf("GetInstances failed: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	if instances[0].Address != "10.0.1.1:9090" || instances[0].Weight != 2 || instances[0].Cluster != "east" {
		t.Errorf("Expected JSON fields decoded, got %+v", instances[0])
	}
}

func TestFileRegistryReloadsEveryLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	write := func(addresses ...string) {
		content := "services:\n  users:\n"
		for _, a := range addresses {
			content += "    - address: " + a + "\n"
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write registry file: %v", err)
		}
	}

	write("a")
	r := NewFileRegistry(path)

	instances, _ := r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}

	write("a", "b")
	instances, _ = r.GetInstances(context.Background(), "users", DiscoveryOptions{})
	if len(instances) != 2 {
		t.Errorf("Expected file edit visible on next lookup, got %d instances", len(instances))
	}
}

func TestFileRegistryMissingFile(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{}); err == nil {
		t.Error("Expected error for missing registry file")
	}
}

func TestHTTPRegistryLookup(t *testing.T) {
	var gotQuery map[string]string
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		gotUserAgent = r.Header.Get("User-Agent")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]instanceSpec{
			{Address: "10.0.0.1:8080", Weight: 2},
			{Address: "10.0.0.2:8080"},
		})
	}))
	defer server.Close()

	r := NewHTTPRegistry(HTTPRegistryConfig{Endpoint: server.URL})
	instances, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{
		NamespaceID: "prod",
		GroupName:   "core",
		ClusterName: "",
		HealthyOnly: true,
	})
	if err != nil {
		t.Fatalf("GetInstances failed: %v", err)
	}

	if gotQuery["service"] != "users" {
		t.Errorf("Expected service query param users, got %q", gotQuery["service"])
	}
	if gotQuery["namespaceId"] != "prod" || gotQuery["groupName"] != "core" {
		t.Errorf("Expected discovery options as query params, got %v", gotQuery)
	}
	if gotQuery["healthyOnly"] != "true" {
		t.Errorf("Expected healthyOnly=true, got %q", gotQuery["healthyOnly"])
	}
	if gotUserAgent != "sambung-registry/"+Version {
		t.Errorf("Expected registry user agent, got %q", gotUserAgent)
	}

	if len(instances) != 2 {
		t.Fatalf("Expected 2 instances, got %d", len(instances))
	}
	if instances[0].Weight != 2 || instances[1].Weight != 1 {
		t.Errorf("Expected weights 2,1 after defaulting, got %d,%d", instances[0].Weight, instances[1].Weight)
	}
	if !instances[0].Healthy {
		t.Error("Expected absent healthy field to default to true")
	}
}

func TestHTTPRegistryRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	r := NewHTTPRegistry(HTTPRegistryConfig{Endpoint: server.URL})
	if _, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{}); err == nil {
		t.Error("Expected error for non-200 discovery response")
	}
}

func TestHTTPRegistryRejectsWrongContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	r := NewHTTPRegistry(HTTPRegistryConfig{Endpoint: server.URL})
	if _, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{}); err == nil {
		t.Error("Expected error for non-JSON discovery response")
	}
}

func TestHTTPRegistryCoalescesConcurrentLookups(t *testing.T) {
	var hits int64
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		startedOnce.Do(func() { close(started) })
		<-release

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]instanceSpec{{Address: "a"}})
	}))
	defer server.Close()

	r := NewHTTPRegistry(HTTPRegistryConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	// One lookup reaches the handler and blocks; the rest join it in flight.
	var wg sync.WaitGroup
	launch := func() {
		defer wg.Done()
		if _, err := r.GetInstances(context.Background(), "users", DiscoveryOptions{}); err != nil {
			t.Errorf("GetInstances failed: %v", err)
		}
	}

	wg.Add(1)
	go launch()
	<-started

	for i := 0; i < 9; i++ {
		wg.Add(1)
		go launch()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("Expected 1 upstream hit for coalesced lookups, got %d", got)
	}
}
