package runtime

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sklli/daovm/internal/gc"
)

func TestStartMetricsServer_ServesMetrics(t *testing.T) {
	collectors := map[string]MetricFunc{
		"testCollector": func() map[string]float64 {
			return map[string]float64{"requests_total": 123, "latency_ms": 4.5}
		},
	}
	addr, stop, err := StartMetricsServer(":0", collectors)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %v", resp.Status)
	}
	// Read a few lines and ensure our metric names appear
	rd := bufio.NewReader(resp.Body)
	var got string
	for i := 0; i < 5; i++ {
		line, _, err := rd.ReadLine()
		if err != nil {
			break
		}
		got += string(line) + "\n"
	}
	if !strings.Contains(got, "testCollector_requests_total") {
		t.Fatalf("missing metric name, got: %q", got)
	}
}

func TestStartMetricsTLSServer_ServesMetrics(t *testing.T) {
	// Create a self-signed pair
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: bigIntOne(),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("crt: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	srvCfg := &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS13}

	collectors := map[string]MetricFunc{"c": func() map[string]float64 { return map[string]float64{"x": 1} }}
	addr, stop, err := StartMetricsTLSServer("127.0.0.1:0", collectors, srvCfg)
	if err != nil {
		t.Fatalf("start tls: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	// Insecure client for self-signed test cert
	cli := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}}, Timeout: 2 * time.Second}
	resp, err := cli.Get("https://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %v", resp.Status)
	}
}

func TestStartMetricsServerWithAuth_RejectsWithoutToken(t *testing.T) {
	collectors := map[string]MetricFunc{"c": func() map[string]float64 { return map[string]float64{"x": 1} }}
	addr, stop, err := StartMetricsServerWithAuth("127.0.0.1:0", collectors, "secret")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()
	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp.Status)
	}
}

func TestStartMetricsServerWithAuth_AllowsWithToken(t *testing.T) {
	collectors := map[string]MetricFunc{"c": func() map[string]float64 { return map[string]float64{"x": 1} }}
	addr, stop, err := StartMetricsServerWithAuth("127.0.0.1:0", collectors, "secret")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()
	req, _ := http.NewRequest("GET", "http://"+addr+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %v", resp.Status)
	}
}

func TestStartMetricsTLSServerWithAuth_QueryToken(t *testing.T) {
	// Generate self-signed
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	tmpl := &x509.Certificate{SerialNumber: big.NewInt(2), NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), DNSNames: []string{"localhost"}}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("crt: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	srvCfg := &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS13}

	collectors := map[string]MetricFunc{"c": func() map[string]float64 { return map[string]float64{"x": 1} }}
	addr, stop, err := StartMetricsTLSServerWithAuth("127.0.0.1:0", collectors, srvCfg, "tok")
	if err != nil {
		t.Fatalf("start tls: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	tr := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}}
	cli := &http.Client{Transport: tr, Timeout: 2 * time.Second}
	resp, err := cli.Get("https://" + addr + "/metrics?access_token=tok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %v", resp.Status)
	}
}

// bigIntOne returns a new big.Int(1). Keep local to avoid extra imports for a single constant.
func bigIntOne() *big.Int { return big.NewInt(1) }

// gcMetricFunc adapts a gc.StatsCollector's Collect output (interface{}
// counters) to the float64-valued MetricFunc StartMetricsServer expects.
func gcMetricFunc(sc *gc.StatsCollector) MetricFunc {
	return func() map[string]float64 {
		raw, err := sc.Collect()
		if err != nil {
			return nil
		}

		out := make(map[string]float64, len(raw))
		for k, v := range raw {
			switch n := v.(type) {
			case uint64:
				out[k] = float64(n)
			case int:
				out[k] = float64(n)
			}
		}

		return out
	}
}

// TestStartMetricsServer_ServesGCStats exercises the exporter with a real
// internal/gc.Collector behind gc.NewStatsCollector: after a scan cycle
// collects a dead reference cycle, the "/metrics" endpoint must report a
// nonzero gc_objects_freed line.
func TestStartMetricsServer_ServesGCStats(t *testing.T) {
	c := gc.New()
	c.Start()

	a, b := gc.NewMap(), gc.NewMap()
	c.IncRef(a)
	c.IncRef(b)
	a.Put(nil, b)
	b.Put(nil, a)
	c.DecRef(a)
	c.DecRef(b)
	c.Cycle()

	collectors := map[string]MetricFunc{"gc": gcMetricFunc(gc.NewStatsCollector(c))}

	addr, stop, err := StartMetricsServer(":0", collectors)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %v", resp.Status)
	}

	rd := bufio.NewReader(resp.Body)
	var body strings.Builder
	for {
		line, _, err := rd.ReadLine()
		if err != nil {
			break
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	if !strings.Contains(body.String(), "gc_objects_freed") {
		t.Fatalf("missing gc_objects_freed metric, got: %q", body.String())
	}
	if strings.Contains(body.String(), "gc_objects_freed 0\n") {
		t.Fatalf("gc_objects_freed reported 0 despite a collected cycle, got: %q", body.String())
	}
}

func TestSanitizeMetricToken(t *testing.T) {
	in := " metric name (bad)!"
	out := sanitizeMetricToken(in)
	if strings.ContainsAny(out, " !()") {
		t.Fatalf("token not sanitized: %q", out)
	}
	if out == "" {
		t.Fatalf("empty token")
	}
}
