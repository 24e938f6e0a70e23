package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrExternalIP is returned when every IP echo service fails.
var ErrExternalIP = errors.New("discovery: could not determine external IP")

// ipEchoServices are tried in order; the first parseable answer wins.
var ipEchoServices = []string{
	"https://api.ipify.org",
	"https://ipinfo.io/ip",
	"https://httpbin.org/ip",
}

var externalIPClient = &http.Client{Timeout: 10 * time.Second}

// ExternalIP asks public IP echo services for this host's external
// address. It works independently of the discovery lifecycle.
func ExternalIP(ctx context.Context) (net.IP, error) {
	for _, service := range ipEchoServices {
		ip, err := queryIPEcho(ctx, service)
		if err != nil {
			continue
		}
		return ip, nil
	}
	return nil, ErrExternalIP
}

// queryIPEcho fetches one service and parses its answer. httpbin wraps
// the address in a JSON object, the others return it as plain text.
func queryIPEcho(ctx context.Context, service string) (net.IP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return nil, err
	}
	resp, err := externalIPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}
	return parseIPEchoResponse(service, body)
}

// parseIPEchoResponse extracts an IP from a service answer.
func parseIPEchoResponse(service string, body []byte) (net.IP, error) {
	text := strings.TrimSpace(string(body))
	if strings.Contains(service, "httpbin") {
		var payload struct {
			Origin string `json:"origin"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		// Proxied requests report "client, proxy"; the client comes first.
		text = strings.TrimSpace(strings.Split(payload.Origin, ",")[0])
	}
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, ErrExternalIP
	}
	return ip, nil
}

// ConnectivityReport describes how reachable the public internet is
// from this host, including which common ports a local firewall filters.
type ConnectivityReport struct {
	HasInternet  bool     `json:"has_internet"`
	ExternalIP   net.IP   `json:"external_ip,omitempty"`
	BlockedPorts []uint16 `json:"blocked_ports,omitempty"`
}

// connectivityProbeHost is a well-known host expected to answer on the
// probed ports when they are not filtered.
const connectivityProbeHost = "www.google.com"

// connectivityProbePorts are the delivery fallback ports worth checking.
var connectivityProbePorts = []uint16{443, 80, 8080, 8443}

// connectivityProbeTimeout bounds each port probe.
const connectivityProbeTimeout = 3 * time.Second

// TestConnectivity reports whether this host can reach the public
// internet and which of the common delivery ports are blocked.
func TestConnectivity(ctx context.Context) ConnectivityReport {
	var report ConnectivityReport
	if ip, err := ExternalIP(ctx); err == nil {
		report.HasInternet = true
		report.ExternalIP = ip
	}
	report.BlockedPorts = probeBlockedPorts(ctx, connectivityProbeHost, connectivityProbePorts)
	return report
}

// probeBlockedPorts dials host on each port and collects the ones that
// cannot be reached within the probe timeout.
func probeBlockedPorts(ctx context.Context, host string, ports []uint16) []uint16 {
	dialer := net.Dialer{Timeout: connectivityProbeTimeout}
	var blocked []uint16
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			blocked = append(blocked, port)
			continue
		}
		conn.Close()
	}
	return blocked
}
