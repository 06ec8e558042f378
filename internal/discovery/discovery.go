// internal/discovery/discovery.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chimera/internal/driver/device"
)

// Result describes one probed address.
type Result struct {
	Address    string  `json:"address"`
	IPAddress  string  `json:"ip_address"`
	Port       int     `json:"port"`
	HashRate   float64 `json:"hashrate"`
	Frequency  float64 `json:"freq"`
	Temp       float64 `json:"temp"`
	LatencyMs  int64   `json:"latency_ms"`
	Responding bool    `json:"responding"`
	Error      string  `json:"error,omitempty"`
}

// Config holds configuration for network discovery.
// Subnet is CIDR notation; empty means the first local /24. Timeout applies
// per host.
type Config struct {
	Subnet          string        `json:"subnet"`
	Port            int           `json:"port"`
	Timeout         time.Duration `json:"timeout"`
	ConcurrentScans int           `json:"concurrent_scans"`
	IncludeLocal    bool          `json:"include_local"`
}

// NewConfig creates a default discovery configuration
func NewConfig() Config {
	return Config{
		Port:            device.AxeOSDefaultPort,
		Timeout:         device.AxeOSTelemetryTimeout,
		ConcurrentScans: 32,
	}
}

// ErrNoDevice is returned by FindDevice when nothing answered.
var ErrNoDevice = errors.New("no AxeOS device found on network")

// Discover probes every host in the subnet for an AxeOS management API and
// returns the ones that answered, best first.
func Discover(ctx context.Context, cfg Config) ([]Result, error) {
	if cfg.Subnet == "" {
		subnet, err := localSubnet()
		if err != nil {
			return nil, fmt.Errorf("failed to determine local subnet: %w", err)
		}
		cfg.Subnet = subnet
	}
	if cfg.Port <= 0 {
		cfg.Port = device.AxeOSDefaultPort
	}
	if cfg.ConcurrentScans <= 0 {
		cfg.ConcurrentScans = 1
	}

	ips, err := Hosts(cfg.Subnet)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ConcurrentScans)
	for _, ip := range ips {
		if !cfg.IncludeLocal && isLocalIP(ip) {
			continue
		}
		g.Go(func() error {
			res := Probe(gctx, ip, cfg.Port, cfg.Timeout)
			if res.Responding {
				mu.Lock()
				found = append(found, res)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}

	Rank(found)
	return found, nil
}

// FindDevice returns the best responding device in the subnet.
func FindDevice(ctx context.Context, cfg Config) (*Result, error) {
	found, err := Discover(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoDevice
	}
	return &found[0], nil
}

// Probe reads system info from ip:port.
func Probe(ctx context.Context, ip string, port int, timeout time.Duration) Result {
	address := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	result := Result{Address: address, IPAddress: ip, Port: port}

	start := time.Now()
	info, err := device.NewAxeOSClient(address, timeout).SystemInfo(ctx)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Responding = true
	result.HashRate = info.HashRate
	result.Frequency = info.Frequency
	result.Temp = info.Temperature
	return result
}

// Rank orders results: responding first, then higher hashrate, then lower
// latency.
func Rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Responding != b.Responding {
			return a.Responding
		}
		if a.HashRate != b.HashRate {
			return a.HashRate > b.HashRate
		}
		return a.LatencyMs < b.LatencyMs
	})
}

// Hosts lists the addresses in an IPv4 CIDR, without the network and
// broadcast addresses when the prefix leaves room for them.
func Hosts(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %s: %w", cidr, err)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("subnet %s is not IPv4", cidr)
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones > 16 {
		return nil, fmt.Errorf("subnet %s is too large to scan", cidr)
	}

	var ips []string
	for ip := ip.Mask(ipnet.Mask).To4(); ipnet.Contains(ip); incrementIP(ip) {
		ips = append(ips, ip.String())
	}
	if bits-ones >= 2 {
		ips = ips[1 : len(ips)-1]
	}
	return ips, nil
}

// localSubnet returns the /24 of the first non-loopback IPv4 interface.
func localSubnet() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ip := addrIP(addr)
			if ip == nil || ip.To4() == nil {
				continue
			}
			parts := strings.Split(ip.To4().String(), ".")
			return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2]), nil
		}
	}

	return "", fmt.Errorf("no suitable network interface found")
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// isLocalIP reports loopback and this machine's own addresses.
func isLocalIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if local := addrIP(addr); local != nil && local.Equal(ip) {
			return true
		}
	}
	return false
}
