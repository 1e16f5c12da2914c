// Package config resolves the proxy's command-line flags, with optional
// environment defaults loaded via godotenv so a local .env can supply a
// listen port or cache toggle without touching the invocation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Origin is one operator-configured failover address for a Host.
type Origin struct {
	Host      string
	Addresses []string
}

// Config is the fully resolved set of options the proxy runs with.
type Config struct {
	Port             string
	CacheEnabled     bool
	Origins          []Origin
	BalancerStrategy string
	HealthCheckEvery time.Duration
	MetricsPort      string
}

const (
	defaultBalancerStrategy = "round_robin"
	defaultHealthCheckEvery = 5 * time.Second
	defaultMetricsPort      = "9090"
)

// Load loads .env defaults (if present) into the process environment, then
// parses args against those defaults. Flags always win over .env values.
// Missing -p causes usage to print to stderr and a non-nil error to return,
// matching the mandatory-port CLI contract.
func Load(args []string, stderr io.Writer) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	fs.SetOutput(stderr)

	port := fs.String("p", os.Getenv("PROXY_LISTEN_PORT"), "TCP port to listen on (mandatory)")
	cache := fs.Bool("c", envBool("PROXY_CACHE_ENABLED", false), "enable the response cache")
	lbStrategy := fs.String("lb-strategy", envString("PROXY_LB_STRATEGY", defaultBalancerStrategy), "balancer strategy: round_robin or least_conn")
	healthEvery := fs.Duration("health-interval", envDuration("PROXY_HEALTHCHECK_INTERVAL", defaultHealthCheckEvery), "origin health-check interval (0 disables)")
	metricsPort := fs.String("metrics-port", envString("PROXY_METRICS_PORT", defaultMetricsPort), "port to expose Prometheus metrics on (0 disables)")
	var originFlags originList
	fs.Var(&originFlags, "origin", "repeatable host=addr1,addr2 origin failover override")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: proxy -p <port> [-c] [-origin host=addr1,addr2] [-lb-strategy round_robin|least_conn] [-health-interval 5s] [-metrics-port 9090]\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if strings.TrimSpace(*port) == "" {
		fs.Usage()
		return nil, errors.New("config: -p is required")
	}

	return &Config{
		Port:             *port,
		CacheEnabled:     *cache,
		Origins:          originFlags.origins,
		BalancerStrategy: *lbStrategy,
		HealthCheckEvery: *healthEvery,
		MetricsPort:      *metricsPort,
	}, nil
}

// originList implements flag.Value, accumulating repeated -origin flags of
// the form "host=addr1,addr2".
type originList struct {
	origins []Origin
}

func (o *originList) String() string {
	var b strings.Builder
	for i, origin := range o.origins {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(origin.Host)
		b.WriteString("=")
		b.WriteString(strings.Join(origin.Addresses, ","))
	}
	return b.String()
}

func (o *originList) Set(s string) error {
	host, rest, ok := strings.Cut(s, "=")
	if !ok || host == "" || rest == "" {
		return fmt.Errorf("config: -origin expects host=addr1,addr2, got %q", s)
	}
	addrs := strings.Split(rest, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}
	o.origins = append(o.origins, Origin{Host: host, Addresses: addrs})
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
