package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

const (
	defaultService          = "_mqtt._tcp"
	defaultDomain           = "local."
	defaultDiscoveryTimeout = 5 * time.Second
)

// Endpoint is a broker found through discovery.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
}

type browseFunc func(ctx context.Context, service, domain string,
	entries, removed chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// Locator finds an MQTT broker advertised over mDNS.
type Locator struct {
	cfg    config.DiscoveryConfig
	browse browseFunc
	logger Logger
}

// NewLocator returns a Locator for the given discovery settings.
func NewLocator(cfg config.DiscoveryConfig, logger Logger) *Locator {
	if cfg.Service == "" {
		cfg.Service = defaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = defaultDomain
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Locator{
		cfg:    cfg,
		browse: zeroconf.Browse,
		logger: logger,
	}
}

// Locate browses for the configured service and returns the first usable
// broker. It gives up after the discovery timeout.
func (l *Locator) Locate(ctx context.Context) (Endpoint, error) {
	opts, err := l.browserOptions()
	if err != nil {
		return Endpoint{}, err
	}

	timeout := time.Duration(l.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- l.browse(ctx, l.cfg.Service, l.cfg.Domain, entries, removed, opts...)
	}()

	l.logger.Debug("browsing for MQTT broker", "service", l.cfg.Service, "domain", l.cfg.Domain)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, ErrBrokerNotFound
			}
			ep, ok := entryToEndpoint(entry, l.cfg.Interface)
			if !ok {
				continue
			}
			l.logger.Info("discovered MQTT broker", "instance", ep.Instance, "host", ep.Host, "port", ep.Port)
			return ep, nil

		case <-removed:

		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return Endpoint{}, fmt.Errorf("browsing %s: %w", l.cfg.Service, err)
			}
			browseErr = nil

		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%w: %w", ErrBrokerNotFound, ctx.Err())
		}
	}
}

func (l *Locator) browserOptions() ([]zeroconf.ClientOption, error) {
	var opts []zeroconf.ClientOption
	if l.cfg.Interface != "" {
		iface, err := net.InterfaceByName(l.cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, l.cfg.Interface)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts, nil
}

// entryToEndpoint prefers an IPv4 address, then a routable IPv6 address,
// then a link-local IPv6 address scoped to zone, then the host name.
// A link-local address is unusable without a zone and is skipped when zone is empty.
func entryToEndpoint(entry *zeroconf.ServiceEntry, zone string) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 || entry.Port > 65535 {
		return Endpoint{}, false
	}

	ep := Endpoint{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		ep.Host = entry.AddrIPv4[0].String()
	default:
		ep.Host = pickIPv6(entry.AddrIPv6, zone)
	}
	if ep.Host == "" {
		ep.Host = entry.HostName
	}
	if ep.Host == "" {
		return Endpoint{}, false
	}
	return ep, true
}

func pickIPv6(addrs []net.IP, zone string) string {
	var linkLocal net.IP
	for _, ip := range addrs {
		if ip == nil {
			continue
		}
		if !ip.IsLinkLocalUnicast() {
			return ip.String()
		}
		if linkLocal == nil {
			linkLocal = ip
		}
	}
	if linkLocal != nil && zone != "" {
		return linkLocal.String() + "%" + zone
	}
	return ""
}
