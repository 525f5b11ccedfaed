package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultWaitTimeout  = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

var errNoAddress = errors.New("no usable address")

// Logger is the logging subset used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Provisioner waits for the host network to come up.
type Provisioner struct {
	timeout  time.Duration
	interval time.Duration
	addrs    func() ([]net.Addr, error)
	logger   Logger
}

// NewProvisioner returns a Provisioner that waits up to timeout for an address.
// A nil logger discards output.
func NewProvisioner(timeout time.Duration, logger Logger) *Provisioner {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Provisioner{
		timeout:  timeout,
		interval: defaultPollInterval,
		addrs:    net.InterfaceAddrs,
		logger:   logger,
	}
}

// AutoConnect blocks until a non-loopback unicast address is available,
// the timeout expires or ctx is cancelled. It returns the address found.
func (p *Provisioner) AutoConnect(ctx context.Context) (net.IP, error) {
	ip, err := backoff.Retry(ctx, p.lookup,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.interval)),
		backoff.WithMaxElapsedTime(p.timeout),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.logger.Debug("waiting for network", "error", err, "retry_in", wait)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	p.logger.Info("network ready", "address", ip.String())
	return ip, nil
}

func (p *Provisioner) lookup() (net.IP, error) {
	addrs, err := p.addrs()
	if err != nil {
		return nil, fmt.Errorf("listing interface addresses: %w", err)
	}
	if ip := usableAddress(addrs); ip != nil {
		return ip, nil
	}
	return nil, errNoAddress
}

// usableAddress returns the first global or link-local unicast address,
// preferring IPv4.
func usableAddress(addrs []net.Addr) net.IP {
	var v6 net.IP
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() {
			continue
		}
		if ip.To4() != nil {
			return ip
		}
		if v6 == nil {
			v6 = ip
		}
	}
	return v6
}
