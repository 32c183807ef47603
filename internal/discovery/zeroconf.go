package discovery

import (
	"context"
	"net"

	"github.com/grandcat/zeroconf"
)

// ZeroconfTransport announces and browses over multicast DNS.
type ZeroconfTransport struct {
	// Interfaces restricts the network interfaces used; nil means all.
	Interfaces []net.Interface
}

func NewZeroconfTransport(ifaces []net.Interface) *ZeroconfTransport {
	return &ZeroconfTransport{Interfaces: ifaces}
}

type zeroconfRegistration struct {
	srv *zeroconf.Server
}

func (r *zeroconfRegistration) Refresh(txt map[string]string) error {
	r.srv.SetText(encodeTXT(txt))
	return nil
}

func (r *zeroconfRegistration) Shutdown() { r.srv.Shutdown() }

func (z *ZeroconfTransport) Announce(_ context.Context, a Announcement) (Registration, error) {
	srv, err := zeroconf.Register(a.Instance, a.Service, a.Domain, a.Port, encodeTXT(a.TXT), z.Interfaces)
	if err != nil {
		return nil, err
	}
	if a.TTL > 0 {
		srv.TTL(a.TTL)
	}
	return &zeroconfRegistration{srv: srv}, nil
}

func (z *ZeroconfTransport) Browse(ctx context.Context, service, domain string, found func(ServiceRecord)) error {
	var opts []zeroconf.ClientOption
	if len(z.Interfaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(z.Interfaces))
	}
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if e != nil {
				found(recordFromEntry(e))
			}
		}
	}
}

func recordFromEntry(e *zeroconf.ServiceEntry) ServiceRecord {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return ServiceRecord{
		Instance: e.Instance,
		HostName: e.HostName,
		Addrs:    addrs,
		Port:     e.Port,
		TXT:      decodeTXT(e.Text),
	}
}
