package discovery

import (
	"context"
	"net"
	"strings"
)

// Announcement is the local service record published on the network.
type Announcement struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	TTL      uint32
	TXT      map[string]string
}

// ServiceRecord is a peer announcement as received from the network.
type ServiceRecord struct {
	Instance string
	HostName string
	Addrs    []net.IP
	Port     int
	TXT      map[string]string
}

// Registration is a live announcement.
type Registration interface {
	// Refresh re-announces the record with new attributes.
	Refresh(txt map[string]string) error
	Shutdown()
}

// Transport is the service-discovery wire. Browse blocks until ctx is done
// or the browse fails, calling found for each resolved record.
type Transport interface {
	Announce(ctx context.Context, a Announcement) (Registration, error)
	Browse(ctx context.Context, service, domain string, found func(ServiceRecord)) error
}

func encodeTXT(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func decodeTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
