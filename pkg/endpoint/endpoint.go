package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint 单台设备的地址描述
type Endpoint struct {
	Protocol  string
	Transport string
	Hostname  string
	Port      int
	Username  string
	Password  string
}

// Parse 解析 [protocol[+transport]://][user[:pass]@]host[:port]
func Parse(uri string) (Endpoint, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}
	if !strings.Contains(uri, "://") {
		ep := Endpoint{}
		hostport := uri
		if i := strings.LastIndex(uri, "@"); i >= 0 {
			ep.Username, ep.Password, _ = strings.Cut(uri[:i], ":")
			if ep.Username == "" {
				return Endpoint{}, fmt.Errorf("invalid endpoint %q: empty username", uri)
			}
			hostport = uri[i+1:]
		}
		return parseHostPort(ep, hostport, uri)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", uri, err)
	}
	ep := Endpoint{}
	scheme := strings.ToLower(u.Scheme)
	if proto, transport, ok := strings.Cut(scheme, "+"); ok {
		ep.Protocol, ep.Transport = proto, transport
	} else {
		ep.Protocol = scheme
	}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	if u.Path != "" && u.Path != "/" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unexpected path %q", uri, u.Path)
	}
	return parseHostPort(ep, u.Host, uri)
}

func parseHostPort(ep Endpoint, hostport, uri string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// 无端口
		host = strings.Trim(hostport, "[]")
		port = ""
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: empty host", uri)
	}
	if strings.ContainsAny(host, "/@ ") {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad host %q", uri, host)
	}
	ep.Hostname = host
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %q", uri, port)
		}
		ep.Port = p
	}
	return ep, nil
}

// ProtocolName 返回 protocol 或 protocol+transport
func (e Endpoint) ProtocolName() string {
	if e.Transport == "" {
		return e.Protocol
	}
	return e.Protocol + "+" + e.Transport
}

// Address host:port，未指定端口时只返回主机名
func (e Endpoint) Address() string {
	if e.Port == 0 {
		return e.Hostname
	}
	return net.JoinHostPort(e.Hostname, strconv.Itoa(e.Port))
}

// String 生成 URI，密码被隐藏
func (e Endpoint) String() string {
	if e.Protocol == "" && e.Username == "" {
		return e.Address()
	}
	var b strings.Builder
	if e.Protocol != "" {
		b.WriteString(e.ProtocolName())
		b.WriteString("://")
	}
	if e.Username != "" {
		b.WriteString(e.Username)
		if e.Password != "" {
			b.WriteString(":***")
		}
		b.WriteString("@")
	}
	b.WriteString(e.Address())
	return b.String()
}
