package server

import (
	"net"
	"strings"
)

// ------------------------------------------------------------
// 원격 주소 유틸
//
// SourceIdentifier.Primary 는 "연결한 호스트" 를 나타낸다.
// net.Addr 문자열은 포트가 붙어 있고 IPv6 는 [] 로 감싸져 있으므로
// 포트를 떼고 IP 를 정규화한 문자열을 쓴다.
// ------------------------------------------------------------

// safeParseIP:
//   - 공백/빈 값 대응
//   - IPv6 zone(%eth0) 은 떼고 파싱
//   - 잘못된 값이면 nil
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, '%'); i != -1 {
		s = s[:i]
	}
	return net.ParseIP(s)
}

// remoteHost:
//
// 우선순위:
//  1. *net.TCPAddr → IP 그대로
//  2. "host:port" 문자열 → host 를 IP 로 정규화
//  3. 파싱 실패 → host (또는 원문) 그대로
//
// IPv4-mapped IPv6(::ffff:1.2.3.4) 는 IPv4 로 표시된다.
func remoteHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP != nil {
		return tcp.IP.String()
	}

	raw := addr.String()
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		host = raw
	}
	if ip := safeParseIP(host); ip != nil {
		return ip.String()
	}
	if host == "" {
		return "unknown"
	}
	return host
}
