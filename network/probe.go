package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Outcome is the verdict of a single reachability probe
type Outcome int

const (
	// ProbeFailed means the transport itself malfunctioned, the probe says
	// nothing about the target
	ProbeFailed Outcome = iota
	Reachable
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "probe_failed"
	}
}

// Prober checks whether a host answers. Implementations return Reachable or
// Unreachable with a nil error, or ProbeFailed with the transport error.
type Prober interface {
	Probe(ctx context.Context, ip string) (Outcome, error)
}

const (
	DefaultProbeTimeout = 2 * time.Second

	protocolICMP   = 1
	protocolICMPv6 = 58
)

// probePayload is the fixed echo body sent to every device
var probePayload = make([]byte, 8)

// ErrSocketDenied marks a probe that could not open its ICMP socket because
// the operating system refused it
var ErrSocketDenied = errors.New("icmp socket denied")

// ICMPProber sends one ICMP echo request per probe.
//
// Unprivileged mode uses datagram ICMP sockets ("udp4"/"udp6"), which on
// Linux requires the process group to be inside net.ipv4.ping_group_range.
// Privileged mode uses raw sockets and needs CAP_NET_RAW.
type ICMPProber struct {
	Timeout    time.Duration
	Privileged bool

	seq    atomic.Uint32
	listen func(network, address string) (*icmp.PacketConn, error)
}

func NewICMPProber(timeout time.Duration, privileged bool) *ICMPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ICMPProber{Timeout: timeout, Privileged: privileged, listen: icmp.ListenPacket}
}

// Ready checks that the prober can open an IPv4 socket. When a datagram
// socket is denied it tries a raw socket and switches to privileged mode if
// that one opens. Call it before the prober is shared.
func (p *ICMPProber) Ready() error {
	err := p.tryListen(p.Privileged)
	if err == nil || p.Privileged || !errors.Is(err, ErrSocketDenied) {
		return err
	}
	if rawErr := p.tryListen(true); rawErr != nil {
		return fmt.Errorf("%w, raw socket fallback failed too (%v): add the group to net.ipv4.ping_group_range or grant CAP_NET_RAW", err, rawErr)
	}
	p.Privileged = true
	return nil
}

func (p *ICMPProber) tryListen(privileged bool) error {
	network, listen, _ := socketFor(true, privileged)
	conn, err := p.open(network, listen)
	if err != nil {
		return err
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (p *ICMPProber) open(network, address string) (*icmp.PacketConn, error) {
	listen := p.listen
	if listen == nil {
		listen = icmp.ListenPacket
	}
	conn, err := listen(network, address)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("open %s socket: %w: %w", network, ErrSocketDenied, err)
		}
		return nil, fmt.Errorf("open %s socket: %w", network, err)
	}
	return conn, nil
}

func (p *ICMPProber) Probe(ctx context.Context, ip string) (Outcome, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return ProbeFailed, fmt.Errorf("invalid ip address %q", ip)
	}

	v4 := addr.To4() != nil
	network, listen, proto := socketFor(v4, p.Privileged)

	conn, err := p.open(network, listen)
	if err != nil {
		return ProbeFailed, err
	}
	defer conn.Close()

	deadline := time.Now().Add(p.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return ProbeFailed, fmt.Errorf("set deadline: %w", err)
	}

	// Unblock the read if the context goes away before the deadline
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	id := os.Getpid() & 0xffff
	seq := int(p.seq.Add(1) & 0xffff)

	var msgType icmp.Type = ipv4.ICMPTypeEcho
	if !v4 {
		msgType = ipv6.ICMPTypeEchoRequest
	}
	msg := icmp.Message{
		Type: msgType,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: probePayload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return ProbeFailed, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: addr}
	if !p.Privileged {
		dst = &net.UDPAddr{IP: addr}
	}

	if _, err := conn.WriteTo(wire, dst); err != nil {
		if isUnreachableErr(err) {
			return Unreachable, nil
		}
		return ProbeFailed, fmt.Errorf("send echo: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ProbeFailed, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Unreachable, nil
			}
			if isUnreachableErr(err) {
				return Unreachable, nil
			}
			return ProbeFailed, fmt.Errorf("read reply: %w", err)
		}

		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply && reply.Type != ipv6.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq || !bytes.Equal(echo.Data, probePayload) {
			continue
		}
		// The kernel rewrites the identifier of datagram sockets
		if p.Privileged && echo.ID != id {
			continue
		}
		if !peerMatches(peer, addr) {
			continue
		}
		return Reachable, nil
	}
}

func socketFor(v4, privileged bool) (network, listen string, proto int) {
	switch {
	case v4 && privileged:
		return "ip4:icmp", "0.0.0.0", protocolICMP
	case v4:
		return "udp4", "0.0.0.0", protocolICMP
	case privileged:
		return "ip6:ipv6-icmp", "::", protocolICMPv6
	default:
		return "udp6", "::", protocolICMPv6
	}
}

func peerMatches(peer net.Addr, want net.IP) bool {
	switch a := peer.(type) {
	case *net.IPAddr:
		return a.IP.Equal(want)
	case *net.UDPAddr:
		return a.IP.Equal(want)
	}
	return false
}

func isUnreachableErr(err error) bool {
	return errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTDOWN)
}
