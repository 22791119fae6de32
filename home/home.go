// Package home implements the home side of Hammeregg signalling: a
// TLS WebSocket client that registers a desktop name with the
// signalling server, then answers encrypted remote offers by standing
// up a WebRTC bridge and a desktop capture process.
package home

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"hammeregg.io/packet"
)

// Host is the placeholder host in the signalling URL. The server's
// certificate must carry it as a SAN; the TCP connection itself goes
// to the configured address.
const Host = "hammeregg.default"

const maxFrameSize = 512 << 10

// Conn is a registered home connection to the signalling server.
type Conn struct {
	ws   *websocket.Conn
	name string
}

// Dial connects to the signalling server at addr, performs the
// HomeInit handshake for name, and returns the registered connection.
// extraCA optionally names a PEM file of additional root certificates
// to trust alongside the system roots.
func Dial(ctx context.Context, name, addr, extraCA string) (*Conn, error) {
	log.Printf("connecting to signalling server %v with name %q", addr, name)

	tlsConf, err := clientTLSConfig(extraCA)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Transport: &http.Transport{
			DialTLSContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := &tls.Dialer{Config: tlsConf}
				conn, err := d.DialContext(ctx, "tcp", addr)
				return conn, errors.Wrap(err, "couldn't connect to signalling server")
			},
		},
	}
	ws, _, err := websocket.Dial(ctx, "wss://"+Host, &websocket.DialOptions{HTTPClient: hc})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't connect to signalling server: TLS or WebSocket handshake failed")
	}
	ws.SetReadLimit(maxFrameSize)

	c := &Conn{ws: ws, name: name}
	if err := c.handshake(ctx); err != nil {
		ws.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	init, err := packet.NewHandshakeInit(packet.Version10, &packet.HomeInit{HomeName: c.name})
	if err != nil {
		return err
	}
	typ, buf, err := packet.MarshalInit(init)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, typ, buf); err != nil {
		return errors.Wrap(err, "handshake failed: could not send packet")
	}

	typ, buf, err = c.ws.Read(ctx)
	if err != nil {
		return errors.Wrap(err, "handshake failed: could not read packet")
	}
	p, err := packet.Unmarshal(typ, buf)
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	resp, ok := p.(*packet.HomeInitResponse)
	if !ok {
		return errors.New("handshake failed: server did not respond HomeInitResponse to HomeInit")
	}
	if !resp.Response.OK {
		return errors.Errorf("handshake failed: %s", resp.Response.Err)
	}
	return nil
}

// Name returns the registered desktop name.
func (c *Conn) Name() string { return c.name }

// Close closes the signalling connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

func clientTLSConfig(extraCA string) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if extraCA != "" {
		pemBytes, err := os.ReadFile(extraCA)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't open root certificate")
		}
		if !roots.AppendCertsFromPEM(pemBytes) {
			return nil, errors.Errorf("no certificates found in %v", extraCA)
		}
	}
	return &tls.Config{
		// The server certificate names hammeregg.default rather than
		// the dial address, and SNI must stay off the wire, so chain
		// verification happens here instead of in the handshake.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyChain(roots),
	}, nil
}

func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return errors.Wrap(err, "couldn't parse server certificate")
			}
			certs[i] = cert
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			DNSName:       Host,
		})
		return errors.Wrapf(err, "server certificate is not valid for %v", Host)
	}
}
