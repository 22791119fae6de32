// Command rooster runs the Hammeregg signalling server: a TLS
// WebSocket relay that lets remote clients find home desktops by name
// and exchange encrypted session descriptions with them.
package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"hammeregg.io/packet"
	"hammeregg.io/rooster"
)

var (
	addr        = flag.StringP("addr", "a", "127.0.0.1", "address to run Rooster on")
	port        = flag.Uint16P("port", "p", packet.DefaultPort, "port to run Rooster on")
	certFile    = flag.StringP("cert", "c", "", "PEM certificate chain (required)")
	keyFile     = flag.StringP("key", "k", "", "PEM private key (required)")
	metricsAddr = flag.String("metrics", "", "optional address to serve Prometheus metrics on")
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "rooster is the Hammeregg signalling server.\n\n")
	fmt.Fprintf(w, "usage:\n\n  %s [flags]\n\nflags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *certFile == "" || *keyFile == "" {
		usage()
		os.Exit(2)
	}
	ip := net.ParseIP(*addr)
	if ip == nil {
		fatalf("invalid address %q", *addr)
	}
	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		fatalf("couldn't load certificate: %v", err)
	}

	s := rooster.NewServer()

	if *metricsAddr != "" {
		go func() {
			log.Fatal(http.ListenAndServe(*metricsAddr, s.MetricsHandler()))
		}()
	}

	ln, err := tls.Listen("tcp",
		net.JoinHostPort(ip.String(), strconv.Itoa(int(*port))),
		&tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		fatalf("couldn't bind to port: %v", err)
	}
	log.Printf("rooster listening at wss://%v", ln.Addr())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Fatal(srv.Serve(ln))
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(flag.CommandLine.Output(), format+"\n", v...)
	os.Exit(1)
}
