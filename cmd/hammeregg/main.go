// Command hammeregg runs the home desktop daemon. It registers a name
// with the signalling server, generates the key material, saves the
// remote's half as an .egps password file, and then serves remote
// sessions until the connection dies.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"hammeregg.io/envelope"
	"hammeregg.io/home"
	"hammeregg.io/packet"
	"hammeregg.io/stream"
	"hammeregg.io/wordlist"
)

var (
	name    = flag.StringP("name", "n", "", "desktop name to register (default: a random name)")
	signal  = flag.StringP("signal", "s", "", "signalling server ip[:port] (required)")
	extraCA = flag.String("ca", "", "PEM file with an additional root CA to trust")
	passOut = flag.StringP("password-out", "o", "hammeregg.egps", "path to save the egg password to")

	monX = flag.Int("monitor-x", 0, "monitor offset x")
	monY = flag.Int("monitor-y", 0, "monitor offset y")
	monW = flag.Int("monitor-w", 1920, "monitor width")
	monH = flag.Int("monitor-h", 1080, "monitor height")
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "hammeregg shares this desktop with a remote over WebRTC.\n\n")
	fmt.Fprintf(w, "usage:\n\n  %s [flags]\n\nflags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *signal == "" {
		usage()
		os.Exit(2)
	}
	addr, err := signalAddr(*signal)
	if err != nil {
		fatalf("invalid signalling server address %q: %v", *signal, err)
	}
	desktop := *name
	if desktop == "" {
		rng, err := envelope.NewRand()
		if err != nil {
			fatalf("couldn't seed csprng: %v", err)
		}
		if desktop, err = wordlist.RandomName(rng, 2); err != nil {
			fatalf("%v", err)
		}
	}

	ctx := context.Background()
	conn, err := home.Dial(ctx, desktop, addr, *extraCA)
	if err != nil {
		fatalf("%v", err)
	}
	defer conn.Close()
	log.Printf("connected to signalling server as %q", desktop)

	log.Printf("generating keys (this may take a few seconds)")
	homeKey, remoteKey, err := envelope.GenerateKeys()
	if err != nil {
		fatalf("%v", err)
	}
	password, err := envelope.NewRemotePassword(homeKey, remoteKey)
	if err != nil {
		fatalf("%v", err)
	}
	if err := password.Save(*passOut); err != nil {
		fatalf("%v", err)
	}
	log.Printf("egg password saved to %v", *passOut)

	err = conn.Run(ctx, home.RunConfig{
		HomeKey:   homeKey,
		RemoteKey: &remoteKey.PublicKey,
		Bounds: stream.MonitorBounds{
			X: *monX, Y: *monY, W: *monW, H: *monH,
		},
	})
	log.Fatal(err)
}

// signalAddr parses ip or ip:port, filling in the default signalling
// port.
func signalAddr(s string) (string, error) {
	if host, port, err := net.SplitHostPort(s); err == nil {
		if net.ParseIP(host) == nil {
			return "", fmt.Errorf("%q is not an IP address", host)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return "", fmt.Errorf("%q is not a port", port)
		}
		return s, nil
	}
	if net.ParseIP(s) == nil {
		return "", fmt.Errorf("%q is not an IP address", s)
	}
	return net.JoinHostPort(s, strconv.Itoa(packet.DefaultPort)), nil
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(flag.CommandLine.Output(), format+"\n", v...)
	os.Exit(1)
}
