// Command routingnode wires the routing core's collaborators into a
// runnable process: it loads (or defaults) the protocol parameters, loads
// or generates this node's identity keypair, joins the network described
// by a bootstrap-endpoints file, and serves until interrupted.
//
// This is a reference adapter, not the routing core itself: it exists to
// show the six components assembled the way a real process would, using
// the in-memory transport double as the reachable network. A deployment
// with a real socket transport substitutes its own transport.Transport
// implementation without touching the routing package.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/walmircouto/MaidSafe-Routing/config"
	"github.com/walmircouto/MaidSafe-Routing/id"
	"github.com/walmircouto/MaidSafe-Routing/identity"
	"github.com/walmircouto/MaidSafe-Routing/routing"
	"github.com/walmircouto/MaidSafe-Routing/transport"
	"github.com/walmircouto/MaidSafe-Routing/wire"
)

var demoNetwork = transport.NewNetwork()

func main() {
	paramsPath := flag.String("params", "", "path to a parameters JSON file (defaults to the built-in protocol constants)")
	bootstrapPath := flag.String("bootstrap", "", "path to a newline-delimited file of hex-encoded bootstrap contact ids")
	clientMode := flag.Bool("client", false, "join as a non-routing client rather than a routing-capable vault")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	params := config.DefaultParameters()
	if *paramsPath != "" {
		loaded, err := config.LoadParameters(*paramsPath)
		if err != nil {
			logrus.WithError(err).Fatal("routingnode: failed to load parameters")
		}
		params = loaded
	}

	self, pub, err := loadOrGenerateIdentity()
	if err != nil {
		logrus.WithError(err).Fatal("routingnode: failed to establish identity")
	}
	selfInfo := routing.NewNodeInfo(self, pub)

	tr := transport.NewInMemory(demoNetwork, self)
	codec, err := wire.NewCodec(config.CompressionSnappy)
	if err != nil {
		logrus.WithError(err).Fatal("routingnode: failed to construct wire codec")
	}

	node := routing.NewNode(selfInfo, params, identity.NewEd25519Validator(), tr, codec, *clientMode)
	node.Handler.SetApplicationHandler(func(data []byte, groupClaim id.Id, cacheable bool, reply routing.ReplyFunc) {
		logrus.WithFields(logrus.Fields{
			"bytes":       len(data),
			"group_claim": groupClaim.Short(),
			"cacheable":   cacheable,
		}).Info("routingnode: delivered application message")
	})

	endpoints, err := readBootstrapEndpoints(*bootstrapPath)
	if err != nil {
		logrus.WithError(err).Fatal("routingnode: failed to read bootstrap endpoints")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(endpoints) > 0 {
		via, err := node.Bootstrap(ctx, endpoints, *clientMode)
		if err != nil {
			logrus.WithError(err).Fatal("routingnode: bootstrap failed")
		}
		logrus.WithFields(logrus.Fields{"self": self.Short(), "via": via.Short()}).Info("routingnode: joined network")
	} else {
		node.Bootstrap(ctx, nil, *clientMode)
		logrus.WithField("self", self.Short()).Info("routingnode: started as first network contact")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("routingnode: shutting down")
	node.Stop()
}

// loadOrGenerateIdentity always generates a fresh ed25519 keypair; a real
// deployment would persist and reload this from disk (per SaveParameters'
// JSON convention), but key persistence is outside this routing core's
// scope.
func loadOrGenerateIdentity() (id.Id, []byte, error) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return id.Id{}, nil, fmt.Errorf("routingnode: generate identity keypair: %w", err)
	}
	return id.FromBytes(pub), pub, nil
}

func readBootstrapEndpoints(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routingnode: open bootstrap file: %w", err)
	}
	defer f.Close()

	var endpoints []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		endpoints = append(endpoints, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("routingnode: read bootstrap file: %w", err)
	}
	return endpoints, nil
}
