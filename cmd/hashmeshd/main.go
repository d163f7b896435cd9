// Package main implements hashmeshd, the long-running node daemon: it
// loads or creates a local identity, brings up the block store, tree
// engine, and exchange coordinator, and exposes them over the local
// control API.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashmesh/hashmesh/pkg/constants"
	"github.com/hashmesh/hashmesh/pkg/control"
	"github.com/hashmesh/hashmesh/pkg/identity"
	"github.com/hashmesh/hashmesh/pkg/node"
	"github.com/hashmesh/hashmesh/pkg/transport/quic"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		err = startCommand()
	case "status":
		err = statusCommand()
	case "keygen":
		err = keygenCommand()
	case "put":
		err = putCommand()
	case "get":
		err = getCommand()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("hashmeshd %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`hashmeshd v%s - hashmesh node daemon

Usage:
  hashmeshd <command> [options]

Commands:
  start [listen-addr]  Start the node daemon, its peer-session transport,
                       and its control API (default listen-addr 0.0.0.0:%d)
  status    Show the running daemon's status
  keygen    Generate and save new identity keys
  put       Store a file in the local block store and print its CID
  get       Retrieve content by CID and reconstruct the original file
  version   Show version information
  help      Show this help message

Examples:
  hashmeshd keygen
  hashmeshd start
  hashmeshd start 0.0.0.0:27487
  hashmeshd put document.pdf
  hashmeshd get hm:n5rhw5s5gn5zdwnl66tvhfli3xzn3r5ocqqs65vvp75zk2vr7wmq output.pdf

For more information, visit: https://github.com/hashmesh/hashmesh

`, version, constants.DefaultQUICPort)
}

func identityPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "hashmesh-identity.json"
	}
	return filepath.Join(homeDir, ".hashmesh", "identity.json")
}

func loadOrCreateIdentity() (*identity.Identity, error) {
	path := identityPath()

	if _, err := os.Stat(path); err == nil {
		return identity.LoadFromFile(path)
	}

	fmt.Println("No existing identity found, generating new identity...")
	id, err := identity.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := id.SaveToFile(path); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	fmt.Printf("New identity created and saved to %s\n", path)
	return id, nil
}

const controlAddr = "127.0.0.1:27777"

// defaultListenAddr is where the daemon accepts inbound peer sessions when
// the start command isn't given an explicit one.
func defaultListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", constants.DefaultQUICPort)
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for the
// peer-session QUIC transport. Peer identity is authenticated by the
// noiseik hello/verify exchange (pkg/node), not by this certificate's CA
// chain, so InsecureSkipVerify is set rather than distributing a shared
// root.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate TLS key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{Organization: []string{"hashmesh"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create self-signed certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		InsecureSkipVerify: true,
	}, nil
}

func startCommand() error {
	fmt.Println("Starting hashmesh node...")

	id, err := loadOrCreateIdentity()
	if err != nil {
		return err
	}

	tlsConfig, err := selfSignedTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare peer-session TLS config: %w", err)
	}

	listenAddr := defaultListenAddr()
	if len(os.Args) > 2 {
		listenAddr = os.Args[2]
	}

	cfg := node.DefaultConfig()
	cfg.Identity = id
	cfg.Transport = quic.New()
	cfg.ListenAddr = listenAddr
	cfg.TLSConfig = tlsConfig
	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to construct node: %w", err)
	}

	fmt.Printf("BID: %s\n", n.BID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := node.NewSupervisor(n)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer sup.Stop(context.Background())

	fmt.Printf("Peer sessions listening on %s (quic)\n", listenAddr)

	server := control.NewServer(n)
	listener, err := net.Listen("tcp", controlAddr)
	if err != nil {
		return fmt.Errorf("failed to create control listener: %w", err)
	}
	defer listener.Close()

	fmt.Printf("Control API listening on %s\n", listener.Addr().String())

	go func() {
		if err := server.Serve(ctx, listener); err != nil && ctx.Err() == nil {
			fmt.Printf("Control API error: %v\n", err)
		}
	}()

	fmt.Println("Node running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("Shutting down...")
	return nil
}

func statusCommand() error {
	conn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		fmt.Println("Node is not running")
		return nil
	}
	defer conn.Close()

	request := control.Request{Method: "GetInfo", ID: "status-check"}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return fmt.Errorf("failed to send status request: %w", err)
	}

	var response control.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("failed to read status response: %w", err)
	}
	if response.Error != "" {
		return fmt.Errorf("status error: %s", response.Error)
	}

	result, ok := response.Result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected response format")
	}

	fmt.Println("Node is running")
	fmt.Printf("BID: %v\n", result["bid"])
	fmt.Printf("State: %v\n", result["state"])
	return nil
}

func keygenCommand() error {
	fmt.Println("Generating new identity...")

	id, err := identity.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	path := identityPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Warning: Identity already exists at %s\n", path)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Identity generation cancelled")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := id.SaveToFile(path); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	fmt.Printf("New identity generated and saved to %s\n", path)
	fmt.Printf("BID: %s\n", id.BID())
	return nil
}
