// Package main implements hashmeshctl, a thin client for a running
// hashmeshd's control API: name resolution and publishing.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/hashmesh/hashmesh/pkg/control"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

const controlAddr = "127.0.0.1:27777"

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
	case "resolve":
		err = resolveCommand()
	case "publish":
		err = publishCommand()
	case "list":
		err = listCommand()
	case "peers":
		err = peersCommand()
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
	fmt.Printf("hashmeshctl %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`hashmeshctl v%s - control client for a running hashmeshd

Usage:
  hashmeshctl <command> [options]

Commands:
  resolve <identity> <label>         Resolve a name to its current CID
  publish <label> <cid>              Publish a CID under a label (owner identity)
  list <identity>                    List every label known for an identity
  peers                              List the node's currently admitted peers
  version                            Show version information
  help                               Show this help message

Examples:
  hashmeshctl publish profile hm:n5rhw5s5gn5zdwnl66tvhfli3xzn3r5ocqqs65vvp75zk2vr7wmq
  hashmeshctl resolve <identity> profile
  hashmeshctl list <identity>

For more information, visit: https://github.com/hashmesh/hashmesh

`, version)
}

func call(request control.Request) (control.Response, error) {
	conn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		return control.Response{}, fmt.Errorf("failed to connect to node (is hashmeshd running?): %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return control.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	var response control.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return control.Response{}, fmt.Errorf("failed to read response: %w", err)
	}
	if response.Error != "" {
		return control.Response{}, fmt.Errorf("%s", response.Error)
	}
	return response, nil
}

func resolveCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: hashmeshctl resolve <identity> <label>")
	}
	resp, err := call(control.Request{
		Method: "resolve",
		ID:     "resolve",
		Params: map[string]interface{}{
			"identity": os.Args[2],
			"label":    os.Args[3],
		},
	})
	if err != nil {
		return err
	}

	result := resp.Result.(map[string]interface{})
	if found, _ := result["found"].(bool); !found {
		fmt.Println("No value found")
		return nil
	}
	fmt.Printf("CID: %v\n", result["cid"])
	return nil
}

func publishCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: hashmeshctl publish <label> <cid>")
	}
	resp, err := call(control.Request{
		Method: "publish",
		ID:     "publish",
		Params: map[string]interface{}{
			"label": os.Args[2],
			"cid":   os.Args[3],
		},
	})
	if err != nil {
		return err
	}

	result := resp.Result.(map[string]interface{})
	if accepted, _ := result["accepted"].(bool); !accepted {
		fmt.Println("Publish rejected (stale version)")
		return nil
	}
	fmt.Println("Published")
	return nil
}

func listCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: hashmeshctl list <identity>")
	}
	resp, err := call(control.Request{
		Method: "list",
		ID:     "list",
		Params: map[string]interface{}{
			"identity": os.Args[2],
		},
	})
	if err != nil {
		return err
	}

	result := resp.Result.(map[string]interface{})
	entries, _ := result["entries"].([]interface{})
	if len(entries) == 0 {
		fmt.Println("No entries found")
		return nil
	}
	for _, e := range entries {
		entry := e.(map[string]interface{})
		fmt.Printf("%v -> %v (%v)\n", entry["label"], entry["cid"], entry["visibility"])
	}
	return nil
}

func peersCommand() error {
	resp, err := call(control.Request{Method: "peers", ID: "peers"})
	if err != nil {
		return err
	}

	result := resp.Result.(map[string]interface{})
	peers, _ := result["peers"].([]interface{})
	if len(peers) == 0 {
		fmt.Println("No peers admitted")
		return nil
	}
	for _, p := range peers {
		peer := p.(map[string]interface{})
		fmt.Printf("%v  pool=%v  state=%v\n", peer["id"], peer["pool"], peer["state"])
	}
	return nil
}
