package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashmesh/hashmesh/pkg/block"
	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/tree"
)

func blockStorePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "hashmesh-blocks.db"
	}
	return filepath.Join(homeDir, ".hashmesh", "blocks.db")
}

func openLocalTree() (*tree.HashTree, func() error, error) {
	path := blockStorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create block store directory: %w", err)
	}
	store, err := block.OpenBoltStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open block store: %w", err)
	}
	return tree.New(store, tree.DefaultConfig()), store.Close, nil
}

func putCommand() error {
	if len(os.Args) < 3 {
		fmt.Println("Usage: hashmeshd put <file>")
		fmt.Println("  Stores a file in the local block store and prints its CID")
		return nil
	}
	filePath := os.Args[2]

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	t, closeStore, err := openLocalTree()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	cid, size, err := t.PutFile(ctx, data, false)
	if err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}

	fmt.Printf("Stored %s (%d bytes)\n", filePath, size)
	fmt.Printf("CID: %s\n", cid.String())
	return nil
}

func getCommand() error {
	if len(os.Args) < 3 {
		fmt.Println("Usage: hashmeshd get <cid> [output-file]")
		fmt.Println("  Retrieves content by CID from the local block store")
		return nil
	}
	cidStr := os.Args[2]
	outputPath := "retrieved_content"
	if len(os.Args) > 3 {
		outputPath = os.Args[3]
	}

	d, err := digest.Parse(cidStr)
	if err != nil {
		return fmt.Errorf("invalid cid: %w", err)
	}
	cid := digest.FromDigest(d)

	t, closeStore, err := openLocalTree()
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := t.ReadFile(context.Background(), cid)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Retrieved %d bytes\n", len(data))
	fmt.Printf("Saved to %s\n", outputPath)
	return nil
}
