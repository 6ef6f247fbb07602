package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/stebofarm/gateway/internal/registry"
	"github.com/stebofarm/gateway/internal/repository"
)

type output struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UniqueKey string    `json:"unique_key"`
	CreatedAt time.Time `json:"created_at"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		name        = flag.String("name", "", "Frontend name to register")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "-name is required")
		os.Exit(1)
	}
	if *format != "plain" && *format != "json" {
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(repo, nil, nil, logger)

	frontend, err := reg.Register(ctx, *name)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateName) {
			fmt.Fprintf(os.Stderr, "frontend %q is already registered; its existing key stays valid\n", *name)
		} else {
			fmt.Fprintln(os.Stderr, "register frontend:", err)
		}
		repo.Close()
		os.Exit(1)
	}

	out := output{
		ID:        frontend.ID,
		Name:      frontend.Name,
		UniqueKey: frontend.UniqueKey,
		CreatedAt: frontend.CreatedAt,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.UniqueKey)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
}
