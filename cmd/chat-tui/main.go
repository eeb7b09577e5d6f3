package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/CUknot/project_chat/client"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "chat server base URL")
	entityType := flag.String("type", "project", "entity type of the room (project or task)")
	entityID := flag.String("id", "", "entity id of the room")
	userID := flag.String("user", "", "user id to send as")
	userName := flag.String("name", "", "display name")
	token := flag.String("token", "", "JWT issued by the server, instead of -user/-name")
	cacheDir := flag.String("cache-dir", defaultCacheDir(), "directory for the offline message cache")
	logFile := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	if *entityID == "" || (*userID == "" && *token == "") {
		flag.Usage()
		os.Exit(2)
	}

	opts := client.DefaultOptions()
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		opts.Logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	wsURL, err := socketURL(*server, *userID, *userName, *token)
	if err != nil {
		log.Fatal(err)
	}

	var header http.Header
	if *token != "" {
		header = http.Header{"Authorization": {"Bearer " + *token}}
	}

	var cache client.Cache = client.NewMemoryCache()
	if *cacheDir != "" {
		fc, err := client.NewFileCache(*cacheDir)
		if err != nil {
			opts.Logger.Warn("Falling back to memory cache", slog.Any("error", err))
		} else {
			cache = fc
		}
	}

	cfg := client.SessionConfig{
		EntityType: *entityType,
		EntityID:   *entityID,
		UserID:     *userID,
		UserName:   *userName,
		BaseURL:    *server,
		Token:      *token,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := client.NewSocketTransport(wsURL, header, opts)
	session := client.NewSession(cfg, transport, cache, opts)
	go func() {
		if err := transport.Run(ctx); err != nil {
			opts.Logger.Error("Transport stopped", slog.Any("error", err))
		}
	}()

	if err := session.Open(ctx); err != nil {
		log.Fatal(err)
	}

	p := tea.NewProgram(newModel(session, cfg.Room()))
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
	session.Close()
}

func socketURL(server, userID, userName, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	} else {
		q.Set("user_id", userID)
		q.Set("user_name", userName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "project-chat")
}
