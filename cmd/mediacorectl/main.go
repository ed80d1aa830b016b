// Command mediacorectl is the operator CLI for a running mediacore server:
// token management against its auth store, and ad-hoc manifest submission
// over the HTTP/JSON transport for smoke-testing a pipeline without writing
// a client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mediacore/pipelinecore/internal/auth"
	"github.com/mediacore/pipelinecore/internal/config"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/transport/httpjson"
)

var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "token":
		cmdToken(os.Args[2:])
	case "execute":
		cmdExecute(os.Args[2:])
	case "stream":
		cmdStream(os.Args[2:])
	case "-version", "--version":
		fmt.Printf("mediacorectl %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mediacorectl - operator CLI for the mediacore pipeline server

Usage:
  mediacorectl token <create|list|revoke|info> [options]
  mediacorectl execute --url <base> --manifest <file> [--text <input>]
  mediacorectl stream --url <base> --manifest <file>

Run "mediacorectl token help" for scope formats.`)
}

// --- token management -------------------------------------------------

func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	dataDir := tokenDataDir()
	store, err := auth.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening auth store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "create":
		tokenCreate(store, cmdArgs)
	case "list":
		tokenList(store)
	case "revoke":
		tokenRevoke(store, cmdArgs)
	case "info":
		tokenInfo(store, cmdArgs)
	case "help", "-h", "--help":
		printTokenUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown token command: %s\n", cmd)
		printTokenUsage()
		os.Exit(1)
	}
}

// tokenDataDir mirrors the server's own resolution of auth.data_dir so the
// CLI opens the same SQLite file the running server uses.
func tokenDataDir() string {
	configPath, err := config.FindConfigPath("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error locating mediacore.jsonc: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadUnifiedConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	home := filepath.Dir(filepath.Dir(configPath))
	if filepath.IsAbs(cfg.Auth.DataDir) {
		return cfg.Auth.DataDir
	}
	return filepath.Join(home, cfg.Auth.DataDir)
}

func printTokenUsage() {
	fmt.Println(`Token Management

Usage: mediacorectl token <command> [options]

Commands:
  create    Create a new API token
  list      List all tokens
  revoke    Revoke a token
  info      Get token details
  help      Show this help

Scope Formats:
  admin               Full access to every manifest
  admin:ro            Read-only access to every manifest
  manifest:<name>     Full access to one manifest
  manifest:<name>:ro  Read-only access to one manifest

Examples:
  mediacorectl token create --name "Local Dev" --scope admin
  mediacorectl token create --name "Demo Pipeline" --scope manifest:demo-pipeline
  mediacorectl token list
  mediacorectl token revoke mc_xxxx...
  mediacorectl token info mc_xxxx...`)
}

func tokenCreate(store *auth.Store, args []string) {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	name := fs.String("name", "", "Human-readable token name (required)")
	scope := fs.String("scope", "", "Token scope: admin, admin:ro, manifest:<name>, or manifest:<name>:ro (required)")
	_ = fs.Parse(args)

	if *name == "" || *scope == "" {
		fmt.Fprintln(os.Stderr, "error: --name and --scope are required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	if !isValidTokenScope(*scope) {
		fmt.Fprintf(os.Stderr, "error: invalid scope %q\n", *scope)
		fmt.Fprintln(os.Stderr, "valid scopes: admin, admin:ro, manifest:<name>, manifest:<name>:ro")
		os.Exit(1)
	}

	token, tokenID, err := store.CreateToken(*name, *scope, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token created successfully!")
	fmt.Println()
	fmt.Printf("Token ID: %s\n", tokenID)
	fmt.Printf("Name:     %s\n", token.Name)
	fmt.Printf("Scope:    %s\n", token.Scope)
	fmt.Println()
	fmt.Println("IMPORTANT: save this token now. It cannot be retrieved later.")
}

func tokenList(store *auth.Store) {
	tokens, err := store.ListTokens()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing tokens: %v\n", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens found.")
		fmt.Println()
		fmt.Println(`Create one with: mediacorectl token create --name "My Token" --scope admin`)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCOPE\tCREATED\tLAST USED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t---------")
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			maskTokenID(t.ID), t.Name, t.Scope, t.CreatedAt.Format("2006-01-02 15:04"), lastUsed)
	}
	_ = w.Flush()
}

func tokenRevoke(store *auth.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "error: token ID required")
		fmt.Fprintln(os.Stderr, "usage: mediacorectl token revoke <token_id>")
		os.Exit(1)
	}
	if err := store.RevokeToken(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error revoking token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token %s revoked successfully.\n", maskTokenID(args[0]))
}

func tokenInfo(store *auth.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "error: token ID required")
		fmt.Fprintln(os.Stderr, "usage: mediacorectl token info <token_id>")
		os.Exit(1)
	}
	token, err := store.GetToken(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token ID:  %s\n", maskTokenID(token.ID))
	fmt.Printf("Name:      %s\n", token.Name)
	fmt.Printf("Scope:     %s\n", token.Scope)
	fmt.Printf("Created:   %s\n", token.CreatedAt.Format("2006-01-02 15:04:05"))
	if token.LastUsedAt != nil {
		fmt.Printf("Last Used: %s\n", token.LastUsedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Last Used: never\n")
	}
	if token.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", token.ExpiresAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Expires:   never\n")
	}
}

func isValidTokenScope(scope string) bool {
	if scope == auth.ScopeAdmin || scope == auth.ScopeAdminRO {
		return true
	}
	if strings.HasPrefix(scope, "manifest:") {
		rest := scope[len("manifest:"):]
		if rest == "" {
			return false
		}
		if strings.HasSuffix(rest, ":ro") {
			return len(rest) > len(":ro")
		}
		return true
	}
	return false
}

func maskTokenID(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}

// --- manifest submission ------------------------------------------------

func cmdExecute(args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Server base URL")
	manifestPath := fs.String("manifest", "", "Path to a manifest JSON file (required)")
	text := fs.String("text", "", "Text payload to send as the single input envelope")
	token := fs.String("token", "", "Bearer token for the Authorization header")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	_ = fs.Parse(args)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "error: --manifest is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading manifest: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(struct {
		Manifest json.RawMessage `json:"manifest"`
		Input    media.Envelope  `json:"input"`
	}{
		Manifest: raw,
		Input:    media.Envelope{Payload: media.Buffer{Kind: media.KindText, Text: *text}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encoding request: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error calling server: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "server returned %s: %s\n", resp.Status, respBody)
		os.Exit(1)
	}
	fmt.Println(string(respBody))
}

func cmdStream(args []string) {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Server base URL")
	manifestPath := fs.String("manifest", "", "Path to a manifest JSON file (required)")
	_ = fs.Parse(args)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "error: --manifest is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading manifest: %v\n", err)
		os.Exit(1)
	}
	m, err := manifest.Parse(raw, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing manifest: %v\n", err)
		os.Exit(1)
	}

	stream, err := httpjson.DialStream(context.Background(), *baseURL, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening stream: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = stream.Close() }()

	enc := json.NewEncoder(os.Stdout)
	for {
		env, err := stream.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
			os.Exit(1)
		}
		if env == nil {
			return
		}
		_ = enc.Encode(env)
	}
}
