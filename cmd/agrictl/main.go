package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/config"
	"agrichain/rpc"
)

const (
	tokenCommand  = "token"
	initCommand   = "init"
	callCommand   = "call"
	defaultConfig = "./config.toml"
	defaultRPCURL = "http://127.0.0.1:8645"
	tokenEnv      = "AGRICHAIN_RPC_TOKEN"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case initCommand:
		err = runInit(os.Args[2:], os.Stdout)
	case callCommand:
		err = runCall(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: agrictl <command> [flags]

Commands:
  %-6s  issue a bearer token for an address
  %-6s  write a default configuration file
  %-6s  send a JSON-RPC request to a node
`, tokenCommand, initCommand, callCommand)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	address := fs.String("address", "", "Address the token authenticates as")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(args)

	if !common.IsHexAddress(strings.TrimSpace(*address)) {
		return fmt.Errorf("invalid address %q", *address)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if strings.TrimSpace(cfg.RPC.JWTSecret) == "" {
		return fmt.Errorf("no JWT secret configured; set %s or RPC.JWTSecret", cfg.RPC.JWTSecretEnv)
	}
	token, err := rpc.IssueToken(cfg.RPC.JWTSecret, cfg.RPC.JWTIssuer, common.HexToAddress(*address), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(initCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path of the config file to create")
	owner := fs.String("owner", "", "Address owning every module")
	dataDir := fs.String("datadir", "", "Data directory override")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*configPath); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", *configPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	cfg := config.Default()
	cfg.Node.Owner = strings.TrimSpace(*owner)
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(*configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *configPath)
	return nil
}

func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(callCommand, flag.ExitOnError)
	endpoint := fs.String("rpc", defaultRPCURL, "Node JSON-RPC endpoint")
	token := fs.String("token", os.Getenv(tokenEnv), "Bearer token (defaults to $"+tokenEnv+")")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		return errors.New("usage: agrictl call [flags] <method> [params-json]")
	}
	req := rpc.RPCRequest{JSONRPC: "2.0", Method: rest[0], ID: 1}
	if len(rest) == 2 {
		if !json.Valid([]byte(rest[1])) {
			return fmt.Errorf("params must be a JSON object")
		}
		req.Params = []json.RawMessage{json.RawMessage(rest[1])}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, *endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t := strings.TrimSpace(*token); t != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t)
	}
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, decoded.Result, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}
