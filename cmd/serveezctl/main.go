// Command serveezctl is a read-only CLI client of the admin HTTP
// surface a running serveezd exposes: it fetches and pretty-prints the
// JSON endpoints.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

func main() {
	var (
		addr    = flag.String("addr", "http://127.0.0.1:8283", "serveezd admin API base URL")
		apiKey  = flag.String("api-key", "", "API key, if the server requires one")
		timeout = flag.Duration("timeout", 5*time.Second, "request timeout")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: serveezctl [flags] <health|stats|ports|servers|interfaces>")
		os.Exit(2)
	}

	path, ok := endpointFor(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "serveezctl: unknown command %q\n", args[0])
		os.Exit(2)
	}

	body, status, err := fetch(*addr+path, *apiKey, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serveezctl: %v\n", err)
		os.Exit(1)
	}
	if status != http.StatusOK {
		fmt.Fprintf(os.Stderr, "serveezctl: server returned %d: %s\n", status, body)
		os.Exit(1)
	}

	pretty, err := prettyJSON(body)
	if err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty)
}

func endpointFor(cmd string) (string, bool) {
	switch cmd {
	case "health":
		return "/health", true
	case "stats":
		return "/api/v1/stats", true
	case "ports":
		return "/api/v1/ports", true
	case "servers":
		return "/api/v1/servers", true
	case "interfaces":
		return "/api/v1/interfaces", true
	default:
		return "", false
	}
}

func fetch(url, apiKey string, timeout time.Duration) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func prettyJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
