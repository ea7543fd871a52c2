package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// confirmDelete asks for interactive confirmation before a destructive
// delete, but only when stdin is actually a terminal (never when piped or
// run from a script).
func confirmDelete(target string) bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return true
	}
	fmt.Fprintf(os.Stderr, "delete %s? [y/N] ", target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func doRequest(logger *slog.Logger, method, url, token string, body io.Reader) error {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("acmectl: build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("acmectl: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("acmectl: read response: %w", err)
	}

	logger.Info("response", "status", resp.StatusCode, "request_id", resp.Header.Get("X-Request-Id"))
	if len(respBody) > 0 {
		os.Stdout.Write(respBody)
		os.Stdout.Write([]byte("\n"))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("acmectl: server returned %d", resp.StatusCode)
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	baseURLFlag := flag.String("base-url", "http://127.0.0.1:8443", "base URL of the acmed Control Surface")
	tokenFlag := flag.String("token", os.Getenv("ACME_CONTROL_TOKEN"), "bearer token, defaults to $ACME_CONTROL_TOKEN")
	fileFlag := flag.String("file", "", "path to a file to PUT as the request body")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <status|update|put <target>|delete <target>>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "targets: account-key, cert, cert-key, cert-authorities\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "status":
		err = doRequest(logger, http.MethodGet, *baseURLFlag+"/acme/status", *tokenFlag, nil)
	case "update":
		err = doRequest(logger, http.MethodPost, *baseURLFlag+"/acme/update", *tokenFlag, nil)
	case "put":
		if len(args) != 2 || *fileFlag == "" {
			fmt.Fprintln(os.Stderr, "acmectl: put requires a target and -file")
			os.Exit(1)
		}
		data, readErr := os.ReadFile(*fileFlag)
		if readErr != nil {
			logger.Error("failed to read input file", "path", *fileFlag, "error", readErr)
			os.Exit(1)
		}
		err = doRequest(logger, http.MethodPut, *baseURLFlag+"/acme/"+args[1], *tokenFlag, bytes.NewReader(data))
	case "delete":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "acmectl: delete requires a target")
			os.Exit(1)
		}
		if !confirmDelete(args[1]) {
			fmt.Fprintln(os.Stderr, "acmectl: aborted")
			os.Exit(1)
		}
		err = doRequest(logger, http.MethodDelete, *baseURLFlag+"/acme/"+args[1], *tokenFlag, nil)
	default:
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
