// Command depscheck fails when the trial engine packages import transport,
// storage or registry packages. The engine talks to those layers only
// through the trial.Gateway and logging.Publisher contracts.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const module = "github.com/ssukumar/GlobalInvigoration"

var enginePackages = []string{
	"./internal/records/...",
	"./internal/schedule/...",
	"./internal/tracking/...",
	"./internal/trial/...",
}

var forbidden = []string{
	module + "/internal/net",
	module + "/internal/hub",
	module + "/internal/store",
	module + "/internal/persist",
	module + "/internal/app",
	"github.com/gorilla/websocket",
	"database/sql",
	"net/http",
}

type packageInfo struct {
	ImportPath string
	Imports    []string
}

func main() {
	args := append([]string{"list", "-json"}, enginePackages...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	violations, err := findViolations(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

// findViolations decodes a `go list -json` stream and returns the sorted
// forbidden edges.
func findViolations(r io.Reader) ([]string, error) {
	decoder := json.NewDecoder(r)
	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode package info: %w", err)
		}
		for _, imp := range pkg.Imports {
			if isForbidden(imp) {
				violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}
	sort.Strings(violations)
	return violations, nil
}

func isForbidden(imp string) bool {
	for _, prefix := range forbidden {
		if imp == prefix || strings.HasPrefix(imp, prefix+"/") {
			return true
		}
	}
	return false
}
