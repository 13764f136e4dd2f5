package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/debug/v1/observer/bootstrap"
	doRequest(http.MethodGet, u, 5*time.Second)
}

func tilesCmd(args []string) {
	fs := flag.NewFlagSet("tiles", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	area := fs.String("area", "", "query area: x0,y0:x1,y1 (required)")
	grid := fs.Bool("grid", false, "include walkability rows")
	maxLayers := fs.Int("max_layers", 0, "layer limit (optional)")
	_ = fs.Parse(args)

	q, err := tilesQuery(*area, *grid, *maxLayers)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/debug/v1/observer/tiles?" + q.Encode()
	doRequest(http.MethodGet, u, 5*time.Second)
}

func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/debug/v1/reset"
	doRequest(http.MethodPost, u, 10*time.Second)
}

// tilesQuery parses "x0,y0:x1,y1" into tile endpoint query parameters.
func tilesQuery(area string, grid bool, maxLayers int) (url.Values, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(area), ":")
	if !ok {
		return nil, fmt.Errorf("bad -area %q: want x0,y0:x1,y1", area)
	}
	var vals [4]float64
	for i, part := range []string{lo, hi} {
		xs, ys, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("bad -area %q: want x0,y0:x1,y1", area)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("bad -area x: %w", err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("bad -area y: %w", err)
		}
		vals[2*i], vals[2*i+1] = x, y
	}
	if vals[0] > vals[2] {
		vals[0], vals[2] = vals[2], vals[0]
	}
	if vals[1] > vals[3] {
		vals[1], vals[3] = vals[3], vals[1]
	}
	q := url.Values{}
	for i, k := range []string{"x0", "y0", "x1", "y1"} {
		q.Set(k, strconv.FormatFloat(vals[i], 'f', -1, 64))
	}
	if grid {
		q.Set("grid", "1")
	}
	if maxLayers > 0 {
		q.Set("max_layers", strconv.Itoa(maxLayers))
	}
	return q, nil
}

func doRequest(method, u string, timeout time.Duration) {
	req, _ := http.NewRequest(method, u, nil)
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
