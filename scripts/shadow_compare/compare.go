package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/noah-isme/qbank-api/pkg/document"
)

// Body kinds decide how two responses are compared.
const (
	kindJSON   = "json"
	kindPDF    = "pdf"
	kindBinary = "binary"
)

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Critical bool   `json:"critical"`
}

type targetFile struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target         target
	LegacyStatus   int
	GoStatus       int
	StatusMatch    bool
	BodyMatch      bool
	Detail         string
	Error          error
	DurationGo     time.Duration
	DurationLegacy time.Duration
}

func (c comparison) diff() bool {
	return c.Error != nil || !c.StatusMatch || !c.BodyMatch
}

type comparer struct {
	client     *http.Client
	goBase     string
	legacyBase string
	token      string
}

type capture struct {
	status      int
	contentType string
	body        []byte
	took        time.Duration
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file targetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return file.Targets, nil
}

func (c *comparer) compare(tgt target) comparison {
	comp := comparison{Target: tgt}
	goResp, goErr := c.fetch(c.goBase, tgt)
	legacyResp, legacyErr := c.fetch(c.legacyBase, tgt)
	if goErr != nil {
		comp.Error = fmt.Errorf("go request failed: %w", goErr)
		return comp
	}
	if legacyErr != nil {
		comp.Error = fmt.Errorf("legacy request failed: %w", legacyErr)
		return comp
	}

	comp.DurationGo, comp.DurationLegacy = goResp.took, legacyResp.took
	comp.GoStatus, comp.LegacyStatus = goResp.status, legacyResp.status
	comp.StatusMatch = goResp.status == legacyResp.status
	if goResp.status >= http.StatusBadRequest || legacyResp.status >= http.StatusBadRequest {
		// Error payloads differ in shape between the two APIs; only status is meaningful.
		comp.BodyMatch = true
		return comp
	}

	switch tgt.Kind {
	case kindPDF:
		comp.BodyMatch, comp.Detail = samePageCount(goResp.body, legacyResp.body)
	case kindBinary:
		comp.BodyMatch = sha256.Sum256(goResp.body) == sha256.Sum256(legacyResp.body)
		if !comp.BodyMatch {
			comp.Detail = fmt.Sprintf("size go=%d legacy=%d", len(goResp.body), len(legacyResp.body))
		}
	default:
		comp.BodyMatch = jsonEqual(unwrapEnvelope(goResp.body), legacyResp.body)
	}
	return comp
}

func (c *comparer) fetch(base string, tgt target) (*capture, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil client")
	}
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &capture{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body, took: time.Since(start)}, nil
}

// samePageCount compares merged PDFs by page count since producer metadata differs per run.
func samePageCount(a, b []byte) (bool, string) {
	pa, err := document.PageCount(a)
	if err != nil {
		return false, "go body is not a PDF"
	}
	pb, err := document.PageCount(b)
	if err != nil {
		return false, "legacy body is not a PDF"
	}
	return pa == pb, fmt.Sprintf("pages go=%d legacy=%d", pa, pb)
}

// unwrapEnvelope returns the data member of a response envelope, or body unchanged.
func unwrapEnvelope(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Data) == 0 {
		return body
	}
	return env.Data
}

func jsonEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}
	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func tally(results []comparison) (breaking, optional int) {
	for _, res := range results {
		if !res.diff() {
			continue
		}
		if res.Target.Critical {
			breaking++
		} else {
			optional++
		}
	}
	return breaking, optional
}

func printReport(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "Shadow Compare Report")
	fmt.Fprintln(w, "======================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if res.diff() {
			status = "DIFF"
		}
		fmt.Fprintf(w, "[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Fprintf(w, "  Go Status: %d (%s)\n", res.GoStatus, res.DurationGo)
		fmt.Fprintf(w, "  Legacy Status: %d (%s)\n", res.LegacyStatus, res.DurationLegacy)
		if res.Error != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Error)
			continue
		}
		fmt.Fprintf(w, "  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		if res.Detail != "" {
			fmt.Fprintf(w, "  %s\n", res.Detail)
		}
	}
}
