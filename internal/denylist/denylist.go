// Package denylist fetches the hosted forbidden-term list used to
// filter note content on the public tabs.
package denylist

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/ops"
)

// document is the wire shape of the hosted list.
type document struct {
	XMLName xml.Name `xml:"nglist"`
	Terms   []string `xml:"term"`
}

// Fetch downloads and parses the forbidden-term list. Terms come back
// lowercased and trimmed, ready for substring matching. A missing or
// unreachable list is an error; the caller decides whether to run
// unfiltered.
func Fetch(ctx context.Context, cfg *config.Denylist, logger *ops.Logger) ([]string, error) {
	if logger == nil {
		logger = ops.Default()
	}
	log := logger.WithComponent("denylist")

	if cfg.URL == "" {
		log.Debug("no denylist url configured")
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build denylist request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch denylist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch denylist: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}

	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse denylist: %w", err)
	}

	terms := make([]string, 0, len(doc.Terms))
	for _, term := range doc.Terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			terms = append(terms, term)
		}
	}

	log.Info("denylist loaded", "terms", len(terms))
	return terms, nil
}
