// SPDX-License-Identifier: MIT

// Package costtable loads courier rate sheets and answers route lookups for
// the cost-table quote provider.
package costtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/silasqian/quoteflow/internal/region"
)

// Row is one rate entry: first-kilo cost plus per-extra-kilo cost for a
// courier on an origin→destination route.
type Row struct {
	Courier     string
	Origin      string
	Destination string
	FirstCost   float64 // price for the first kilo
	ExtraCost   float64 // price per additional kilo
	ThrowRatio  float64 // volumetric divisor, 0 when the sheet has none
	SourceFile  string
}

var courierAliases = map[string]string{
	"圆通快递": "圆通",
	"韵达快递": "韵达",
	"中通快递": "中通",
	"申通快递": "申通",
	"菜鸟":   "菜鸟裹裹",
	"极兔速递": "极兔",
	"德邦快递": "德邦",
	"顺丰速运": "顺丰",
	"京东物流": "京东",
	"中国邮政": "邮政",
	"ems":  "邮政",
}

// NormalizeCourier maps courier spellings to their canonical short name.
func NormalizeCourier(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	if canonical, ok := courierAliases[text]; ok {
		return canonical
	}
	return strings.TrimSpace(raw)
}

// ErrNoRate is returned when no sheet row matches a route.
var ErrNoRate = errors.New("no matching rate entry")

// Repository holds the parsed rate rows and serves lookups. Reload swaps the
// row set atomically, so lookups never observe a partially loaded table.
type Repository struct {
	dir string

	mu   sync.RWMutex
	rows []Row
}

// NewRepository loads every *.csv under dir. A missing directory yields an
// empty repository, not an error; the provider then fails as unavailable.
func NewRepository(dir string) (*Repository, error) {
	r := &Repository{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every sheet under the repository directory.
func (r *Repository) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.rows = nil
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read cost table dir: %w", err)
	}

	var rows []Row
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		fileRows, err := parseFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		rows = append(rows, fileRows...)
	}

	r.mu.Lock()
	r.rows = rows
	r.mu.Unlock()
	return nil
}

// parseFile reads one CSV sheet. Expected columns:
// courier,origin,destination,first_cost,extra_cost[,throw_ratio]
// A header line is detected and skipped.
func parseFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows []Row
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 5 {
			continue
		}

		first, errFirst := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		extra, errExtra := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
		if errFirst != nil || errExtra != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: non-numeric cost", line)
		}

		row := Row{
			Courier:     NormalizeCourier(record[0]),
			Origin:      canonicalRegion(record[1]),
			Destination: canonicalRegion(record[2]),
			FirstCost:   first,
			ExtraCost:   extra,
			SourceFile:  filepath.Base(path),
		}
		if len(record) >= 6 {
			if ratio, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64); err == nil {
				row.ThrowRatio = ratio
			}
		}
		if row.Courier == "" || row.Origin == "" || row.Destination == "" {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func canonicalRegion(raw string) string {
	if canonical, ok := region.Normalize(raw); ok {
		return canonical
	}
	return strings.TrimSpace(raw)
}

// Find returns the cheapest matching row for a route. Courier may be empty
// ("any"); destination rows keyed by region match city-level inputs through
// normalization. Returns ErrNoRate when nothing matches.
func (r *Repository) Find(origin, destination, courier string) (Row, error) {
	wantOrigin := canonicalRegion(origin)
	wantDest := canonicalRegion(destination)
	wantCourier := NormalizeCourier(courier)
	if strings.EqualFold(wantCourier, "any") || strings.EqualFold(wantCourier, "auto") {
		wantCourier = ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Row
	for i := range r.rows {
		row := &r.rows[i]
		if row.Origin != wantOrigin || row.Destination != wantDest {
			continue
		}
		if wantCourier != "" && row.Courier != wantCourier {
			continue
		}
		if best == nil || row.FirstCost < best.FirstCost {
			best = row
		}
	}
	if best == nil {
		return Row{}, ErrNoRate
	}
	return *best, nil
}

// Len reports how many rate rows are loaded.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
