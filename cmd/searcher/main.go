// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/poiesic/medfuse"
	"github.com/poiesic/medfuse/config"
	"github.com/poiesic/medfuse/search"
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	slog.SetDefault(slog.New(handler))
}

var (
	configPath = flag.String("config", "", "Path to a TOML config file")
	topK       = flag.Int("k", 5, "Number of results")
	patient    = flag.String("patient", "", "Patient filter")
)

// traceMonitor prints every stage of a query.
type traceMonitor struct {
	w io.Writer
}

var _ search.Monitor = (*traceMonitor)(nil)

func (m *traceMonitor) Start(q *search.Query) {
	fmt.Fprintf(m.w, "query: %q top_k=%d patient=%q type=%q\n", q.Text, q.TopK, q.PatientID, q.DocumentType)
}

func (m *traceMonitor) AfterExpansion(terms []string) {
	if len(terms) > 0 {
		fmt.Fprintf(m.w, "expansion: %s\n", strings.Join(terms, ", "))
	}
}

func (m *traceMonitor) AfterModality(modality search.Modality, ranking search.Ranking, err error) {
	if err != nil {
		fmt.Fprintf(m.w, "%s: FAILED %v\n", modality, err)
		return
	}
	fmt.Fprintf(m.w, "%s: %d candidates\n", modality, len(ranking.Items))
	for i, r := range ranking.Items {
		if i == 5 {
			fmt.Fprintf(m.w, "  ... %d more\n", len(ranking.Items)-i)
			break
		}
		fmt.Fprintf(m.w, "  %d. %s (%.4f)\n", i+1, r.ItemID, r.Raw)
	}
}

func (m *traceMonitor) AfterFusion(results []*search.Result) {
	fmt.Fprintf(m.w, "fused: %d items\n", len(results))
}

func (m *traceMonitor) AfterFilter(results []*search.Result) {
	fmt.Fprintf(m.w, "after filters: %d items\n", len(results))
}

func (m *traceMonitor) Finish(resp *search.Response) {
	fmt.Fprintf(m.w, "degraded=%t contributing=%v\n\n", resp.Degraded, resp.Contributing)
}

func main() {
	_ = godotenv.Load()
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		panic(err)
	}

	ctx := context.Background()
	sys, err := medfuse.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer sys.Close()

	text := "chest pain"
	if flag.NArg() > 0 {
		text = strings.Join(flag.Args(), " ")
	}

	resp, err := sys.QueryWithMonitor(ctx, &search.Query{Text: text, TopK: *topK, PatientID: *patient}, &traceMonitor{w: os.Stdout})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Found %d hits\n", len(resp.Results))
	for i, hit := range resp.Results {
		fmt.Printf("%d: %s [%0.4f]\n", i, hit.ItemID, hit.Score)
		for _, h := range hit.Highlights {
			fmt.Printf("   %s\n", h)
		}
	}
}
