// README: Bench cases against a running API: request lifecycle, race outcomes, ledger tables and throughput.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	// run keeps ids from different bench runs apart.
	run string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) operatorID(n int) string {
	return fmt.Sprintf("bench_%s_%d", r.run, n)
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: ledger Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "ledger db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: ledger tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "ledger db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
			},
		},
		{
			Name: "Operators: register bench operators",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				// One extra operator stays out of the accept race for the lifecycle case.
				for i := 0; i <= r.cfg.Concurrency; i++ {
					res := r.expect(ctx, http.MethodPost, "/api/operators",
						map[string]any{"id": r.operatorID(i), "name": "Bench operator"}, http.StatusCreated, nil)
					if res.Status != StatusPass {
						return res
					}
				}
				return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("operators=%d", r.cfg.Concurrency+1)}
			},
		},
		{
			Name: "Requests: missing fields -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/requests", map[string]any{}, http.StatusBadRequest, nil)
			},
		},
		{
			Name: "Requests: unknown block -> 422",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/requests", map[string]any{
					"user_id":       "bench_user",
					"pickup_block":  r.cfg.PickupBlock,
					"dropoff_block": "nowhere",
				}, http.StatusUnprocessableEntity, nil)
			},
		},
		{
			Name: "Concurrency: many operators accept the same request",
			Run:  concurrentAccept,
		},
		{
			Name: "Rides: pickup and drop-off at the block",
			Run:  rideLifecycle,
		},
		{
			Name: "Perf: request creation throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, r.cfg.BaseURL+"/api/requests", map[string]any{
					"user_id":       "bench_user",
					"pickup_block":  r.cfg.PickupBlock,
					"dropoff_block": r.cfg.DropoffBlock,
					"fare":          20,
				})
			},
		},
	}
}

// expect sends one request and checks the status code. When out is non-nil
// the response body is decoded into it.
func (r *Runner) expect(ctx context.Context, method, path string, body any, want int, out any) Result {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	latency := time.Since(start)

	if resp.StatusCode != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
}

func (r *Runner) createRequest(ctx context.Context) (string, Result) {
	var created struct {
		ID string `json:"id"`
	}
	res := r.expect(ctx, http.MethodPost, "/api/requests", map[string]any{
		"user_id":       "bench_user",
		"pickup_block":  r.cfg.PickupBlock,
		"dropoff_block": r.cfg.DropoffBlock,
		"fare":          20,
	}, http.StatusCreated, &created)
	return created.ID, res
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	id, res := r.createRequest(ctx)
	if res.Status != StatusPass {
		return res
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		others    []int
	)
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := json.Marshal(map[string]any{"operator_id": r.operatorID(i)})
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/api/requests/"+id+"/accept", bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case resp.StatusCode == http.StatusOK:
				succ++
			case resp.StatusCode == http.StatusConflict:
				conflicts++
			default:
				others = append(others, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflicts=%d other=%v", succ, conflicts, others)
	if succ == 1 && len(others) == 0 {
		return Result{Status: StatusPass, Latency: time.Since(start), Note: note}
	}
	return Result{Status: StatusFail, Latency: time.Since(start), Note: note}
}

// rideLifecycle drives one ride end to end with the operator registered
// outside the accept race.
func rideLifecycle(ctx context.Context, r *Runner) Result {
	id, res := r.createRequest(ctx)
	if res.Status != StatusPass {
		return res
	}
	op := r.operatorID(r.cfg.Concurrency)
	var active struct {
		ID string `json:"id"`
	}
	if res := r.expect(ctx, http.MethodPost, "/api/requests/"+id+"/accept", map[string]any{"operator_id": op}, http.StatusOK, &active); res.Status != StatusPass {
		return res
	}
	if res := r.expect(ctx, http.MethodPost, "/api/rides/"+active.ID+"/pickup", map[string]any{"permission_denied": true}, http.StatusOK, nil); res.Status != StatusPass {
		return res
	}
	// Without a position the drop-off must wait for an admin.
	start := time.Now()
	if res := r.expect(ctx, http.MethodPost, "/api/rides/"+active.ID+"/dropoff", map[string]any{"permission_denied": true}, http.StatusAccepted, nil); res.Status != StatusPass {
		return res
	}
	var done struct {
		Completed struct {
			PointsEarned int `json:"points_earned"`
		} `json:"completed"`
	}
	if res := r.expect(ctx, http.MethodPost, "/api/admin/rides/"+active.ID+"/resolve", map[string]any{"distance_m": 20}, http.StatusOK, &done); res.Status != StatusPass {
		return res
	}
	if done.Completed.PointsEarned != 8 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("points=%d, want 8", done.Completed.PointsEarned)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: "ride " + active.ID}
}

func perfLoad(ctx context.Context, r *Runner, url string, payload any) Result {
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var count int64
	var errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
