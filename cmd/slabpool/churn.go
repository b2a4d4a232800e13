package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/slabpool"
	"github.com/hupe1980/slabpool/resource"
	"github.com/hupe1980/slabpool/testutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	churnWorkers     int
	churnParallel    int
	churnOps         int
	churnSeed        int64
	churnAllocRatio  float64
	churnMemoryLimit int64
)

type churnSlot struct {
	Owner int
	Seq   uint64
}

type churnResult struct {
	Workers   int            `json:"workers"`
	Ops       int            `json:"ops_per_worker"`
	Seed      int64          `json:"seed"`
	Allocated int64          `json:"allocated"`
	Released  int64          `json:"released"`
	Exhausted int64          `json:"exhausted"`
	Live      int            `json:"live"`
	Elapsed   string         `json:"elapsed"`
	Stats     slabpool.Stats `json:"stats"`
}

func init() {
	cmd := newChurnCmd()
	cmd.Flags().IntVar(&churnWorkers, "workers", 4, "Number of goroutines")
	cmd.Flags().IntVar(&churnParallel, "parallel", 0, "Workers allowed to run at once (0 = all)")
	cmd.Flags().IntVar(&churnOps, "ops", 100000, "Operations per worker")
	cmd.Flags().Int64Var(&churnSeed, "seed", 1, "Random seed")
	cmd.Flags().Float64Var(&churnAllocRatio, "alloc-ratio", 0.6, "Share of operations that allocate")
	cmd.Flags().Int64Var(&churnMemoryLimit, "memory-limit", 0, "Memory budget in bytes for the pool (0 = unlimited)")
	rootCmd.AddCommand(cmd)
}

func newChurnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "churn",
		Short: "Allocate and release concurrently, then verify the pool",
		Long: `Run random allocate/release traffic against a synchronized pool from several
goroutines. Every worker tags the slots it owns and checks the tag before
releasing, so a handle handed out twice is detected. The pool's invariants are
verified at the end.

Example:
  slabpool churn --workers 8 --ops 50000 --seed 42
  slabpool churn --workers 16 --parallel 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn(cmd.Context())
		},
	}
}

func runChurn(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if churnWorkers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", churnWorkers)
	}
	if churnOps < 0 {
		return fmt.Errorf("--ops must not be negative, got %d", churnOps)
	}
	parallel := churnParallel
	if parallel <= 0 {
		parallel = churnWorkers
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     churnMemoryLimit,
		MaxBackgroundWorkers: int64(parallel),
	})
	mc := &slabpool.BasicMetricsCollector{}
	opts, err := poolOptions(
		slabpool.WithName("churn"),
		slabpool.WithResourceController(rc),
		slabpool.WithMetricsCollector(mc),
	)
	if err != nil {
		return err
	}
	p, err := slabpool.NewSync[churnSlot](opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	printVerbose("Churning %d workers x %d ops (seed %d, %d at once)\n", churnWorkers, churnOps, churnSeed, parallel)

	root := testutil.NewRNG(churnSeed)
	live := make([]*testutil.LiveSet, churnWorkers)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := range churnWorkers {
		rng := root.Fork()
		live[w] = testutil.NewLiveSet()
		g.Go(func() error {
			if err := rc.AcquireBackground(gctx); err != nil {
				return err
			}
			defer rc.ReleaseBackground()
			return churnWorker(gctx, p, w+1, rng, live[w])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	held := 0
	for _, s := range live {
		held += s.Len()
	}
	if held != p.Len() {
		return fmt.Errorf("workers hold %d handles, pool reports %d live", held, p.Len())
	}
	if err := p.Verify(); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	ms := mc.GetStats()
	res := churnResult{
		Workers:   churnWorkers,
		Ops:       churnOps,
		Seed:      churnSeed,
		Allocated: ms.AllocateCount - ms.AllocateExhausted,
		Released:  ms.ReleaseCount - ms.ReleaseErrors,
		Exhausted: ms.AllocateExhausted,
		Live:      p.Len(),
		Elapsed:   elapsed.String(),
		Stats:     p.Stats(),
	}
	if jsonOut {
		return printJSON(res)
	}

	printInfo("Churn completed in %s\n", res.Elapsed)
	printInfo("  Allocated: %d (%d exhausted)\n", res.Allocated, res.Exhausted)
	printInfo("  Released:  %d\n", res.Released)
	printInfo("  Live:      %d/%d\n", res.Live, res.Stats.Capacity)
	printInfo("  Blocks:    %d full of %d\n", res.Stats.FullBlocks, res.Stats.Blocks)
	printVerbose("  Avg allocate: %dns, avg release: %dns\n", ms.AllocateAvgNanos, ms.ReleaseAvgNanos)
	return nil
}

// churnWorker runs one goroutine's share of the traffic. It only releases handles it owns.
func churnWorker(ctx context.Context, p *slabpool.SyncPool[churnSlot], owner int, rng *testutil.RNG, live *testutil.LiveSet) error {
	for op := range churnOps {
		if op%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if live.Len() == 0 || rng.Float64() < churnAllocRatio {
			h, ok := p.Allocate()
			if !ok {
				continue
			}
			if !live.Add(uint32(h)) {
				return fmt.Errorf("worker %d: handle %s handed out twice", owner, h)
			}
			if err := p.Update(h, func(s *churnSlot) {
				s.Owner = owner
				s.Seq = uint64(op)
			}); err != nil {
				return fmt.Errorf("worker %d: tag %s: %w", owner, h, err)
			}
			continue
		}

		h := slabpool.Handle(live.Pick(rng))
		var tagged int
		if err := p.Update(h, func(s *churnSlot) { tagged = s.Owner }); err != nil {
			return fmt.Errorf("worker %d: read %s: %w", owner, h, err)
		}
		if tagged != owner {
			return fmt.Errorf("worker %d: slot %s is tagged by worker %d", owner, h, tagged)
		}
		if err := p.Release(h); err != nil {
			return fmt.Errorf("worker %d: release %s: %w", owner, h, err)
		}
		live.Remove(uint32(h))
	}
	return nil
}
