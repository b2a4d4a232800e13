package main

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slabpool"
	"github.com/spf13/cobra"
)

// scenarioSlot is the element type the scenario pool holds.
type scenarioSlot struct {
	Seq uint64
}

type scenarioStep struct {
	Action string `json:"action"`
	Handle string `json:"handle,omitempty"`
	Want   string `json:"want"`
	Got    string `json:"got"`
	Passed bool   `json:"passed"`
}

type scenarioResult struct {
	Capacity  int            `json:"capacity"`
	BlockSize int            `json:"block_size"`
	Steps     []scenarioStep `json:"steps"`
	Stats     slabpool.Stats `json:"stats"`
	Passed    bool           `json:"passed"`
}

func init() {
	cmd := newScenarioCmd()
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Run the reference allocate/release scenario",
		Long: `Fill a pool to exhaustion, free and reallocate slots at fixed offsets,
then release a handle one past the end and check that it is rejected.

Example:
  slabpool scenario
  slabpool scenario --capacity 1000 --block-size 64 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario()
		},
	}
}

func runScenario() error {
	opts, err := poolOptions()
	if err != nil {
		return err
	}
	p, err := slabpool.New[scenarioSlot](opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	res := playScenario(p)

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printInfo("Pool: capacity %d, block size %d\n", res.Capacity, res.BlockSize)
		for _, s := range res.Steps {
			mark := "ok"
			if !s.Passed {
				mark = "FAIL"
			}
			printInfo("  [%-4s] %-28s want %-12s got %s\n", mark, s.Action, s.Want, s.Got)
		}
		printVerbose("Live: %d, full blocks: %d/%d, exhausted: %d, misuses: %d\n",
			res.Stats.Live, res.Stats.FullBlocks, res.Stats.Blocks, res.Stats.Exhausted, res.Stats.Misuses)
	}

	if !res.Passed {
		return errors.New("scenario failed")
	}
	return nil
}

// playScenario drives p through the fill, reuse and misuse steps and records each outcome.
func playScenario(p *slabpool.Pool[scenarioSlot]) scenarioResult {
	n := p.Cap()
	res := scenarioResult{Capacity: n, BlockSize: p.BlockSize(), Passed: true}
	step := func(s scenarioStep) {
		s.Passed = s.Want == s.Got
		res.Passed = res.Passed && s.Passed
		res.Steps = append(res.Steps, s)
	}

	var first slabpool.Handle
	ok, none, ordered := 0, 0, true
	for i := range 2 * n {
		h, allocated := p.Allocate()
		if !allocated {
			none++
			continue
		}
		if ok == 0 {
			first = h
		}
		if h != first.Add(ok) {
			ordered = false
		}
		ok++
		if s, err := p.Get(h); err == nil {
			s.Seq = uint64(i) + 1
		}
	}
	step(scenarioStep{
		Action: fmt.Sprintf("allocate x%d", 2*n),
		Want:   fmt.Sprintf("%d ok/%d none", n, n),
		Got:    fmt.Sprintf("%d ok/%d none", ok, none),
	})
	step(scenarioStep{Action: "handles ascending", Want: "true", Got: fmt.Sprint(ordered)})

	for _, off := range reuseOffsets(n) {
		h := first.Add(off)
		got := "released"
		if err := p.Release(h); err != nil {
			got = err.Error()
		}
		step(scenarioStep{Action: "release", Handle: h.String(), Want: "released", Got: got})

		again, allocated := p.Allocate()
		step(scenarioStep{Action: "reallocate", Handle: h.String(), Want: h.String(), Got: describe(again, allocated)})
		if allocated {
			zeroed := "nonzero"
			if s, err := p.Get(again); err == nil && *s == (scenarioSlot{}) {
				zeroed = "zeroed"
			}
			step(scenarioStep{Action: "slot cleared", Handle: again.String(), Want: "zeroed", Got: zeroed})
		}

		extra, allocated := p.Allocate()
		step(scenarioStep{Action: "allocate when full", Want: "none", Got: describe(extra, allocated)})
	}

	past := first.Add(n)
	got := "released"
	if err := p.Release(past); err != nil {
		var ih *slabpool.ErrInvalidHandle
		if errors.As(err, &ih) {
			got = "rejected"
		} else {
			got = err.Error()
		}
	}
	step(scenarioStep{Action: "release past end", Handle: past.String(), Want: "rejected", Got: got})

	extra, allocated := p.Allocate()
	step(scenarioStep{Action: "allocate after misuse", Want: "none", Got: describe(extra, allocated)})

	verified := "ok"
	if err := p.Verify(); err != nil {
		verified = err.Error()
	}
	step(scenarioStep{Action: "verify", Want: "ok", Got: verified})

	res.Stats = p.Stats()
	return res
}

// reuseOffsets returns the offsets from the first handle that get freed and reallocated.
func reuseOffsets(n int) []int {
	offsets := []int{0}
	for _, off := range []int{1234, n - 2} {
		if off > offsets[len(offsets)-1] && off < n {
			offsets = append(offsets, off)
		}
	}
	return offsets
}

func describe(h slabpool.Handle, ok bool) string {
	if !ok {
		return "none"
	}
	return h.String()
}
