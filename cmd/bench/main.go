// Command bench drives a Client through one of four fixed workloads and
// reports wall-clock time, the Go rework of the original's bench.c: a
// join-heavy fixpoint, a count aggregate over a growing group, a single
// long linear recursion, and a two-Client network round trip.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/tuple"
	"github.com/bloom-lang/c4/server/conf"

	"github.com/bloom-lang/c4/server/c4/runtime"
)

func main() {
	var aggBench, joinBench, netBench bool
	root := &cobra.Command{
		Use:   "bench",
		Short: "run a fixed c4 benchmark workload and report timing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if joinBench && netBench {
				return fmt.Errorf("bench: --join and --net are mutually exclusive")
			}
			start := time.Now()
			var err error
			switch {
			case aggBench:
				err = simpleBench(aggProgram)
			case joinBench:
				err = simpleBench(joinProgram)
			case netBench:
				err = netBenchRun()
			default:
				err = simpleBench(perfProgram)
			}
			if err != nil {
				return err
			}
			fmt.Printf("benchmark duration: %s\n", time.Since(start))
			return nil
		},
	}
	root.Flags().BoolVarP(&aggBench, "agg", "a", false, "aggregate benchmark")
	root.Flags().BoolVarP(&joinBench, "join", "j", false, "join benchmark")
	root.Flags().BoolVarP(&netBench, "net", "n", false, "network benchmark")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const perfProgram = `
define t(int8) keys(0);
define s(int8) keys(0);
t(A + 1) :- t(A), A < 3000000;
s(A) :- t(A);
`

const joinProgram = `
define t(int8) keys(0);
define s(int8) keys(0);
s(0);
t(A + 1) :- t(A), s(B), A >= B, A < 3000000;
`

const aggProgram = `
define t(int8) keys(0);
define b(int8, int8) keys(0);
define c(int8, int8) keys(0);
b(X, Y + 1) :- b(X, Y), Y < 150000;
b(X, 0) :- t(X);
t(X + 1) :- t(X), X < 30;
c(X, count(Y)) :- b(X, Y);
`

const netProgram = `
define ping(string@, string, int8) keys(0);
define done(int8) keys(0);
ping(X, Y, C + 1) :- ping(Y, X, C), C < 100000;
done(C) :- ping(_, _, C), C >= 100000;
`

func newBenchClient() (*runtime.Client, error) {
	cfg := conf.Default()
	cfg.BindPort = 0
	cfg.HomeDir, _ = os.MkdirTemp("", "c4-bench-")
	return runtime.New(cfg)
}

func simpleBench(program string) error {
	c, err := newBenchClient()
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Terminate()
	if err := c.InstallStr(program); err != nil {
		return err
	}
	return c.InstallStr("t(0);")
}

// netBenchRun is do_net_bench: two Clients run the same ping-pong program,
// one seeded with a fact naming the other's address, and the benchmark
// blocks until a callback on "done" fires.
func netBenchRun() error {
	c1, err := newBenchClient()
	if err != nil {
		return err
	}
	if err := c1.Start(); err != nil {
		return err
	}
	defer c1.Terminate()

	c2, err := newBenchClient()
	if err != nil {
		return err
	}
	if err := c2.Start(); err != nil {
		return err
	}
	defer c2.Terminate()

	if err := c1.InstallStr(netProgram); err != nil {
		return err
	}
	if err := c2.InstallStr(netProgram); err != nil {
		return err
	}

	var wg sync.WaitGroup
	var once sync.Once
	wg.Add(1)
	c1.RegisterCallback("done", func(t *tuple.Tuple, def *catalog.TableDef, data interface{}) {
		fmt.Println("done callback invoked!")
		once.Do(wg.Done)
	}, nil)

	pingFact := fmt.Sprintf("ping(%q, %q, 0);", c1.LocalAddr(), c2.LocalAddr())
	if err := c1.InstallStr(pingFact); err != nil {
		return err
	}
	wg.Wait()
	return nil
}
