package doc

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dDoc servers",
		Long:    "Runs put, get, update, query and mixed workloads against a database. All documents created by the benchmark are deleted afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfViewName         = "__perf_by_group"
	perfGroups           = 10
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,query)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different documents to use for the get and query tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfSkip = util.SplitList(viper.GetString("skip"))

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	fmt.Println("Performance testing tool for dDoc servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Database: %s\n", util.GetDatabase())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	bench := func(name string, fn func(b *testing.B)) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}
			fn(b)
		})
		results[name] = result
		printResult(name, result)
	}

	bench("put", func(b *testing.B) {
		docs := newDocTracker("put")
		b.Cleanup(func() { docs.deleteAll(ctx) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				docs.create(ctx, store.Properties{"value": "test"})
			}
		})
	})

	bench("put-large", func(b *testing.B) {
		docs := newDocTracker("put-large")
		b.Cleanup(func() { docs.deleteAll(ctx) })
		payload := strings.Repeat("x", perfLargeValueSizeKB*1024)

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				docs.create(ctx, store.Properties{"payload": payload})
			}
		})
	})

	bench("get", func(b *testing.B) {
		docs := newDocTracker("get")
		b.Cleanup(func() { docs.deleteAll(ctx) })
		ids := docs.prepare(ctx, perfKeySpread)

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := rpcDB.Get(ctx, ids[counter%len(ids)]); err != nil {
					log.Printf("(get) - error reading document: %v\n", err)
				}
				counter++
			}
		})
	})

	bench("update", func(b *testing.B) {
		docs := newDocTracker("update")
		b.Cleanup(func() { docs.deleteAll(ctx) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		// every goroutine updates its own document, so updates never conflict
		b.RunParallel(func(pb *testing.PB) {
			id, rev := docs.create(ctx, store.Properties{"counter": 0})
			counter := 0
			for pb.Next() {
				counter++
				newRev, err := rpcDB.Put(ctx, id, store.Properties{"counter": counter}, rev)
				if err != nil {
					log.Printf("(update) - error updating document: %v\n", err)
					continue
				}
				rev = newRev
				docs.revs.Store(id, rev)
			}
		})
	})

	bench("query", func(b *testing.B) {
		docs := newDocTracker("query")
		b.Cleanup(func() { docs.deleteAll(ctx) })
		docs.prepare(ctx, perfKeySpread)
		if err := rpcDB.RegisterView(ctx, view.Spec{Name: perfViewName, Version: "1", Keys: []string{"group"}}); err != nil {
			log.Printf("(query) - error registering view: %v\n", err)
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				opts := view.QueryOptions{Key: []any{float64(counter % perfGroups)}}
				if _, err := rpcDB.QueryView(ctx, perfViewName, opts); err != nil {
					log.Printf("(query) - error querying view: %v\n", err)
				}
				counter++
			}
		})
	})

	bench("mixed", func(b *testing.B) {
		docs := newDocTracker("mixed")
		b.Cleanup(func() { docs.deleteAll(ctx) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		// put, get, update, delete cycle on a document per goroutine
		b.RunParallel(func(pb *testing.PB) {
			id := docs.nextID()
			rev := ""
			counter := 0
			for pb.Next() {
				var err error
				switch counter % 4 {
				case 0: // put
					rev, err = rpcDB.Put(ctx, id, store.Properties{"counter": counter}, rev)
				case 1: // get
					_, err = rpcDB.Get(ctx, id)
				case 2: // update
					rev, err = rpcDB.Put(ctx, id, store.Properties{"counter": counter}, rev)
				case 3: // delete
					_, err = rpcDB.Delete(ctx, id, rev)
					rev = "" // deleted documents are recreated without a revision
				}
				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				counter++
			}
			if counter%4 != 0 {
				docs.revs.Store(id, rev)
			}
		})
	})

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// docTracker creates benchmark documents and remembers their latest revision for cleanup
type docTracker struct {
	prefix  string
	counter atomic.Uint64
	revs    *xsync.MapOf[string, string]
}

func newDocTracker(test string) *docTracker {
	return &docTracker{
		prefix: fmt.Sprintf("%s-%s-%d", perfKeyPrefix, test, time.Now().UnixNano()),
		revs:   xsync.NewMapOf[string, string](),
	}
}

func (d *docTracker) nextID() string {
	return fmt.Sprintf("%s-%d", d.prefix, d.counter.Add(1))
}

// create stores a new document and returns its id and revision
func (d *docTracker) create(ctx context.Context, props store.Properties) (string, string) {
	id := d.nextID()
	rev, err := rpcDB.Put(ctx, id, props, "")
	if err != nil {
		log.Printf("(%s) - error creating document: %v\n", d.prefix, err)
		return id, ""
	}
	d.revs.Store(id, rev)
	return id, rev
}

// prepare creates n documents spread over perfGroups groups and returns their ids
func (d *docTracker) prepare(ctx context.Context, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, _ := d.create(ctx, store.Properties{"group": i % perfGroups, "value": "test"})
		ids = append(ids, id)
	}
	return ids
}

// deleteAll deletes all tracked documents
func (d *docTracker) deleteAll(ctx context.Context) {
	d.revs.Range(func(id, rev string) bool {
		if _, err := rpcDB.Delete(ctx, id, rev); err != nil {
			log.Printf("(%s) - error deleting document %s: %v\n", d.prefix, id, err)
		}
		return true
	})
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount",
		"Database", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			util.GetDatabase(),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
