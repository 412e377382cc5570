// bench-hibernation measures heap memory before and after Hibernate() calls
// on a registry filled with random regions.
//
// Usage:
//
//	go run ./scripts/bench-hibernation --spaces 64 --regions 20000 \
//	  --rounds 3 --profile-dir docs/profiles/hibernation
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

const maxRegionSize = 64

func main() {
	spaces := flag.Int("spaces", 64, "Number of address spaces")
	regions := flag.Int("regions", 20000, "Regions inserted per space")
	shards := flag.Int("shards", 4, "Allocator shards")
	threshold := flag.Int("threshold", 1000, "Allocator hibernation threshold")
	rounds := flag.Int("rounds", 3, "Hibernate/boot rounds")
	seed := flag.Int64("seed", 1, "Random seed")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles (optional)")

	flag.Parse()

	if *profileDir != "" {
		if err := os.MkdirAll(*profileDir, 0o755); err != nil {
			log.Fatalf("mkdir profile-dir: %v", err)
		}
	}

	type heapSnapshot struct {
		label     string
		heapInUse uint64
		heapSys   uint64
		heapIdle  uint64
		used      int
	}

	var snapshots []heapSnapshot

	registry := region.NewRegistry[uint64](*shards, *threshold, region.Options{})

	takeSnapshot := func(label string) {
		runtime.GC()
		runtime.GC()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		snapshots = append(snapshots, heapSnapshot{
			label:     label,
			heapInUse: m.HeapInuse,
			heapSys:   m.HeapSys,
			heapIdle:  m.HeapIdle,
			used:      registry.Used(),
		})
		log.Printf("  [heap] %-32s inuse=%6.1f MB  sys=%6.1f MB  idle=%6.1f MB",
			label, float64(m.HeapInuse)/1e6, float64(m.HeapSys)/1e6, float64(m.HeapIdle)/1e6)
	}

	writeHeapProfile := func(name string) {
		if *profileDir == "" {
			return
		}

		runtime.GC()

		path := filepath.Join(*profileDir, name)

		f, ferr := os.Create(path)
		if ferr != nil {
			log.Printf("warning: create heap profile %s: %v", path, ferr)

			return
		}
		defer f.Close()

		if perr := pprof.WriteHeapProfile(f); perr != nil {
			log.Printf("warning: write heap profile %s: %v", path, perr)
		}
	}

	takeSnapshot("empty")

	lengths := fill(registry, *spaces, *regions, *seed)
	log.Printf("filled %d spaces, %d slots in use", *spaces, registry.Used())

	takeSnapshot("filled")
	writeHeapProfile("heap_filled.prof")

	for round := 1; round <= *rounds; round++ {
		takeSnapshot(fmt.Sprintf("round_%d_before_hibernate", round))

		registry.Hibernate()

		takeSnapshot(fmt.Sprintf("round_%d_after_hibernate", round))
		writeHeapProfile(fmt.Sprintf("heap_round_%d_hibernated.prof", round))

		registry.Boot()

		takeSnapshot(fmt.Sprintf("round_%d_after_boot", round))
		check(registry, lengths)
	}

	fmt.Println()
	fmt.Println("=== Heap Memory Timeline ===")
	fmt.Printf("%-36s %10s %10s %10s %10s\n", "Phase", "InUse(MB)", "Sys(MB)", "Idle(MB)", "Slots")
	fmt.Println("------------------------------------+----------+----------+----------+----------")

	for _, s := range snapshots {
		fmt.Printf("%-36s %10.1f %10.1f %10.1f %10d\n",
			s.label, float64(s.heapInUse)/1e6, float64(s.heapSys)/1e6, float64(s.heapIdle)/1e6, s.used)
	}

	fmt.Println()
	fmt.Println("=== Hibernation Memory Deltas ===")

	for i := 0; i+1 < len(snapshots); i++ {
		curr := snapshots[i]

		next := snapshots[i+1]
		if strings.HasSuffix(curr.label, "before_hibernate") && strings.HasSuffix(next.label, "after_hibernate") {
			delta := float64(curr.heapInUse) - float64(next.heapInUse)
			pct := (delta / float64(curr.heapInUse)) * 100
			fmt.Printf("  %s -> %s: %.1f MB freed (%.1f%%)\n",
				curr.label, next.label, delta/1e6, pct)
		}
	}
}

// fill inserts random non-overlapping regions and returns each space's length.
func fill(registry *region.Registry[uint64], spaces, regions int, seed int64) map[string]int {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible workload.
	lengths := make(map[string]int, spaces)

	for idx := range spaces {
		name := fmt.Sprintf("space-%03d", idx)

		space, err := registry.Space(name)
		if err != nil {
			log.Fatalf("space %s: %v", name, err)
		}

		var addr uint64

		for n := range regions {
			size := 1 + rng.Uint64()%maxRegionSize
			addr += rng.Uint64() % maxRegionSize

			if _, err = space.Insert(addr, size, uint64(n)); err != nil { //nolint:gosec // n is non-negative.
				log.Fatalf("insert into %s: %v", name, err)
			}

			addr += size
		}

		lengths[name] = space.Len()
	}

	return lengths
}

// check fails the run if a booted space lost regions or broke an invariant.
func check(registry *region.Registry[uint64], lengths map[string]int) {
	for name, want := range lengths {
		space, err := registry.Space(name)
		if err != nil {
			log.Fatalf("space %s after boot: %v", name, err)
		}

		if space.Len() != want {
			log.Fatalf("space %s has %d regions after boot, want %d", name, space.Len(), want)
		}

		if err = space.Verify(); err != nil {
			log.Fatalf("space %s after boot: %v", name, err)
		}
	}
}
