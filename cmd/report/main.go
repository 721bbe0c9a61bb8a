package main

import (
	"fmt"
	"os"
	"sort"

	"perp_bot/internal/journal"
	"perp_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// report summarizes a session's terminal-record journal: per-side and
// per-exit-reason PnL, commission drag and the reinvest/transfer split.
//
//	report --file closed_positions.jsonl [--top 5]

type bucket struct {
	count      int
	gross      float64
	commission float64
	net        float64
	reinvest   float64
	transfer   float64
}

func (b *bucket) add(r *models.TerminalRecord) {
	b.count++
	b.gross += r.PnLGrossUSDT
	b.commission += r.CommissionUSDT
	b.net += r.PnLNetUSDT
	b.reinvest += r.ReinvestUSDT
	b.transfer += r.TransferUSDT
}

func run() error {
	viper.SetDefault("file", "closed_positions.jsonl")
	viper.SetDefault("top", 5)
	viper.SetEnvPrefix("REPORT")
	viper.AutomaticEnv()

	args := os.Args[1:]
	for i := 0; i+1 < len(args); i += 2 {
		switch args[i] {
		case "--file":
			viper.Set("file", args[i+1])
		case "--top":
			viper.Set("top", args[i+1])
		}
	}

	path := viper.GetString("file")
	recs, err := journal.ReadAll(path)
	if err != nil {
		return errors.Wrap(err, "read journal")
	}
	if len(recs) == 0 {
		fmt.Printf("%s: no closed positions\n", path)
		return nil
	}

	var total bucket
	bySide := map[models.Side]*bucket{}
	byReason := map[models.ExitReason]*bucket{}
	for i := range recs {
		r := &recs[i]
		total.add(r)
		if bySide[r.Side] == nil {
			bySide[r.Side] = &bucket{}
		}
		bySide[r.Side].add(r)
		if byReason[r.ExitReason] == nil {
			byReason[r.ExitReason] = &bucket{}
		}
		byReason[r.ExitReason].add(r)
	}

	fmt.Printf("%s: %d closed positions\n", path, total.count)
	fmt.Printf("  gross %.4f  commission %.4f  net %.4f\n", total.gross, total.commission, total.net)
	fmt.Printf("  reinvested %.4f  transferred %.4f\n", total.reinvest, total.transfer)

	fmt.Println("by side:")
	for _, side := range models.Sides() {
		if b := bySide[side]; b != nil {
			fmt.Printf("  %-5s %3d trades  net %.4f\n", side, b.count, b.net)
		}
	}

	fmt.Println("by exit reason:")
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		b := byReason[models.ExitReason(r)]
		fmt.Printf("  %-7s %3d trades  net %.4f\n", r, b.count, b.net)
	}

	top := viper.GetInt("top")
	if top > len(recs) {
		top = len(recs)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].PnLNetUSDT > recs[j].PnLNetUSDT })
	fmt.Printf("top %d by net PnL:\n", top)
	for _, r := range recs[:top] {
		fmt.Printf("  %s %-5s %-7s entry %.4f exit %.4f net %.4f\n",
			shortID(r.ID), r.Side, r.ExitReason, r.EntryPrice, r.ExitPrice, r.PnLNetUSDT)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
