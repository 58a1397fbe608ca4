// trade-report summarizes the journaled trades: per-symbol PnL, win rates
// and a breakdown by close reason. It reads the same Postgres journal the
// bot writes to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/database"
	"futures-trading-bot/internal/logging"
)

type symbolStats struct {
	Symbol        string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
}

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	limit := flag.Int("limit", 500, "number of recent trades to analyze")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseConfig.DSN == "" {
		fmt.Fprintln(os.Stderr, "no database DSN configured, nothing to report on")
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	journal, err := database.NewJournal(ctx, cfg.DatabaseConfig.DSN, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting to journal: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	trades, err := journal.RecentTrades(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading trades: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Println("no journaled trades yet")
		return
	}

	printReport(trades)
}

func printReport(trades []database.TradeRecord) {
	bySymbol := make(map[string]*symbolStats)
	byReason := make(map[string]int)
	var grandPnL float64
	var grandWins, grandLosses int

	for _, t := range trades {
		stats, ok := bySymbol[t.Symbol]
		if !ok {
			stats = &symbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = stats
		}

		stats.TotalTrades++
		stats.TotalPnL += t.PnL
		grandPnL += t.PnL
		if t.PnL > 0 {
			stats.WinningTrades++
			stats.TotalWins += t.PnL
			grandWins++
		} else if t.PnL < 0 {
			stats.LosingTrades++
			stats.TotalLosses += t.PnL
			grandLosses++
		}

		reason := t.CloseReason
		if reason == "" {
			reason = "unknown"
		}
		byReason[reason]++
	}

	sorted := make([]*symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TotalPnL > sorted[j].TotalPnL
	})

	fmt.Printf("TRADE REPORT: %d trades, %s to %s\n\n",
		len(trades),
		trades[len(trades)-1].ExitTime.Format("2006-01-02"),
		trades[0].ExitTime.Format("2006-01-02"))

	fmt.Printf("%-12s %7s %8s %8s %13s %13s %9s\n",
		"Symbol", "Trades", "Winners", "Losers", "Total PnL", "Avg PnL", "Win Rate")
	for _, s := range sorted {
		fmt.Printf("%-12s %7d %8d %8d %+13.2f %+13.2f %8.1f%%\n",
			s.Symbol, s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.TotalPnL, s.AvgPnL, s.WinRate)
	}

	grandWinRate := 0.0
	if grandWins+grandLosses > 0 {
		grandWinRate = float64(grandWins) / float64(grandWins+grandLosses) * 100
	}
	fmt.Printf("\n%-12s %7d %8d %8d %+13.2f %13s %8.1f%%\n",
		"TOTAL", len(trades), grandWins, grandLosses, grandPnL, "", grandWinRate)

	fmt.Println("\nClose reasons:")
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-20s %d\n", r, byReason[r])
	}

	printExtremes(sorted)
}

func printExtremes(sorted []*symbolStats) {
	fmt.Println("\nBest performers:")
	count := 0
	for _, s := range sorted {
		if s.TotalPnL <= 0 || count >= 3 {
			break
		}
		avgWin := 0.0
		if s.WinningTrades > 0 {
			avgWin = s.TotalWins / float64(s.WinningTrades)
		}
		fmt.Printf("  %s: %+.2f over %d wins (avg win %+.2f, win rate %.1f%%)\n",
			s.Symbol, s.TotalPnL, s.WinningTrades, avgWin, s.WinRate)
		count++
	}
	if count == 0 {
		fmt.Println("  none")
	}

	fmt.Println("\nWorst performers:")
	count = 0
	for i := len(sorted) - 1; i >= 0 && count < 3; i-- {
		s := sorted[i]
		if s.TotalPnL >= 0 {
			break
		}
		avgLoss := 0.0
		if s.LosingTrades > 0 {
			avgLoss = s.TotalLosses / float64(s.LosingTrades)
		}
		fmt.Printf("  %s: %+.2f over %d losses (avg loss %+.2f, win rate %.1f%%)\n",
			s.Symbol, s.TotalPnL, s.LosingTrades, avgLoss, s.WinRate)
		count++
	}
	if count == 0 {
		fmt.Println("  none")
	}
}
