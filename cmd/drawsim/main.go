// Command drawsim prints an offering's published odds next to the
// distribution observed over many simulated draws.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"LootLedger/internal/catalog"
	"LootLedger/internal/config"
	"LootLedger/internal/fairness"
	"LootLedger/internal/observability"
)

func main() {
	catalogPath := flag.String("catalog", "catalog.yaml", "offerings file")
	offeringID := flag.String("offering", "", "offering id (default: all)")
	draws := flag.Int("n", 100000, "draws per offering")
	secret := flag.String("secret", config.DevDrawSecret, "draw secret")
	flag.Parse()

	logger := observability.NewLogger("drawsim")

	cat, err := catalog.Load(*catalogPath, decimal.NewFromInt(85))
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog")
	}
	gen, err := fairness.NewGenerator(*secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("generator")
	}

	ts := time.Now().UnixMilli()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, o := range cat.Offerings() {
		if *offeringID != "" && o.ID != *offeringID {
			continue
		}
		pool := o.Entries()
		stats, err := fairness.Statistics(pool)
		if err != nil {
			logger.Fatal().Err(err).Str("offering", o.ID).Msg("statistics")
		}
		res, err := fairness.Simulate(gen, pool, *draws, "drawsim:"+o.ID, ts)
		if err != nil {
			logger.Fatal().Err(err).Str("offering", o.ID).Msg("simulate")
		}

		fmt.Fprintf(w, "%s (%s)\ttotal weight %d\t%d draws\n", o.ID, o.Name, stats.TotalWeight, res.Draws)
		fmt.Fprintln(w, "reward\tweight\tpublished\tobserved\tdrift")
		for _, e := range stats.Entries {
			observed := res.Share(e.ID)
			fmt.Fprintf(w, "%s\t%d\t%s\t%.2f%%\t%+.3f%%\n",
				e.ID, e.Weight, e.Percentage, observed*100, (observed-e.Probability)*100)
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
