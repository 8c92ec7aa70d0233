package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"

	"colstore/core"
)

var genCmd = &cobra.Command{
	Use:   "gen <output.parquet>",
	Short: "Generate a synthetic flight-records parquet file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("rows")
		seed, _ := cmd.Flags().GetInt64("seed")
		if err := generateFlights(args[0], n, seed); err != nil {
			return err
		}
		fmt.Printf("wrote %d flight records to %s\n", n, args[0])
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <input.parquet>",
	Short: "Load a parquet file and report table stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		start := time.Now()
		n, err := loadParquet(engine, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d rows into flight_records in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <input.parquet>",
	Short: "Load a parquet file and run the demo aggregate query",
	Long: "Loads the file, then computes per-airline-and-cabin passenger totals " +
		"and average load factor over the requested date range, ordered by total passengers.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")

		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if _, err := loadParquet(engine, args[0]); err != nil {
			return err
		}

		plan := core.Scan("flight_records", "flight_date", "aircraft_type", "cabin_class", "passengers", "load_factor").
			Filter(core.Between{Column: "flight_date", Lo: from, Hi: to}).
			GroupBy(&core.GroupBySpec{
				Keys: []string{"aircraft_type", "cabin_class"},
				Aggregates: []core.AggregateSpec{
					{Kind: core.AggSum, Column: "passengers", Alias: "total_passengers"},
					{Kind: core.AggAvg, Column: "load_factor", Alias: "avg_load_factor"},
					{Kind: core.AggCountStar, Alias: "flights"},
				},
			}).
			Sort(core.SortKey{Column: "total_passengers", Desc: true}).
			WithLimit(limit)

		cursor, err := engine.Execute(context.Background(), plan)
		if err != nil {
			return err
		}
		return printCursor(cursor)
	},
}

func init() {
	genCmd.Flags().Int("rows", 100000, "Number of records to generate")
	genCmd.Flags().Int64("seed", 1, "Random seed")
	queryCmd.Flags().String("from", "2024-01-01", "Start of the flight_date range (inclusive)")
	queryCmd.Flags().String("to", "2024-12-31", "End of the flight_date range (inclusive)")
	queryCmd.Flags().Int("limit", 20, "Maximum result rows")
}

func printCursor(cursor *core.Cursor) error {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for i, col := range cursor.Columns() {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
	for cursor.Next() {
		row := cursor.Row()
		for i, col := range cursor.Columns() {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", row[col])
		}
		fmt.Fprintln(w)
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	return w.Flush()
}

var airlines = []string{"AA", "DL", "UA", "BA", "LH", "AF", "EK", "SQ", "QF", "JL"}

var aircraftTypes = []string{
	"A320", "B737", "A321", "B738", "A319", "B739", "A20N", "B38M", "A21N", "B789",
	"A359", "B77W", "B788", "A333", "A350", "B772", "B77L", "A332", "B763", "A306",
}

// generateFlights writes n synthetic records covering calendar year 2024.
func generateFlights(path string, n int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	records := make([]FlightRecord, 0, n)
	for i := 1; i <= n; i++ {
		airline := airlines[rng.Intn(len(airlines))]
		aircraft := aircraftTypes[rng.Intn(len(aircraftTypes))]

		cabin := "economy"
		switch r := rng.Intn(100); {
		case r >= 97:
			cabin = "first"
		case r >= 85:
			cabin = "business"
		}

		// Narrow-body types seat fewer and burn less per seat.
		narrow := aircraft[0] == 'A' && aircraft[1] == '3' || aircraft[:3] == "B73"
		maxPax := 250 + rng.Intn(151)
		baseCO2 := 150 + rng.Intn(101)
		if narrow {
			maxPax = 150 + rng.Intn(71)
			baseCO2 = 80 + rng.Intn(41)
		}
		switch cabin {
		case "business":
			maxPax = maxPax * 6 / 10
			baseCO2 = baseCO2 * 3 / 2
		case "first":
			maxPax = maxPax * 3 / 10
			baseCO2 = baseCO2 * 2
		}

		loadFactor := 60 + rng.Float64()*35
		passengers := int64(float64(maxPax) * loadFactor / 100)

		records = append(records, FlightRecord{
			RecordID:    int64(i),
			RouteID:     int64(1 + rng.Intn(10000)),
			FlightDate:  start.AddDate(0, 0, rng.Intn(365)).Format("2006-01-02"),
			FlightNum:   fmt.Sprintf("%s%04d", airline, 100+rng.Intn(9900)),
			Aircraft:    aircraft,
			Passengers:  passengers,
			LoadFactor:  float64(int(loadFactor*100)) / 100,
			CabinClass:  cabin,
			TotalCO2Kg:  passengers * int64(baseCO2),
			CO2PerPaxKg: int64(baseCO2),
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := parquet.NewGenericWriter[FlightRecord](f)
	if _, err := writer.Write(records); err != nil {
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
