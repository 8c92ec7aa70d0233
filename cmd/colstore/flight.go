package main

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/viper"

	"colstore/columnar"
	"colstore/core"
	"colstore/logging"
	"colstore/metrics"
)

// FlightRecord is the parquet row shape of the demo dataset.
type FlightRecord struct {
	RecordID    int64   `parquet:"record_id"`
	RouteID     int64   `parquet:"route_id"`
	FlightDate  string  `parquet:"flight_date"`
	FlightNum   string  `parquet:"flight_number"`
	Aircraft    string  `parquet:"aircraft_type"`
	Passengers  int64   `parquet:"passengers"`
	LoadFactor  float64 `parquet:"load_factor"`
	CabinClass  string  `parquet:"cabin_class"`
	TotalCO2Kg  int64   `parquet:"total_co2_kg"`
	CO2PerPaxKg int64   `parquet:"co2_per_passenger_kg"`
}

func flightSchema() *columnar.Schema {
	return &columnar.Schema{
		Table: "flight_records",
		Columns: []columnar.ColumnSchema{
			{Name: "record_id", Type: columnar.DataTypeInt64},
			{Name: "route_id", Type: columnar.DataTypeInt64},
			{Name: "flight_date", Type: columnar.DataTypeDate},
			{Name: "flight_number", Type: columnar.DataTypeString},
			{Name: "aircraft_type", Type: columnar.DataTypeString},
			{Name: "passengers", Type: columnar.DataTypeInt64},
			{Name: "load_factor", Type: columnar.DataTypeDecimal, Scale: 2},
			{Name: "cabin_class", Type: columnar.DataTypeString},
			{Name: "total_co2_kg", Type: columnar.DataTypeInt64},
			{Name: "co2_per_passenger_kg", Type: columnar.DataTypeInt64, Nullable: true},
		},
		SortKey: "flight_date",
	}
}

func newEngine() (*core.Engine, error) {
	log := logging.New(os.Stderr)
	return core.NewEngine(core.Options{
		SegmentCapacity: viper.GetInt("segment_capacity"),
		Compression:     viper.GetString("compression"),
		Workers:         viper.GetInt("workers"),
		Logger:          &log,
		Metrics:         metrics.New(nil),
	})
}

const loadChunk = 8192

// loadParquet streams a parquet file into the flight_records table in
// fixed-size row batches.
func loadParquet(engine *core.Engine, path string) (int, error) {
	records, err := parquet.ReadFile[FlightRecord](path)
	if err != nil {
		return 0, fmt.Errorf("read parquet %s: %w", path, err)
	}

	schema := flightSchema()
	if err := engine.CreateTable(schema); err != nil {
		return 0, err
	}

	total := 0
	for lo := 0; lo < len(records); lo += loadChunk {
		hi := lo + loadChunk
		if hi > len(records) {
			hi = len(records)
		}
		builder := columnar.NewBatchBuilder(schema)
		for _, rec := range records[lo:hi] {
			row := map[string]interface{}{
				"record_id":            rec.RecordID,
				"route_id":             rec.RouteID,
				"flight_date":          rec.FlightDate,
				"flight_number":        rec.FlightNum,
				"aircraft_type":        rec.Aircraft,
				"passengers":           rec.Passengers,
				"load_factor":          rec.LoadFactor,
				"cabin_class":          rec.CabinClass,
				"total_co2_kg":         rec.TotalCO2Kg,
				"co2_per_passenger_kg": rec.CO2PerPaxKg,
			}
			if err := builder.AppendRow(row); err != nil {
				return total, err
			}
		}
		if err := engine.Append(schema.Table, builder.Batch()); err != nil {
			return total, err
		}
		total += hi - lo
	}
	return total, nil
}
