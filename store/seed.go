package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmaguirre/mercadoscan/models"
)

// SampleRecords returns a small set of dated sample listings for local
// development and demos, captured as of now.
func SampleRecords(now time.Time) []*models.ListingRecord {
	now = now.UTC()
	date := now.Format(models.SnapshotDateFormat)

	return []*models.ListingRecord{
		{
			ListingID:    "MLA123456",
			SearchTerm:   "Toyota Corolla",
			Description:  "Toyota Corolla 1.8 Xei Pack Cvt",
			PriceRaw:     "US$22000",
			PriceAmount:  22000,
			Currency:     models.CurrencyUSD,
			Year:         "2019",
			YearNum:      2019,
			DistanceRaw:  "45.000 Km",
			DistanceKm:   45000,
			Location:     "Palermo, Capital Federal",
			Link:         "https://auto.mercadolibre.com.ar/MLA-123456-toyota-corolla",
			ImageURL:     "https://http2.mlstatic.com/D_NQ_NP_888888-MLA88888888888_122022-W.jpg",
			SnapshotDate: date,
			CapturedAt:   now,
		},
		{
			ListingID:    "MLA654321",
			SearchTerm:   "Ford Ranger",
			Description:  "Ford Ranger 3.2 Limited 4x4 At",
			PriceRaw:     "US$35000",
			PriceAmount:  35000,
			Currency:     models.CurrencyUSD,
			Year:         "2021",
			YearNum:      2021,
			DistanceRaw:  "20.000 Km",
			DistanceKm:   20000,
			Location:     "Córdoba, Córdoba",
			Link:         "https://auto.mercadolibre.com.ar/MLA-654321-ford-ranger",
			ImageURL:     "https://http2.mlstatic.com/D_NQ_NP_999999-MLA99999999999_122022-W.jpg",
			SnapshotDate: date,
			CapturedAt:   now,
		},
		{
			ListingID:    "MLA789012",
			SearchTerm:   "Volkswagen Golf",
			Description:  "Volkswagen Golf 1.4 Tsi Highline",
			PriceRaw:     "US$24500",
			PriceAmount:  24500,
			Currency:     models.CurrencyUSD,
			Year:         "2018",
			YearNum:      2018,
			DistanceRaw:  "55.000 Km",
			DistanceKm:   55000,
			Location:     "San Isidro, Gba Norte",
			Link:         "https://auto.mercadolibre.com.ar/MLA-789012-volkswagen-golf",
			ImageURL:     "https://http2.mlstatic.com/D_NQ_NP_777777-MLA77777777777_122022-W.jpg",
			SnapshotDate: date,
			CapturedAt:   now,
		},
	}
}

// Seed wipes the store and inserts the sample records.
func Seed(ctx context.Context, s Store) (int, error) {
	if err := s.Reset(ctx); err != nil {
		return 0, fmt.Errorf("seed reset: %w", err)
	}
	records := SampleRecords(time.Now())
	for _, rec := range records {
		if err := s.Upsert(ctx, rec); err != nil {
			return 0, fmt.Errorf("seed upsert: %w", err)
		}
	}
	return len(records), nil
}
