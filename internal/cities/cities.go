// Package cities fetches and filters the upstream city list that drives a run.
package cities

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-resty/resty/v2"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
)

// City is one entry of the bulk city.list.json archive
type City struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Country string `json:"country"`
	Coord   struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
}

// Header is the column order written by SaveCSV
var Header = []string{"id", "name", "country", "lat", "lon"}

// Download streams the archive at url to dest. A non-2xx response is an
// error and leaves dest untouched.
func Download(ctx context.Context, client *resty.Client, url, dest string, logger *logging.StructuredLogger) error {
	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fmt.Errorf("failed to download city list: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("failed to download city list: unexpected status %d", resp.StatusCode())
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	n, err := io.Copy(file, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	logger.Info(ctx, "[CITIES_DOWNLOADED] Downloaded city list", logging.Fields{
		"url":   url,
		"path":  dest,
		"bytes": n,
	})
	return nil
}

// Load decompresses and decodes a city list archive
func Load(path string) ([]City, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip header: %w", err)
	}
	defer zr.Close()

	var list []City
	if err := json.NewDecoder(zr).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode city list: %w", err)
	}
	return list, nil
}

// FilterByCountry keeps cities in country, flattening coordinates. Names are
// unique in the result; the first city with a given name wins.
func FilterByCountry(list []City, country string) []models.Location {
	seen := make(map[string]struct{})
	out := make([]models.Location, 0)
	for _, c := range list {
		if c.Country != country {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, models.Location{
			ID:      c.ID,
			Name:    c.Name,
			Country: c.Country,
			Lat:     c.Coord.Lat,
			Lon:     c.Coord.Lon,
		})
	}
	return out
}

// SaveCSV writes the filtered location table to path
func SaveCSV(locations []models.Location, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(Header); err != nil {
		return err
	}
	for _, l := range locations {
		record := []string{
			strconv.FormatInt(l.ID, 10),
			l.Name,
			l.Country,
			strconv.FormatFloat(l.Lat, 'f', -1, 64),
			strconv.FormatFloat(l.Lon, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

// Prepare runs the whole city stage: download (unless skipped), load, filter
// by country, and save the filtered table.
func Prepare(ctx context.Context, client *resty.Client, url, archive, csvPath, country string, skipDownload bool, logger *logging.StructuredLogger) ([]models.Location, error) {
	if skipDownload {
		logger.Info(ctx, "[CITIES_SKIP_DOWNLOAD] Using existing city archive", logging.Fields{
			"path": archive,
		})
	} else if err := Download(ctx, client, url, archive, logger); err != nil {
		return nil, err
	}

	list, err := Load(archive)
	if err != nil {
		return nil, err
	}

	locations := FilterByCountry(list, country)
	if err := SaveCSV(locations, csvPath); err != nil {
		return nil, fmt.Errorf("failed to save city table: %w", err)
	}

	logger.Info(ctx, "[CITIES_READY] City table prepared", logging.Fields{
		"country":    country,
		"total":      len(list),
		"locations":  len(locations),
		"table_path": csvPath,
	})
	return locations, nil
}
