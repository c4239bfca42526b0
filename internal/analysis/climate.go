package analysis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hydroai/internal/httpclient"
)

// MonthNames are used as climatology row labels.
var MonthNames = [12]string{"Jan", "Fev", "Mar", "Abr", "Mai", "Jun", "Jul", "Ago", "Set", "Out", "Nov", "Dez"}

// Climate summarises daily reanalysis data from the Open-Meteo archive API
// at the watershed outlet.
type Climate struct {
	client *httpclient.Client
	years  int
	logger *zap.Logger
	now    func() time.Time
}

// NewClimate creates the climate analyzer. years is the number of full
// calendar years to fetch, ending last year.
func NewClimate(client *httpclient.Client, years int, logger *zap.Logger) *Climate {
	if years < 1 {
		years = 10
	}
	return &Climate{client: client, years: years, logger: logger, now: time.Now}
}

func (c *Climate) Name() string  { return "climate" }
func (c *Climate) Title() string { return "Clima" }

type archiveResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
	Daily     struct {
		Time          []string   `json:"time"`
		Precipitation []*float64 `json:"precipitation_sum"`
		Temperature   []*float64 `json:"temperature_2m_mean"`
	} `json:"daily"`
}

func (c *Climate) Run(ctx context.Context, in *Input) (*Output, error) {
	lat, lon, err := outletOf(in)
	if err != nil {
		return nil, err
	}
	endYear := c.now().UTC().Year() - 1
	start := time.Date(endYear-c.years+1, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, 12, 31, 0, 0, 0, 0, time.UTC)

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("start_date", start.Format(time.DateOnly))
	q.Set("end_date", end.Format(time.DateOnly))
	q.Set("daily", "precipitation_sum,temperature_2m_mean")
	q.Set("timezone", "UTC")

	var resp archiveResponse
	if err := c.client.GetJSON(ctx, "v1/archive", q, &resp); err != nil {
		return nil, fmt.Errorf("open-meteo archive: %w", err)
	}
	c.logger.Debug("climate series fetched", zap.Int("days", len(resp.Daily.Time)))
	return summariseClimate(&resp, start.Year(), endYear)
}

type climateYear struct {
	precip       float64
	tempSum      float64
	tempDays     int
	monthPrecip  [12]float64
	monthTempSum [12]float64
	monthTempN   [12]int
	days         int
}

func summariseClimate(resp *archiveResponse, firstYear, lastYear int) (*Output, error) {
	d := resp.Daily
	if len(d.Time) == 0 {
		return nil, fmt.Errorf("open-meteo archive returned no daily data")
	}
	years := make(map[int]*climateYear)
	maxDaily, maxDailyDate := 0.0, ""
	for i, day := range d.Time {
		t, err := time.Parse(time.DateOnly, day)
		if err != nil || t.Year() < firstYear || t.Year() > lastYear {
			continue
		}
		y := years[t.Year()]
		if y == nil {
			y = &climateYear{}
			years[t.Year()] = y
		}
		m := int(t.Month()) - 1
		if i < len(d.Precipitation) && d.Precipitation[i] != nil {
			p := *d.Precipitation[i]
			y.precip += p
			y.monthPrecip[m] += p
			y.days++
			if p > maxDaily {
				maxDaily, maxDailyDate = p, day
			}
		}
		if i < len(d.Temperature) && d.Temperature[i] != nil {
			v := *d.Temperature[i]
			y.tempSum += v
			y.tempDays++
			y.monthTempSum[m] += v
			y.monthTempN[m]++
		}
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("open-meteo archive returned no data for %d-%d", firstYear, lastYear)
	}

	out := &Output{}
	annual := Table{Title: "Série anual", Columns: []string{"Ano", "Precipitação (mm)", "Temperatura média (°C)"}}
	var precipSum, tempSum float64
	var tempDays, nYears int
	var monthPrecip, monthTempSum [12]float64
	var monthTempN [12]int
	for year := firstYear; year <= lastYear; year++ {
		y, ok := years[year]
		if !ok || y.days == 0 {
			continue
		}
		nYears++
		precipSum += y.precip
		tempSum += y.tempSum
		tempDays += y.tempDays
		for m := 0; m < 12; m++ {
			monthPrecip[m] += y.monthPrecip[m]
			monthTempSum[m] += y.monthTempSum[m]
			monthTempN[m] += y.monthTempN[m]
		}
		annual.Rows = append(annual.Rows, Row{
			Label:  strconv.Itoa(year),
			Values: []float64{y.precip, safeMean(y.tempSum, y.tempDays)},
		})
	}
	if nYears == 0 {
		return nil, fmt.Errorf("open-meteo archive returned only missing values")
	}

	monthly := Table{Title: "Climatologia mensal", Columns: []string{"Mês", "Precipitação média (mm)", "Temperatura média (°C)"}}
	wettest, driest := 0, 0
	for m := 0; m < 12; m++ {
		p := monthPrecip[m] / float64(nYears)
		monthly.Rows = append(monthly.Rows, Row{
			Label:  MonthNames[m],
			Values: []float64{p, safeMean(monthTempSum[m], monthTempN[m])},
		})
		if monthPrecip[m] > monthPrecip[wettest] {
			wettest = m
		}
		if monthPrecip[m] < monthPrecip[driest] {
			driest = m
		}
	}

	out.add("precipitation_annual_mm", "Precipitação média anual", precipSum/float64(nYears), "mm", 1)
	out.add("temperature_mean_c", "Temperatura média", safeMean(tempSum, tempDays), "°C", 1)
	out.add("precipitation_max_daily_mm", "Maior precipitação diária", maxDaily, "mm", 1)
	out.add("wettest_month", "Mês mais chuvoso", float64(wettest+1), "", 0)
	out.add("driest_month", "Mês mais seco", float64(driest+1), "", 0)
	out.add("years", "Anos analisados", float64(nYears), "", 0)
	out.Tables = append(out.Tables, monthly, annual)
	out.Notes = append(out.Notes,
		fmt.Sprintf("Reanálise ERA5 (Open-Meteo) em %.4f, %.4f, período %d-%d.", resp.Latitude, resp.Longitude, firstYear, lastYear),
		fmt.Sprintf("Mês mais chuvoso: %s; mês mais seco: %s.", MonthNames[wettest], MonthNames[driest]))
	if maxDailyDate != "" {
		out.Notes = append(out.Notes, fmt.Sprintf("Maior chuva diária em %s.", maxDailyDate))
	}
	return out, nil
}

// safeMean returns 0 for empty series so outputs stay JSON encodable.
func safeMean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// outletOf returns the outlet in WGS 84, preferring the snapped outlet of
// the delineation when the DEM is geographic.
func outletOf(in *Input) (lat, lon float64, err error) {
	if ws := in.Watershed; ws != nil && ws.DEM != nil && ws.DEM.IsGeographic() {
		return ws.Stats.OutletLat, ws.Stats.OutletLon, nil
	}
	if in.Project != nil {
		return in.Project.Outlet.Lat, in.Project.Outlet.Lon, nil
	}
	return 0, 0, ErrNoWatershed
}
