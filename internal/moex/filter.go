package moex

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Zachkp/bond-site/internal/payload"
	"github.com/Zachkp/bond-site/internal/treemap"
)

// SiteCols is the column order written to the data file.
var SiteCols = []string{
	"SECID",
	"SHORTNAME",
	"MATDATE",
	"YEARS",
	"YTM",
	"COUPONPERCENT",
	"LISTLEVEL",
	"ISSUESIZE_FMT",
	"FACEVALUEONSETTLEDATE",
	"CURRENCYID",
	"UPDATETIME",
}

var (
	yieldCols      = []string{"YIELDATPREVWAPRICE", "YIELDATPREVWAPRICE_YLD", "YIELDATPREVWAPRICE_MD"}
	updateTimeCols = []string{"UPDATETIME", "UPDATETIME_YLD", "UPDATETIME_MD", "SYSTIME", "SYSTIME_YLD"}
	floaterWords   = []string{"FLOAT", "FRN", "ИНДЕКС", "ИНФЛЯЦ", "RUONIA"}
)

// ErrNoYield means none of the yield columns came back from ISS.
var ErrNoYield = errors.New("cannot find YIELDATPREVWAPRICE in MOEX response")

const daysPerYear = 365.25

type FilterOptions struct {
	TopN      int
	MaxYears  float64
	ListLevel int
}

func DefaultFilterOptions() FilterOptions {
	return FilterOptions{TopN: 20, MaxYears: 2.0, ListLevel: 1}
}

// Filter keeps fixed-coupon RUB bonds of the target listing level that
// mature within MaxYears, sorted by yield, highest first.
func Filter(bonds []Bond, now time.Time, opts FilterOptions) ([]Bond, error) {
	ytmCol := pickCol(bonds, yieldCols)
	if ytmCol == "" {
		return nil, ErrNoYield
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var out []Bond
	for _, b := range bonds {
		ytm, ok := b.Get(ytmCol).Float()
		if !ok || ytm <= 0 {
			continue
		}
		mat, ok := parseDate(b.Get("MATDATE"))
		if !ok || mat.Equal(today) {
			continue
		}
		level, ok := b.Get("LISTLEVEL").Float()
		if !ok || int(level) != opts.ListLevel || level != math.Trunc(level) {
			continue
		}
		years := math.Floor(mat.Sub(now).Hours()/24) / daysPerYear
		if years <= 0 || years > opts.MaxYears {
			continue
		}
		currency := b.Get("CURRENCYID").String()
		if currency == "SUR" {
			currency = "RUB"
		}
		if currency != "RUB" {
			continue
		}
		if !fixedCoupon(b) || isFloater(b) {
			continue
		}

		rec := make(Bond, len(b)+6)
		for k, v := range b {
			rec[k] = v
		}
		rec["YTM"] = payload.Number(ytm)
		rec["YEARS"] = payload.Number(years)
		rec["MATDATE"] = payload.String(mat.Format("2006-01-02"))
		rec["LISTLEVEL"] = payload.Number(level)
		rec["CURRENCYID"] = payload.String(currency)
		rec["ISSUESIZE_FMT"] = issueSize(b.Get("ISSUESIZE"))
		rec["UPDATETIME"] = firstPresent(b, updateTimeCols)
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Get("YTM").Number()
		b, _ := out[j].Get("YTM").Number()
		return a > b
	})
	return out, nil
}

// BuildPayload takes the first topN filtered bonds and derives the area
// and clipped color values for the treemap.
func BuildPayload(bonds []Bond, topN int, now time.Time) *payload.Payload {
	p := &payload.Payload{
		UpdatedAt: now.UTC().Format("2006-01-02 15:04") + " UTC",
		Rows:      []payload.Row{},
	}
	if len(bonds) == 0 {
		p.Cols = append([]string(nil), SiteCols...)
		return p
	}
	if topN > 0 && len(bonds) > topN {
		bonds = bonds[:topN]
	}

	yields := make([]float64, 0, len(bonds))
	for _, b := range bonds {
		if v, ok := b.Get("YTM").Number(); ok {
			yields = append(yields, v)
		}
	}
	sort.Float64s(yields)
	p5 := treemap.Quantile(yields, 0.05)
	p95 := treemap.Quantile(yields, 0.95)

	for _, c := range SiteCols {
		for _, b := range bonds {
			if _, ok := b[c]; ok {
				p.Cols = append(p.Cols, c)
				break
			}
		}
	}

	for _, b := range bonds {
		row := make(payload.Row, len(p.Cols)+2)
		for _, c := range p.Cols {
			row[c] = b.Get(c)
		}
		size, colorVal := 0.0, 0.0
		if ytm, ok := b.Get("YTM").Number(); ok {
			size = math.Sqrt(math.Max(ytm, 0))
			colorVal = math.Min(math.Max(ytm, p5), p95)
		}
		row["SIZE"] = payload.Number(size)
		row["COLORVAL"] = payload.Number(colorVal)
		p.Rows = append(p.Rows, row)
	}
	return p
}

func pickCol(bonds []Bond, candidates []string) string {
	for _, c := range candidates {
		for _, b := range bonds {
			if _, ok := b[c]; ok {
				return c
			}
		}
	}
	return ""
}

func firstPresent(b Bond, cols []string) payload.Value {
	for _, c := range cols {
		if v := b.Get(c); !v.IsNull() && v.String() != "" {
			return v
		}
	}
	return payload.Null()
}

func parseDate(v payload.Value) (time.Time, bool) {
	s := v.String()
	if len(s) >= 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func fixedCoupon(b Bond) bool {
	pct, ok := b.Get("COUPONPERCENT").Float()
	if !ok || pct <= 0 {
		return false
	}
	period, ok := b.Get("COUPONPERIOD").Float()
	return ok && period > 0
}

func isFloater(b Bond) bool {
	text := strings.ToUpper(strings.Join([]string{
		b.Get("BONDTYPE").String(),
		b.Get("BONDSUBTYPE").String(),
		b.Get("REMARKS").String(),
	}, " "))
	for _, w := range floaterWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func issueSize(v payload.Value) payload.Value {
	f, ok := v.Float()
	if !ok {
		return payload.Null()
	}
	return payload.String(humanize.Comma(int64(f)))
}
