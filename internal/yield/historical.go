package yield

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// HistoricalAPYIndex reads a yields-analytics pool listing of the form
//
//	{"status":"success","data":[{"pool":"<id>","apyMean30d":4.21}, ...]}
//
// and returns the 30-day mean APY% per pool id (lowercased). The payload
// comes from a third-party API, so anything that does not match the schema
// is skipped rather than reported: a malformed body yields an empty index,
// and a malformed entry leaves that pool without a historical figure.
func HistoricalAPYIndex(payload []byte) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	if !gjson.ValidBytes(payload) {
		return out
	}

	data := gjson.GetBytes(payload, "data")
	if !data.IsArray() {
		return out
	}
	data.ForEach(func(_, item gjson.Result) bool {
		pool := item.Get("pool")
		apy := item.Get("apyMean30d")
		if pool.Type != gjson.String || apy.Type != gjson.Number {
			return true
		}
		v, err := decimal.NewFromString(apy.Raw)
		if err != nil {
			return true
		}
		out[strings.ToLower(pool.Str)] = v
		return true
	})
	return out
}
