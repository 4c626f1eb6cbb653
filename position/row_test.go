package position

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRow() Row {
	return Row{
		"user_id":                  "u-1",
		"dhan_client_id":           "1100001234",
		"trading_symbol":           "NIFTY-Jan2025-23500-CE",
		"security_id":              "43512",
		"position_type":            "long",
		"exchange_segment":         "NSE_FNO",
		"product_type":             "INTRADAY",
		"buy_avg":                  112.5,
		"buy_qty":                  float64(75),
		"cost_price":               "112.50",
		"sell_avg":                 0,
		"sell_qty":                 int64(0),
		"net_qty":                  json.Number("75"),
		"realized_profit":          0.0,
		"unrealized_profit":        -337.5,
		"rbi_reference_rate":       1,
		"multiplier":               1,
		"carry_forward_buy_qty":    0,
		"carry_forward_sell_qty":   0,
		"carry_forward_buy_value":  0,
		"carry_forward_sell_value": 0,
		"day_buy_qty":              75,
		"day_sell_qty":             0,
		"day_buy_value":            8437.5,
		"day_sell_value":           0,
		"drv_expiry_date":          "2025-01-30",
		"drv_option_type":          "CALL",
		"drv_strike_price":         23500,
		"cross_currency":           false,
		"user_firstname":           "Asha",
		"user_lastname":            "Rao",
		"profile_image_url":        "https://cdn.example/asha.png",
		"mentor_id":                "m-9",
		"balance":                  250000,
	}
}

func TestFromRow(t *testing.T) {
	t.Parallel()

	p, err := FromRow(fullRow())
	require.NoError(t, err)

	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, "43512", p.SecurityID)
	assert.Equal(t, Long, p.PositionType)
	assert.Equal(t, NSEFNO, p.ExchangeSegment)
	assert.Equal(t, Intraday, p.ProductType)
	assert.Equal(t, int64(75), p.BuyQty)
	assert.Equal(t, int64(75), p.NetQty)
	assert.True(t, decimal.RequireFromString("112.5").Equal(p.BuyAvg))
	assert.True(t, decimal.RequireFromString("112.5").Equal(p.CostPrice))
	assert.True(t, decimal.RequireFromString("-337.5").Equal(p.UnrealizedProfit))
	assert.True(t, decimal.RequireFromString("8437.5").Equal(p.DayBuyValue))
	assert.Equal(t, "2025-01-30", p.DrvExpiryDate)
	assert.Equal(t, Call, p.DrvOptionType)
	require.True(t, p.DrvStrikePrice.Valid)
	assert.True(t, decimal.NewFromInt(23500).Equal(p.DrvStrikePrice.Decimal))
	assert.True(t, p.IsDerivative())
	assert.True(t, decimal.RequireFromString("-337.5").Equal(p.TotalProfit()))
}

func TestFromRowMissingIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		drop  string
		blank bool
		field string
	}{
		{"no user", ColUserID, false, ColUserID},
		{"blank user", ColUserID, true, ColUserID},
		{"no security", ColSecurityID, false, ColSecurityID},
		{"blank security", ColSecurityID, true, ColSecurityID},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := fullRow()
			if tt.blank {
				r[tt.drop] = "  "
			} else {
				delete(r, tt.drop)
			}

			_, err := FromRow(r)
			var mre *MalformedRowError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, tt.field, mre.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestFromRowDefaults(t *testing.T) {
	t.Parallel()

	p, err := FromRow(Row{"user_id": "u-2", "security_id": 1333})
	require.NoError(t, err)

	assert.Equal(t, "1333", p.SecurityID)
	assert.Equal(t, "", p.TradingSymbol)
	assert.Equal(t, Type(""), p.PositionType)
	assert.True(t, p.BuyAvg.IsZero())
	assert.Equal(t, int64(0), p.DayBuyQty)
	assert.Equal(t, "", p.DrvExpiryDate)
	assert.Equal(t, OptionType(""), p.DrvOptionType)
	assert.False(t, p.DrvStrikePrice.Valid)
	assert.False(t, p.CrossCurrency)
	assert.False(t, p.IsDerivative())
}

func TestFromRowBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		col   string
		value any
	}{
		{"text quantity", ColBuyQty, "abc"},
		{"fractional quantity", ColDayBuyQty, 1.5},
		{"fractional quantity string", ColDaySellQty, "2.25"},
		{"text money", ColRealizedProfit, "n/a"},
		{"unsupported money type", ColDayBuyValue, []int{1}},
		{"bad bool", ColCrossCurrency, "maybe"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := fullRow()
			r[tt.col] = tt.value

			_, err := FromRow(r)
			var mre *MalformedRowError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, tt.col, mre.Field)
			assert.NotEmpty(t, mre.Reason)
		})
	}
}

func TestFromRowCoercion(t *testing.T) {
	t.Parallel()

	r := Row{
		"user_id":        []byte("u-3"),
		"security_id":    int64(500325),
		"cross_currency": int64(1),
		"day_buy_qty":    "10",
		"day_buy_value":  []byte("1234.55"),
		"day_sell_qty":   decimal.NewFromInt(4),
		"position_type":  " short ",
	}

	p, err := FromRow(r)
	require.NoError(t, err)
	assert.Equal(t, "u-3", p.UserID)
	assert.Equal(t, "500325", p.SecurityID)
	assert.True(t, p.CrossCurrency)
	assert.Equal(t, int64(10), p.DayBuyQty)
	assert.Equal(t, int64(4), p.DaySellQty)
	assert.True(t, decimal.RequireFromString("1234.55").Equal(p.DayBuyValue))
	assert.Equal(t, Short, p.PositionType)
}

func TestOwnerFromRow(t *testing.T) {
	t.Parallel()

	o := OwnerFromRow(fullRow())
	assert.Equal(t, "u-1", o.UserID)
	assert.Equal(t, "Asha", o.FirstName)
	assert.Equal(t, "Rao", o.LastName)
	assert.Equal(t, "https://cdn.example/asha.png", o.ProfileImage)
	require.NotNil(t, o.MentorID)
	assert.Equal(t, "m-9", *o.MentorID)
	assert.True(t, decimal.NewFromInt(250000).Equal(o.Balance))

	bare := OwnerFromRow(Row{"user_id": "u-4", "mentor_id": nil})
	assert.Nil(t, bare.MentorID)
	assert.Equal(t, DefaultProfileImage, bare.ProfileImage)
	assert.True(t, bare.Balance.IsZero())
}

func TestRowIdentity(t *testing.T) {
	t.Parallel()

	u, s, ok := Row{"user_id": "u-1", "security_id": "S1"}.Identity()
	assert.True(t, ok)
	assert.Equal(t, "u-1", u)
	assert.Equal(t, "S1", s)

	_, _, ok = Row{"id": 12}.Identity()
	assert.False(t, ok)
}

func TestToRowRoundTrip(t *testing.T) {
	t.Parallel()

	in := fullRow()
	p, err := FromRow(in)
	require.NoError(t, err)
	o := OwnerFromRow(in)

	out := ToRow(p, o)
	assert.Len(t, out, len(Columns))
	assert.Equal(t, "-337.5", out[ColUnrealizedProfit])
	assert.Equal(t, "23500", out[ColDrvStrikePrice])
	assert.Equal(t, "m-9", out[ColMentorID])

	p2, err := FromRow(out)
	require.NoError(t, err)
	assert.True(t, p.TotalProfit().Equal(p2.TotalProfit()))
	assert.True(t, p.DayBuyValue.Equal(p2.DayBuyValue))
	assert.Equal(t, p.DayBuyQty, p2.DayBuyQty)
	assert.Equal(t, p.DrvOptionType, p2.DrvOptionType)
	assert.Equal(t, o.ProfileImage, OwnerFromRow(out).ProfileImage)
}

func TestToRowOptionalColumnsNil(t *testing.T) {
	t.Parallel()

	p, err := FromRow(Row{"user_id": "u", "security_id": "s"})
	require.NoError(t, err)
	out := ToRow(p, OwnerFromRow(Row{"user_id": "u"}))

	assert.Nil(t, out[ColMentorID])
	assert.Nil(t, out[ColProfileImage])
	assert.Nil(t, out[ColDrvStrikePrice])
	assert.Nil(t, out[ColDrvExpiryDate])
	assert.Equal(t, DefaultProfileImage, OwnerFromRow(out).ProfileImage)
	assert.False(t, p.IsDerivative())
}
