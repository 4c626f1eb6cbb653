package position

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one raw backend row keyed by column name. Values arrive as whatever
// the transport decoded them to: JSON numbers, driver integers, strings, etc.
type Row map[string]any

// Backend column names.
const (
	ColUserID                = "user_id"
	ColDhanClientID          = "dhan_client_id"
	ColTradingSymbol         = "trading_symbol"
	ColSecurityID            = "security_id"
	ColPositionType          = "position_type"
	ColExchangeSegment       = "exchange_segment"
	ColProductType           = "product_type"
	ColBuyAvg                = "buy_avg"
	ColBuyQty                = "buy_qty"
	ColCostPrice             = "cost_price"
	ColSellAvg               = "sell_avg"
	ColSellQty               = "sell_qty"
	ColNetQty                = "net_qty"
	ColRealizedProfit        = "realized_profit"
	ColUnrealizedProfit      = "unrealized_profit"
	ColRBIReferenceRate      = "rbi_reference_rate"
	ColMultiplier            = "multiplier"
	ColCarryForwardBuyQty    = "carry_forward_buy_qty"
	ColCarryForwardSellQty   = "carry_forward_sell_qty"
	ColCarryForwardBuyValue  = "carry_forward_buy_value"
	ColCarryForwardSellValue = "carry_forward_sell_value"
	ColDayBuyQty             = "day_buy_qty"
	ColDaySellQty            = "day_sell_qty"
	ColDayBuyValue           = "day_buy_value"
	ColDaySellValue          = "day_sell_value"
	ColDrvExpiryDate         = "drv_expiry_date"
	ColDrvOptionType         = "drv_option_type"
	ColDrvStrikePrice        = "drv_strike_price"
	ColCrossCurrency         = "cross_currency"

	ColFirstName    = "user_firstname"
	ColLastName     = "user_lastname"
	ColProfileImage = "profile_image_url"
	ColMentorID     = "mentor_id"
	ColBalance      = "balance"
)

// Columns lists every column in the order the stores create them.
var Columns = []string{
	ColUserID, ColDhanClientID, ColTradingSymbol, ColSecurityID,
	ColPositionType, ColExchangeSegment, ColProductType,
	ColBuyAvg, ColBuyQty, ColCostPrice, ColSellAvg, ColSellQty, ColNetQty,
	ColRealizedProfit, ColUnrealizedProfit, ColRBIReferenceRate, ColMultiplier,
	ColCarryForwardBuyQty, ColCarryForwardSellQty, ColCarryForwardBuyValue, ColCarryForwardSellValue,
	ColDayBuyQty, ColDaySellQty, ColDayBuyValue, ColDaySellValue,
	ColDrvExpiryDate, ColDrvOptionType, ColDrvStrikePrice, ColCrossCurrency,
	ColFirstName, ColLastName, ColProfileImage, ColMentorID, ColBalance,
}

// Identity returns the user and security ids of a row without mapping the
// rest of it. ok is false when either is missing.
func (r Row) Identity() (userID, securityID string, ok bool) {
	rd := reader{row: r}
	userID = rd.text(ColUserID)
	securityID = rd.text(ColSecurityID)
	return userID, securityID, rd.err == nil && userID != "" && securityID != ""
}

// FromRow maps one raw row to a Position.
func FromRow(r Row) (Position, error) {
	rd := reader{row: r}

	p := Position{
		UserID:     rd.text(ColUserID),
		SecurityID: rd.text(ColSecurityID),
	}
	if rd.err != nil {
		return Position{}, rd.err
	}
	if p.UserID == "" {
		return Position{}, missing(ColUserID)
	}
	if p.SecurityID == "" {
		return Position{}, missing(ColSecurityID)
	}

	p.DhanClientID = rd.text(ColDhanClientID)
	p.TradingSymbol = rd.text(ColTradingSymbol)
	p.PositionType = Type(rd.enum(ColPositionType))
	p.ExchangeSegment = ExchangeSegment(rd.enum(ColExchangeSegment))
	p.ProductType = ProductType(rd.enum(ColProductType))

	p.BuyAvg = rd.dec(ColBuyAvg)
	p.BuyQty = rd.qty(ColBuyQty)
	p.CostPrice = rd.dec(ColCostPrice)
	p.SellAvg = rd.dec(ColSellAvg)
	p.SellQty = rd.qty(ColSellQty)
	p.NetQty = rd.qty(ColNetQty)

	p.RealizedProfit = rd.dec(ColRealizedProfit)
	p.UnrealizedProfit = rd.dec(ColUnrealizedProfit)
	p.RBIReferenceRate = rd.dec(ColRBIReferenceRate)
	p.Multiplier = rd.qty(ColMultiplier)

	p.CarryForwardBuyQty = rd.qty(ColCarryForwardBuyQty)
	p.CarryForwardSellQty = rd.qty(ColCarryForwardSellQty)
	p.CarryForwardBuyValue = rd.dec(ColCarryForwardBuyValue)
	p.CarryForwardSellValue = rd.dec(ColCarryForwardSellValue)

	p.DayBuyQty = rd.qty(ColDayBuyQty)
	p.DaySellQty = rd.qty(ColDaySellQty)
	p.DayBuyValue = rd.dec(ColDayBuyValue)
	p.DaySellValue = rd.dec(ColDaySellValue)

	p.DrvExpiryDate = rd.text(ColDrvExpiryDate)
	p.DrvOptionType = OptionType(rd.enum(ColDrvOptionType))
	p.DrvStrikePrice = rd.nullDec(ColDrvStrikePrice)

	p.CrossCurrency = rd.flag(ColCrossCurrency)

	if rd.err != nil {
		return Position{}, rd.err
	}
	return p, nil
}

// OwnerFromRow reads the user-level columns. Values that cannot be coerced
// fall back to their defaults; FromRow is the gate for row validity.
func OwnerFromRow(r Row) Owner {
	rd := reader{row: r}
	o := Owner{
		UserID:       rd.text(ColUserID),
		FirstName:    rd.text(ColFirstName),
		LastName:     rd.text(ColLastName),
		ProfileImage: rd.text(ColProfileImage),
		Balance:      rd.dec(ColBalance),
	}
	if m := rd.text(ColMentorID); m != "" {
		o.MentorID = &m
	}
	if o.ProfileImage == "" {
		o.ProfileImage = DefaultProfileImage
	}
	return o
}

// reader coerces columns and keeps the first error, like bufio.Scanner.
type reader struct {
	row Row
	err error
}

func (rd *reader) fail(err error) {
	if rd.err == nil {
		rd.err = err
	}
}

func (rd *reader) value(col string) (any, bool) {
	v, ok := rd.row[col]
	if !ok || v == nil {
		return nil, false
	}
	if vl, isValuer := v.(driver.Valuer); isValuer {
		dv, err := vl.Value()
		if err != nil {
			rd.fail(badValue(col, v, err))
			return nil, false
		}
		if dv == nil {
			return nil, false
		}
		v = dv
	}
	return v, true
}

func (rd *reader) text(col string) string {
	v, ok := rd.value(col)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case fmt.Stringer:
		return t.String()
	}
	rd.fail(badValue(col, v, nil))
	return ""
}

func (rd *reader) enum(col string) string {
	return strings.ToUpper(rd.text(col))
}

func (rd *reader) dec(col string) decimal.Decimal {
	v, ok := rd.value(col)
	if !ok {
		return decimal.Zero
	}
	d, err := toDecimal(v)
	if err != nil {
		rd.fail(badValue(col, v, err))
		return decimal.Zero
	}
	return d
}

func (rd *reader) nullDec(col string) decimal.NullDecimal {
	v, ok := rd.value(col)
	if !ok {
		return decimal.NullDecimal{}
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	d, err := toDecimal(v)
	if err != nil {
		rd.fail(badValue(col, v, err))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (rd *reader) qty(col string) int64 {
	v, ok := rd.value(col)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			rd.fail(badValue(col, v, errors.New("not a whole number")))
			return 0
		}
		return int64(t)
	}
	d, err := toDecimal(v)
	if err != nil {
		rd.fail(badValue(col, v, err))
		return 0
	}
	if !d.IsInteger() {
		rd.fail(badValue(col, v, errors.New("not a whole number")))
		return 0
	}
	return d.IntPart()
}

func (rd *reader) flag(col string) bool {
	v, ok := rd.value(col)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			rd.fail(badValue(col, v, err))
			return false
		}
		return f != 0
	case string, []byte:
		s := strings.TrimSpace(fmt.Sprintf("%s", t))
		if s == "" {
			return false
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			rd.fail(badValue(col, v, err))
			return false
		}
		return b
	}
	rd.fail(badValue(col, v, nil))
	return false
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return decimal.Zero, errors.New("not a finite number")
		}
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case []byte:
		return toDecimal(string(t))
	}
	return decimal.Zero, fmt.Errorf("unsupported type %T", v)
}

// Text returns a column coerced to text, or "" when absent or not textual.
func (r Row) Text(col string) string {
	rd := reader{row: r}
	return rd.text(col)
}

// ToRow is the inverse of FromRow and OwnerFromRow. Money is written as
// decimal text so it round-trips exactly; unset optional columns are nil.
func ToRow(p Position, o Owner) Row {
	r := Row{
		ColUserID:                p.UserID,
		ColDhanClientID:          p.DhanClientID,
		ColTradingSymbol:         p.TradingSymbol,
		ColSecurityID:            p.SecurityID,
		ColPositionType:          string(p.PositionType),
		ColExchangeSegment:       string(p.ExchangeSegment),
		ColProductType:           string(p.ProductType),
		ColBuyAvg:                p.BuyAvg.String(),
		ColBuyQty:                p.BuyQty,
		ColCostPrice:             p.CostPrice.String(),
		ColSellAvg:               p.SellAvg.String(),
		ColSellQty:               p.SellQty,
		ColNetQty:                p.NetQty,
		ColRealizedProfit:        p.RealizedProfit.String(),
		ColUnrealizedProfit:      p.UnrealizedProfit.String(),
		ColRBIReferenceRate:      p.RBIReferenceRate.String(),
		ColMultiplier:            p.Multiplier,
		ColCarryForwardBuyQty:    p.CarryForwardBuyQty,
		ColCarryForwardSellQty:   p.CarryForwardSellQty,
		ColCarryForwardBuyValue:  p.CarryForwardBuyValue.String(),
		ColCarryForwardSellValue: p.CarryForwardSellValue.String(),
		ColDayBuyQty:             p.DayBuyQty,
		ColDaySellQty:            p.DaySellQty,
		ColDayBuyValue:           p.DayBuyValue.String(),
		ColDaySellValue:          p.DaySellValue.String(),
		ColDrvExpiryDate:         nil,
		ColDrvOptionType:         nil,
		ColDrvStrikePrice:        nil,
		ColCrossCurrency:         p.CrossCurrency,
		ColFirstName:             o.FirstName,
		ColLastName:              o.LastName,
		ColProfileImage:          nil,
		ColMentorID:              nil,
		ColBalance:               o.Balance.String(),
	}
	if p.DrvExpiryDate != "" {
		r[ColDrvExpiryDate] = p.DrvExpiryDate
	}
	if p.DrvOptionType != "" {
		r[ColDrvOptionType] = string(p.DrvOptionType)
	}
	if p.DrvStrikePrice.Valid {
		r[ColDrvStrikePrice] = p.DrvStrikePrice.Decimal.String()
	}
	if o.ProfileImage != "" && o.ProfileImage != DefaultProfileImage {
		r[ColProfileImage] = o.ProfileImage
	}
	if o.MentorID != nil {
		r[ColMentorID] = *o.MentorID
	}
	return r
}
