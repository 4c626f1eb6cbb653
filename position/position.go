// Package position holds the canonical position record and the mapper that
// turns one raw backend row into it.
package position

import (
	"github.com/shopspring/decimal"
)

// Type is the direction of a position.
type Type string

const (
	Long   Type = "LONG"
	Short  Type = "SHORT"
	Closed Type = "CLOSED"
)

// ExchangeSegment tags the venue and asset class of an instrument.
type ExchangeSegment string

const (
	NSEEquity   ExchangeSegment = "NSE_EQ"
	NSEFNO      ExchangeSegment = "NSE_FNO"
	NSECurrency ExchangeSegment = "NSE_CURRENCY"
	BSEEquity   ExchangeSegment = "BSE_EQ"
	BSEFNO      ExchangeSegment = "BSE_FNO"
	BSECurrency ExchangeSegment = "BSE_CURRENCY"
	MCXComm     ExchangeSegment = "MCX_COMM"
)

// ProductType is the settlement / margin mode of a position.
type ProductType string

const (
	CNC      ProductType = "CNC"
	Intraday ProductType = "INTRADAY"
	Margin   ProductType = "MARGIN"
	MTF      ProductType = "MTF"
	CO       ProductType = "CO"
	BO       ProductType = "BO"
)

// OptionType is set only for option contracts.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Position is one instrument's state for one user. SecurityID is unique
// within a user's position set and is the identity key for change events.
type Position struct {
	UserID          string          `json:"userId"`
	DhanClientID    string          `json:"dhanClientId"`
	TradingSymbol   string          `json:"tradingSymbol"`
	SecurityID      string          `json:"securityId"`
	PositionType    Type            `json:"positionType"`
	ExchangeSegment ExchangeSegment `json:"exchangeSegment"`
	ProductType     ProductType     `json:"productType"`

	BuyAvg    decimal.Decimal `json:"buyAvg"`
	BuyQty    int64           `json:"buyQty"`
	CostPrice decimal.Decimal `json:"costPrice"`
	SellAvg   decimal.Decimal `json:"sellAvg"`
	SellQty   int64           `json:"sellQty"`
	NetQty    int64           `json:"netQty"`

	RealizedProfit   decimal.Decimal `json:"realizedProfit"`
	UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
	RBIReferenceRate decimal.Decimal `json:"rbiReferenceRate"`
	Multiplier       int64           `json:"multiplier"`

	// prior-session carry forward
	CarryForwardBuyQty    int64           `json:"carryForwardBuyQty"`
	CarryForwardSellQty   int64           `json:"carryForwardSellQty"`
	CarryForwardBuyValue  decimal.Decimal `json:"carryForwardBuyValue"`
	CarryForwardSellValue decimal.Decimal `json:"carryForwardSellValue"`

	// current session
	DayBuyQty    int64           `json:"dayBuyQty"`
	DaySellQty   int64           `json:"daySellQty"`
	DayBuyValue  decimal.Decimal `json:"dayBuyValue"`
	DaySellValue decimal.Decimal `json:"daySellValue"`

	DrvExpiryDate  string              `json:"drvExpiryDate,omitempty"`
	DrvOptionType  OptionType          `json:"drvOptionType,omitempty"`
	DrvStrikePrice decimal.NullDecimal `json:"drvStrikePrice"`

	CrossCurrency bool `json:"crossCurrency"`
}

// TotalProfit is realized plus unrealized profit.
func (p Position) TotalProfit() decimal.Decimal {
	return p.RealizedProfit.Add(p.UnrealizedProfit)
}

// IsDerivative reports whether the row carried any derivative fields.
func (p Position) IsDerivative() bool {
	return p.DrvExpiryDate != "" || p.DrvOptionType != "" || p.DrvStrikePrice.Valid
}

// DefaultProfileImage is used when a row has no profile image.
const DefaultProfileImage = "/avatar.png"

// Owner is the user-level data repeated on every position row.
type Owner struct {
	UserID       string
	FirstName    string
	LastName     string
	ProfileImage string
	MentorID     *string
	Balance      decimal.Decimal
}
