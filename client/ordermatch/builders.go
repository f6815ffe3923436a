// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ordermatch

import (
	"fmt"
	"math/big"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order validation errors.
const (
	ErrBaseCoinEmpty      = dex.ErrorKind("base coin can not be empty")
	ErrRelCoinEmpty       = dex.ErrorKind("rel coin can not be empty")
	ErrBaseEqualRel       = dex.ErrorKind("rel coin can not be same as base")
	ErrBaseAmountTooLow   = dex.ErrorKind("base amount too low")
	ErrRelAmountTooLow    = dex.ErrorKind("rel amount too low")
	ErrSenderPubkeyIsZero = dex.ErrorKind("sender pubkey can not be zero")
	ErrConfSettingsNotSet = dex.ErrorKind("confirmation settings must be set")
	ErrMaxBaseVolTooLow   = dex.ErrorKind("max base vol too low")
	ErrMinBaseVolTooLow   = dex.ErrorKind("min base vol too low")
	ErrPriceTooLow        = dex.ErrorKind("price too low")
	ErrRelVolTooLow       = dex.ErrorKind("max rel vol too low")
)

// buildError is a validation failure. Actual and Threshold are set for the
// kinds that compare a value to a minimum.
type buildError struct {
	Kind      dex.ErrorKind
	Actual    *big.Rat
	Threshold *big.Rat
}

func (e *buildError) Error() string {
	if e.Actual == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s < min required %s", e.Kind, ratString(e.Actual), ratString(e.Threshold))
}

func (e *buildError) Unwrap() error {
	return e.Kind
}

// TakerRequestBuildError is returned by TakerRequestBuilder.Build.
type TakerRequestBuildError struct {
	buildError
}

// MakerOrderBuildError is returned by MakerOrderBuilder.Build.
type MakerOrderBuildError struct {
	buildError
}

func takerErr(kind dex.ErrorKind, actual, threshold *big.Rat) *TakerRequestBuildError {
	return &TakerRequestBuildError{buildError{kind, actual, threshold}}
}

func makerErr(kind dex.ErrorKind, actual, threshold *big.Rat) *MakerOrderBuildError {
	return &MakerOrderBuildError{buildError{kind, actual, threshold}}
}

// ratDecimal rounds a rational to a decimal with up to 8 places.
func ratDecimal(r *big.Rat) decimal.Decimal {
	num := decimal.NewFromBigInt(r.Num(), 0)
	return num.DivRound(decimal.NewFromBigInt(r.Denom(), 0), 8)
}

func ratString(r *big.Rat) string {
	return ratDecimal(r).String()
}

// TakerRequestBuilder validates and builds taker requests.
type TakerRequestBuilder struct {
	Base         string
	Rel          string
	BaseAmount   *big.Rat
	RelAmount    *big.Rat
	SenderPubkey string
	Action       TakerAction
	MatchBy      *MatchBy
	ConfSettings *asset.OrderConfirmationsSettings
	// MinVolume defaults to MinTradingVol.
	MinVolume *big.Rat
}

// Build checks the builder's fields and creates a request with a new uuid.
func (b *TakerRequestBuilder) Build() (*TakerRequest, error) {
	minVol := b.MinVolume
	if minVol == nil {
		minVol = minTradingVol
	}
	baseAmt, relAmt := b.BaseAmount, b.RelAmount
	if baseAmt == nil {
		baseAmt = new(big.Rat)
	}
	if relAmt == nil {
		relAmt = new(big.Rat)
	}
	switch {
	case b.Base == "":
		return nil, takerErr(ErrBaseCoinEmpty, nil, nil)
	case b.Rel == "":
		return nil, takerErr(ErrRelCoinEmpty, nil, nil)
	case b.Base == b.Rel:
		return nil, takerErr(ErrBaseEqualRel, nil, nil)
	case baseAmt.Cmp(minVol) < 0:
		return nil, takerErr(ErrBaseAmountTooLow, baseAmt, minVol)
	case relAmt.Cmp(minVol) < 0:
		return nil, takerErr(ErrRelAmountTooLow, relAmt, minVol)
	case b.SenderPubkey == "":
		return nil, takerErr(ErrSenderPubkeyIsZero, nil, nil)
	case b.ConfSettings == nil:
		return nil, takerErr(ErrConfSettingsNotSet, nil, nil)
	}
	matchBy := b.MatchBy
	if matchBy == nil {
		matchBy = &MatchBy{Type: MatchAny}
	}
	action := b.Action
	if action == "" {
		action = Buy
	}
	return &TakerRequest{
		Base:         b.Base,
		Rel:          b.Rel,
		BaseAmount:   dex.NewRational(baseAmt),
		RelAmount:    dex.NewRational(relAmt),
		Action:       action,
		UUID:         uuid.New(),
		SenderPubkey: b.SenderPubkey,
		MatchBy:      matchBy,
		ConfSettings: b.ConfSettings,
	}, nil
}

// MakerOrderBuilder validates and builds maker orders.
type MakerOrderBuilder struct {
	Base         string
	Rel          string
	Price        *big.Rat
	MaxBaseVol   *big.Rat
	MinBaseVol   *big.Rat
	ConfSettings *asset.OrderConfirmationsSettings
}

// Build checks the builder's fields and creates an order with a new uuid.
// MinBaseVol defaults to MinTradingVol.
func (b *MakerOrderBuilder) Build(nowMs uint64) (*MakerOrder, error) {
	price, maxVol, minVol := b.Price, b.MaxBaseVol, b.MinBaseVol
	if price == nil {
		price = new(big.Rat)
	}
	if maxVol == nil {
		maxVol = new(big.Rat)
	}
	if minVol == nil {
		minVol = minTradingVol
	}
	switch {
	case b.Base == "":
		return nil, makerErr(ErrBaseCoinEmpty, nil, nil)
	case b.Rel == "":
		return nil, makerErr(ErrRelCoinEmpty, nil, nil)
	case b.Base == b.Rel:
		return nil, makerErr(ErrBaseEqualRel, nil, nil)
	case maxVol.Cmp(minTradingVol) < 0:
		return nil, makerErr(ErrMaxBaseVolTooLow, maxVol, minTradingVol)
	case price.Cmp(minPrice) < 0:
		return nil, makerErr(ErrPriceTooLow, price, minPrice)
	}
	if relVol := new(big.Rat).Mul(maxVol, price); relVol.Cmp(minTradingVol) < 0 {
		return nil, makerErr(ErrRelVolTooLow, relVol, minTradingVol)
	}
	switch {
	case minVol.Cmp(minTradingVol) < 0:
		return nil, makerErr(ErrMinBaseVolTooLow, minVol, minTradingVol)
	case b.ConfSettings == nil:
		return nil, makerErr(ErrConfSettingsNotSet, nil, nil)
	}
	return &MakerOrder{
		MaxBaseVol:   dex.NewRational(maxVol),
		MinBaseVol:   dex.NewRational(minVol),
		Price:        dex.NewRational(price),
		CreatedAt:    nowMs,
		Base:         b.Base,
		Rel:          b.Rel,
		Matches:      make(map[uuid.UUID]*MakerMatch),
		StartedSwaps: []uuid.UUID{},
		UUID:         uuid.New(),
		ConfSettings: b.ConfSettings,
	}, nil
}
